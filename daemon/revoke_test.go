// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"testing"

	"github.com/constitute-foundation/constitute/identity"
	"github.com/constitute-foundation/constitute/lib/clock"
	"github.com/constitute-foundation/constitute/relay"
)

func TestRevocationUnlinksTarget(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	hub := relay.NewMemory()
	clk := clock.NewFake()
	a := newNode(t, hub, clk, "laptop")
	b := newNode(t, hub, clk, "phone")

	a.mustCall(ctx, "identity.create", map[string]string{"label": "alice"})
	pair(ctx, t, a, b, "alice")

	a.mustCall(ctx, "device.revoke", map[string]string{"targetPk": b.d.DevicePk()})
	settle(ctx, a, b)

	idA := a.identity(ctx)
	if len(idA.Devices) != 1 || idA.Devices[0].Pk != a.d.DevicePk() {
		t.Fatalf("revoker devices = %+v, want only itself", idA.Devices)
	}
	if got := b.identity(ctx); got.Linked {
		t.Fatalf("revoked device still linked")
	}

	blocked := a.mustCall(ctx, "blocked.list", nil).([]identity.BlockEntry)
	if len(blocked) != 1 || blocked[0].Pk != b.d.DevicePk() || blocked[0].Reason != "revoked" {
		t.Fatalf("blocklist = %+v", blocked)
	}
}

func TestRevocationRotatesRoomKeyForSurvivors(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	hub := relay.NewMemory()
	clk := clock.NewFake()
	a := newNode(t, hub, clk, "laptop")
	b := newNode(t, hub, clk, "phone")
	c := newNode(t, hub, clk, "tablet")

	a.mustCall(ctx, "identity.create", map[string]string{"label": "alice"})
	pair(ctx, t, a, b, "alice")
	pair(ctx, t, a, c, "alice")

	oldKey := a.identity(ctx).RoomKey

	a.mustCall(ctx, "device.revoke", map[string]string{"targetPk": c.d.DevicePk()})
	settle(ctx, a, b, c)

	idA := a.identity(ctx)
	idB := b.identity(ctx)
	if idA.RoomKey == oldKey {
		t.Fatalf("room key not rotated")
	}
	if idB.RoomKey != idA.RoomKey {
		t.Fatalf("survivor did not adopt the rotated key")
	}
	if idB.HasDevice(c.d.DevicePk()) {
		t.Fatalf("survivor still lists the revoked device")
	}
	if got := c.identity(ctx); got.Linked {
		t.Fatalf("revoked device still linked")
	}

	// Forward secrecy: identity-internal traffic after rotation reaches
	// the survivor but is opaque to the revoked device.
	a.mustCall(ctx, "identity.setLabel", map[string]string{"label": "alicia"})
	settle(ctx, a, b, c)
	if got := b.identity(ctx); got.Label != "alicia" {
		t.Fatalf("survivor label = %q, want alicia", got.Label)
	}
	if got := c.identity(ctx); got.Label == "alicia" {
		t.Fatalf("revoked device decrypted post-rotation traffic")
	}

	// Every surviving member converged on the blocklist independently.
	for _, n := range []*node{a, b} {
		blocked := n.mustCall(ctx, "blocked.list", nil).([]identity.BlockEntry)
		if len(blocked) != 1 || blocked[0].Pk != c.d.DevicePk() {
			t.Fatalf("blocklist = %+v, want revoked device", blocked)
		}
	}
}

func TestRevokeValidation(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	hub := relay.NewMemory()
	clk := clock.NewFake()
	a := newNode(t, hub, clk, "laptop")

	// Not linked yet.
	_, err := a.call(ctx, "device.revoke", map[string]string{"targetPk": "somebody"})
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeState {
		t.Fatalf("unlinked revoke error = %v, want state", err)
	}

	a.mustCall(ctx, "identity.create", map[string]string{"label": "alice"})

	_, err = a.call(ctx, "device.revoke", map[string]string{"targetPk": a.d.DevicePk()})
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeValidation {
		t.Fatalf("self revoke error = %v, want validation", err)
	}

	_, err = a.call(ctx, "device.revoke", map[string]string{"targetPk": "not-a-member"})
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeNotFound {
		t.Fatalf("non-member revoke error = %v, want not_found", err)
	}
}

func TestBlockedSenderIsDropped(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	hub := relay.NewMemory()
	clk := clock.NewFake()
	a := newNode(t, hub, clk, "laptop")
	b := newNode(t, hub, clk, "phone")

	a.mustCall(ctx, "identity.create", map[string]string{"label": "alice"})
	settle(ctx, a, b)

	if _, err := a.st.AddBlock(ctx, identity.BlockEntry{Pk: b.d.DevicePk(), Reason: "test"}); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	// A pair request from a blocked device must leave no trace.
	b.mustCall(ctx, "identity.requestPair", map[string]string{"identityLabel": "alice"})
	settle(ctx, a, b)

	pending := a.mustCall(ctx, "pairing.list", nil).([]identity.PendingRequest)
	if len(pending) != 0 {
		t.Fatalf("blocked sender produced %d pending requests", len(pending))
	}
}

func TestUnblockPropagates(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	hub := relay.NewMemory()
	clk := clock.NewFake()
	a := newNode(t, hub, clk, "laptop")
	b := newNode(t, hub, clk, "phone")
	c := newNode(t, hub, clk, "tablet")

	a.mustCall(ctx, "identity.create", map[string]string{"label": "alice"})
	pair(ctx, t, a, b, "alice")
	pair(ctx, t, a, c, "alice")

	a.mustCall(ctx, "device.revoke", map[string]string{"targetPk": c.d.DevicePk()})
	settle(ctx, a, b, c)

	a.mustCall(ctx, "blocked.remove", map[string]string{"pk": c.d.DevicePk()})
	settle(ctx, a, b, c)

	for _, n := range []*node{a, b} {
		blocked := n.mustCall(ctx, "blocked.list", nil).([]identity.BlockEntry)
		if len(blocked) != 0 {
			t.Fatalf("blocklist after unblock = %+v, want empty", blocked)
		}
	}
}
