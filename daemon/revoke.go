// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"

	"github.com/constitute-foundation/constitute/identity"
	"github.com/constitute-foundation/constitute/wire"
)

type revokeParams struct {
	TargetPk string `json:"targetPk"`
}

// rpcDeviceRevoke removes a device from the identity with forward-
// secure key rotation. The order is deliberate:
//
//  1. blocklist the target, so local state reflects the revocation
//     even if every broadcast fails;
//  2. drop it from the device list;
//  3. rotate the room key and persist;
//  4. broadcast the plaintext markers, reaching the revoked device too;
//  5. seal the new key to each survivor individually.
//
// The new key travels only inside per-recipient sealed boxes; the
// outer room_key_update wrapper uses the PRE-rotation key, which every
// survivor still holds and which reveals nothing (the sealed box is
// the protection, not the wrapper).
func (d *Daemon) rpcDeviceRevoke(ctx context.Context, p revokeParams) (any, error) {
	if p.TargetPk == "" {
		return nil, validationErr("targetPk required")
	}
	if p.TargetPk == d.keys.Pk() {
		return nil, validationErr("cannot revoke this device; pair another device first")
	}
	id, err := d.requireLinkedLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !id.HasDevice(p.TargetPk) {
		return nil, notFoundErr("device %s is not a member", p.TargetPk)
	}
	oldCipher := d.cipher

	if _, err := d.cfg.Store.AddBlock(ctx, identity.BlockEntry{
		Pk:     p.TargetPk,
		Reason: "revoked",
		TS:     d.clk.Now().Unix(),
	}); err != nil {
		return nil, err
	}

	id.RemoveDevice(p.TargetPk)
	newKey, err := identity.NewRoomKey()
	if err != nil {
		return nil, cryptoErr("generating room key: %v", err)
	}
	id.RoomKey = newKey
	if err := d.setIdentityLocked(ctx, id); err != nil {
		return nil, err
	}

	if _, err := d.publishLocked(kindDeviceRevoked, deviceRevokedPayload{
		Identity: id.Label,
		TargetPk: p.TargetPk,
	}, nil, identityTag(id.Label), targetTag(p.TargetPk)); err != nil {
		d.logger.Warn("device_revoked not published", "error", err)
	}
	if _, err := d.publishLocked(kindDeviceBlocked, deviceBlockedPayload{
		Identity: id.Label,
		TargetPk: p.TargetPk,
		Reason:   "revoked",
	}, nil, identityTag(id.Label)); err != nil {
		d.logger.Warn("device_blocked not published", "error", err)
	}

	grant, err := json.Marshal(roomKeyGrant{IdentityID: id.ID, RoomKey: newKey})
	if err != nil {
		return nil, err
	}
	for _, dev := range id.Devices {
		if dev.Pk == d.keys.Pk() {
			continue
		}
		if dev.EncPk == "" {
			d.logger.Warn("survivor has no encryption key, skipping key update", "pk", dev.Pk)
			continue
		}
		sealed, err := d.keys.Seal(dev.EncPk, grant)
		if err != nil {
			d.logger.Error("sealing room key update failed", "pk", dev.Pk, "error", err)
			continue
		}
		if _, err := d.publishLocked(kindRoomKeyUpdate, roomKeyUpdatePayload{
			Identity:         id.Label,
			ToPk:             dev.Pk,
			FromPk:           d.keys.Pk(),
			FromEncPk:        d.keys.EncPk(),
			EncryptedRoomKey: sealed,
		}, oldCipher, identityTag(id.Label), targetTag(dev.Pk)); err != nil {
			d.logger.Warn("room_key_update not published", "pk", dev.Pk, "error", err)
		}
	}

	d.publishIdentityRecordLocked(ctx, id)
	d.logger.Info("device revoked", "target", p.TargetPk)
	// The caller gets the post-revocation membership, key withheld.
	id.RoomKey = ""
	return id, nil
}

// --- inbound handlers ---

func (d *Daemon) onDeviceRevoked(ctx context.Context, _ *wire.Event, payload json.RawMessage) error {
	var p deviceRevokedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked || id.Label != p.Identity {
		return err
	}

	if p.TargetPk == d.keys.Pk() {
		// This device was revoked: unlink immediately. The room key is
		// already rotated away from us; keeping stale material helps
		// nobody.
		unlinked := identity.Identity{Label: id.Label}
		if err := d.setIdentityLocked(ctx, unlinked); err != nil {
			return err
		}
		d.notifyLocked(ctx, "device_revoked", "Device revoked",
			"This device was removed from "+p.Identity, nil)
		d.logger.Info("unlinked by revocation", "identity", p.Identity)
		return nil
	}

	// Converge on membership and blocklist independently of whether the
	// room_key_update for us ever arrives.
	if id.RemoveDevice(p.TargetPk) {
		if err := d.setIdentityLocked(ctx, id); err != nil {
			return err
		}
	}
	_, err = d.cfg.Store.AddBlock(ctx, identity.BlockEntry{
		Pk:     p.TargetPk,
		Reason: "revoked",
		TS:     d.clk.Now().Unix(),
	})
	return err
}

func (d *Daemon) onDeviceBlocked(ctx context.Context, ev *wire.Event, payload json.RawMessage) error {
	var p deviceBlockedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.TargetPk == "" || p.TargetPk == d.keys.Pk() {
		// Being told we are blocked is not a reason to blocklist
		// ourselves; device_revoked handles our own unlinking.
		return nil
	}
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked || id.Label != p.Identity {
		return err
	}
	reason := p.Reason
	if reason == "" {
		reason = "blocked"
	}
	_, err = d.cfg.Store.AddBlock(ctx, identity.BlockEntry{
		Pk:     p.TargetPk,
		Reason: reason,
		TS:     ev.CreatedAt,
	})
	return err
}

func (d *Daemon) onDeviceUnblocked(ctx context.Context, _ *wire.Event, payload json.RawMessage) error {
	var p deviceUnblockedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked || id.Label != p.Identity {
		return err
	}
	_, err = d.cfg.Store.RemoveBlock(ctx, p.TargetPk, "")
	return err
}

func (d *Daemon) onRoomKeyUpdate(ctx context.Context, _ *wire.Event, payload json.RawMessage) error {
	var p roomKeyUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.ToPk != d.keys.Pk() {
		return nil
	}
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked || id.Label != p.Identity {
		return err
	}

	grantRaw, err := d.keys.Open(p.FromEncPk, p.EncryptedRoomKey)
	if err != nil {
		// Non-fatal: the sender may be using keys we no longer trust.
		d.logger.Warn("room key update did not open", "from", p.FromPk, "error", err)
		return nil
	}
	var grant roomKeyGrant
	if err := json.Unmarshal(grantRaw, &grant); err != nil {
		return err
	}
	if grant.IdentityID != id.ID || grant.RoomKey == "" {
		return nil
	}

	id.RoomKey = grant.RoomKey
	if err := d.setIdentityLocked(ctx, id); err != nil {
		return err
	}
	d.logger.Info("room key rotated", "identity", id.Label)
	return nil
}
