// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"strings"
	"testing"

	"github.com/constitute-foundation/constitute/identity"
)

func newTestKeys(t *testing.T) *identity.Keyring {
	t.Helper()
	keys, err := identity.NewKeyring()
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return keys
}

func TestSignVerifyEvent(t *testing.T) {
	t.Parallel()
	keys := newTestKeys(t)

	event := &Event{
		Kind:      KindApp,
		CreatedAt: 1700000000,
		Tags:      [][]string{{TagApp, "constitute"}},
		Content:   `{"kind":"identity_created","payload":{}}`,
	}
	if err := event.Sign(keys); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !event.Verify() {
		t.Fatal("freshly signed event does not verify")
	}

	// Tampering with any committed field must break verification.
	tampered := *event
	tampered.Content = strings.Replace(event.Content, "identity_created", "pair_approve", 1)
	if tampered.Verify() {
		t.Error("event with altered content verified")
	}

	tampered = *event
	tampered.CreatedAt++
	if tampered.Verify() {
		t.Error("event with altered timestamp verified")
	}

	tampered = *event
	tampered.Pubkey = newTestKeys(t).Pk()
	if tampered.Verify() {
		t.Error("event with swapped pubkey verified")
	}
}

func TestVerifyMalformedEvent(t *testing.T) {
	t.Parallel()
	if (&Event{}).Verify() {
		t.Error("zero event verified")
	}
	if (&Event{ID: "zz", Pubkey: "zz", Sig: "zz"}).Verify() {
		t.Error("non-hex event verified")
	}
}

func TestTags(t *testing.T) {
	t.Parallel()
	event := &Event{Tags: [][]string{
		{TagApp, "constitute"},
		{TagIdentity, "alice"},
		{"short"},
	}}

	if got, ok := event.Tag(TagIdentity); !ok || got != "alice" {
		t.Errorf("Tag(i) = %q, %v; want alice, true", got, ok)
	}
	if _, ok := event.Tag(TagTarget); ok {
		t.Error("Tag found a missing key")
	}
	if !event.HasTag(TagApp, "constitute") {
		t.Error("HasTag missed the app tag")
	}
	if event.HasTag(TagApp, "other") {
		t.Error("HasTag matched a wrong value")
	}
}

func TestPlainContentRoundTrip(t *testing.T) {
	t.Parallel()

	content, err := BuildPlain("pair_request", map[string]string{"code": "482913"})
	if err != nil {
		t.Fatalf("BuildPlain: %v", err)
	}

	kind, payload, err := OpenContent(content, nil, "sender", 123)
	if err != nil {
		t.Fatalf("OpenContent: %v", err)
	}
	if kind != "pair_request" {
		t.Errorf("kind = %q, want pair_request", kind)
	}
	if !strings.Contains(string(payload), "482913") {
		t.Errorf("payload %q lost the code", payload)
	}
}

func TestEncryptedContentRoundTrip(t *testing.T) {
	t.Parallel()

	roomKey, err := identity.NewRoomKey()
	if err != nil {
		t.Fatalf("NewRoomKey: %v", err)
	}
	rc, err := NewRoomCipher("room-1", roomKey)
	if err != nil {
		t.Fatalf("NewRoomCipher: %v", err)
	}

	content, err := BuildEncrypted(rc, "zone_presence", "sender-pk", 1700000000, map[string]string{"zone": "z1"})
	if err != nil {
		t.Fatalf("BuildEncrypted: %v", err)
	}

	kind, payload, err := OpenContent(content, rc, "sender-pk", 1700000000)
	if err != nil {
		t.Fatalf("OpenContent: %v", err)
	}
	if kind != "zone_presence" {
		t.Errorf("kind = %q, want zone_presence", kind)
	}
	if !strings.Contains(string(payload), "z1") {
		t.Errorf("payload %q lost the zone", payload)
	}
}

func TestEncryptedContentContextBinding(t *testing.T) {
	t.Parallel()

	roomKey, err := identity.NewRoomKey()
	if err != nil {
		t.Fatalf("NewRoomKey: %v", err)
	}
	rc, err := NewRoomCipher("room-1", roomKey)
	if err != nil {
		t.Fatalf("NewRoomCipher: %v", err)
	}

	content, err := BuildEncrypted(rc, "chat_message", "sender-pk", 1700000000, map[string]string{"body": "hi"})
	if err != nil {
		t.Fatalf("BuildEncrypted: %v", err)
	}

	// Replaying under a different sender or timestamp must fail: the
	// AEAD's additional data covers both.
	if _, _, err := OpenContent(content, rc, "other-pk", 1700000000); err == nil {
		t.Error("ciphertext opened under a different sender")
	}
	if _, _, err := OpenContent(content, rc, "sender-pk", 1700000001); err == nil {
		t.Error("ciphertext opened under a different timestamp")
	}

	// Swapping the visible inner type must fail for the same reason.
	swapped := strings.Replace(content, "chat_message", "zone_presence", 1)
	if _, _, err := OpenContent(swapped, rc, "sender-pk", 1700000000); err == nil {
		t.Error("ciphertext opened with a swapped inner type")
	}
}

func TestEncryptedContentRoomRouting(t *testing.T) {
	t.Parallel()

	keyA, _ := identity.NewRoomKey()
	keyB, _ := identity.NewRoomKey()
	rcA, err := NewRoomCipher("room-a", keyA)
	if err != nil {
		t.Fatalf("NewRoomCipher: %v", err)
	}
	rcB, err := NewRoomCipher("room-b", keyB)
	if err != nil {
		t.Fatalf("NewRoomCipher: %v", err)
	}

	content, err := BuildEncrypted(rcA, "zone_list", "pk", 1, map[string]any{})
	if err != nil {
		t.Fatalf("BuildEncrypted: %v", err)
	}

	if _, _, err := OpenContent(content, nil, "pk", 1); !errors.Is(err, ErrNoRoomKey) {
		t.Errorf("no room key: err = %v, want ErrNoRoomKey", err)
	}
	if _, _, err := OpenContent(content, rcB, "pk", 1); !errors.Is(err, ErrWrongRoom) {
		t.Errorf("wrong room: err = %v, want ErrWrongRoom", err)
	}
}

func TestForwardSecrecyAfterRotation(t *testing.T) {
	t.Parallel()

	oldKey, _ := identity.NewRoomKey()
	newKey, _ := identity.NewRoomKey()
	oldCipher, err := NewRoomCipher("room-1", oldKey)
	if err != nil {
		t.Fatalf("NewRoomCipher: %v", err)
	}
	newCipher, err := NewRoomCipher("room-1", newKey)
	if err != nil {
		t.Fatalf("NewRoomCipher: %v", err)
	}

	// Content published after rotation is opaque to the old key.
	content, err := BuildEncrypted(newCipher, "chat_message", "pk", 99, map[string]string{"body": "post-rotation"})
	if err != nil {
		t.Fatalf("BuildEncrypted: %v", err)
	}
	if _, _, err := OpenContent(content, oldCipher, "pk", 99); err == nil {
		t.Error("pre-rotation key decrypted post-rotation content")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	keys := newTestKeys(t)

	event := &Event{Kind: KindApp, CreatedAt: 42, Tags: [][]string{{TagApp, "constitute"}}, Content: "{}"}
	if err := event.Sign(keys); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	raw, err := EventFrame(event)
	if err != nil {
		t.Fatalf("EventFrame: %v", err)
	}
	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if frame.Type != FrameEvent || frame.Event == nil {
		t.Fatalf("parsed frame %+v, want EVENT with event", frame)
	}
	if frame.Event.ID != event.ID {
		t.Errorf("event id changed across frame round trip")
	}
	if !frame.Event.Verify() {
		t.Error("event no longer verifies after frame round trip")
	}
}

func TestParseFrameSubscribedForm(t *testing.T) {
	t.Parallel()

	raw := []byte(`["EVENT","sub-1",{"id":"","pubkey":"","created_at":1,"kind":1,"tags":[],"content":"{}","sig":""}]`)
	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if frame.SubID != "sub-1" {
		t.Errorf("SubID = %q, want sub-1", frame.SubID)
	}
}

func TestParseFrameMalformed(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not json", "[]", `["EVENT"]`} {
		if _, err := ParseFrame([]byte(raw)); err == nil {
			t.Errorf("ParseFrame(%q) succeeded, want error", raw)
		}
	}
}

func TestBootstrapKinds(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"identity_created", "pair_request", "pair_approve", "pair_reject", "pair_resolved", "device_revoked", "device_blocked"} {
		if !Bootstrap(kind) {
			t.Errorf("Bootstrap(%q) = false, want true", kind)
		}
	}
	for _, kind := range []string{"zone_presence", "room_key_update", "chat_message", "profile_update"} {
		if Bootstrap(kind) {
			t.Errorf("Bootstrap(%q) = true, want false", kind)
		}
	}
}
