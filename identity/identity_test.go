// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"strings"
	"testing"
)

func TestDeviceListUniqueByPk(t *testing.T) {
	t.Parallel()

	id := Identity{}
	if !id.AddDevice(DeviceEntry{Pk: "aa", Label: "first"}) {
		t.Fatal("adding a new device returned false")
	}
	if id.AddDevice(DeviceEntry{Pk: "aa", Label: "duplicate"}) {
		t.Error("adding a duplicate pk returned true")
	}
	if len(id.Devices) != 1 {
		t.Fatalf("device list has %d entries, want 1", len(id.Devices))
	}
	if id.Devices[0].Label != "first" {
		t.Errorf("duplicate add overwrote the original entry: %q", id.Devices[0].Label)
	}

	if !id.RemoveDevice("aa") {
		t.Fatal("removing a present device returned false")
	}
	if id.RemoveDevice("aa") {
		t.Error("removing an absent device returned true")
	}
}

func TestRequestIDDeterministic(t *testing.T) {
	t.Parallel()

	a := RequestID("alice", "482913", "pk-b")
	b := RequestID("alice", "482913", "pk-b")
	if a != b {
		t.Errorf("same inputs produced different ids: %q vs %q", a, b)
	}
	if a == RequestID("alice", "482913", "pk-c") {
		t.Error("different device pk produced the same id")
	}
	if len(a) != 32 {
		t.Errorf("request id length %d, want 32 hex chars", len(a))
	}
}

func TestChatQueueIDOrderIndependent(t *testing.T) {
	t.Parallel()
	if ChatQueueID("id-a", "id-b") != ChatQueueID("id-b", "id-a") {
		t.Error("queue id depends on argument order")
	}
}

func TestPrivateZoneKeyRotatesWithRoomKey(t *testing.T) {
	t.Parallel()

	k1 := PrivateZoneKey("id-x", "room-1")
	k2 := PrivateZoneKey("id-x", "room-2")
	if k1 == "" || k2 == "" {
		t.Fatal("derived zone key is empty")
	}
	if k1 == k2 {
		t.Error("zone key did not change with the room key")
	}
	if PrivateZoneKey("", "room-1") != "" || PrivateZoneKey("id-x", "") != "" {
		t.Error("zone key derived from incomplete inputs")
	}
}

func TestKeyringSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	sender, err := NewKeyring()
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	recipient, err := NewKeyring()
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}

	sealed, err := sender.Seal(recipient.EncPk(), []byte("room key material"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	plain, err := recipient.Open(sender.EncPk(), sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plain) != "room key material" {
		t.Errorf("opened %q, want %q", plain, "room key material")
	}

	// A third party cannot open the box.
	eavesdropper, err := NewKeyring()
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	if _, err := eavesdropper.Open(sender.EncPk(), sealed); err == nil {
		t.Error("non-recipient opened the sealed box")
	}
}

func TestKeyringPersistRoundTrip(t *testing.T) {
	t.Parallel()

	kr, err := NewKeyring()
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}

	loaded, err := LoadKeyring(kr.Record())
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}
	if loaded.Pk() != kr.Pk() {
		t.Errorf("signing pk changed across persist: %q vs %q", loaded.Pk(), kr.Pk())
	}
	if loaded.EncPk() != kr.EncPk() {
		t.Errorf("encryption pk changed across persist: %q vs %q", loaded.EncPk(), kr.EncPk())
	}

	message := []byte("signed after reload")
	if !Verify(kr.Pk(), message, loaded.Sign(message)) {
		t.Error("signature from reloaded keyring does not verify")
	}
}

func TestSignVerify(t *testing.T) {
	t.Parallel()

	kr, err := NewKeyring()
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}

	msg := []byte("event id bytes")
	sig := kr.Sign(msg)
	if !Verify(kr.Pk(), msg, sig) {
		t.Fatal("valid signature rejected")
	}
	if Verify(kr.Pk(), []byte("other"), sig) {
		t.Error("signature over different message accepted")
	}
	if Verify(strings.Repeat("00", 32), msg, sig) {
		t.Error("signature under wrong key accepted")
	}
}

func TestZoneSnapshotUpsert(t *testing.T) {
	t.Parallel()

	var snap ZoneSnapshot
	snap.Upsert(ZoneMember{DevicePk: "a"}, 10)
	snap.Upsert(ZoneMember{DevicePk: "b"}, 20)
	snap.Upsert(ZoneMember{DevicePk: "a", PeerHint: "addr"}, 30)

	if len(snap.Members) != 2 {
		t.Fatalf("snapshot has %d members, want 2", len(snap.Members))
	}
	if snap.Members[0].DevicePk != "a" || snap.Members[0].PeerHint != "addr" {
		t.Errorf("upsert did not move refreshed member to front: %+v", snap.Members)
	}
	if snap.TS != 30 {
		t.Errorf("snapshot ts %d, want 30", snap.TS)
	}
}
