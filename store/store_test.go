// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"testing"

	"github.com/constitute-foundation/constitute/identity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetPutDelete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	var got string
	ok, err := s.Get(ctx, "missing", &got)
	if err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v; want false, nil", ok, err)
	}

	if err := s.Put(ctx, "greeting", "hello"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err = s.Get(ctx, "greeting", &got)
	if err != nil || !ok || got != "hello" {
		t.Fatalf("Get = %q, %v, %v; want hello, true, nil", got, ok, err)
	}

	if err := s.Put(ctx, "greeting", "replaced"); err != nil {
		t.Fatalf("Put(overwrite): %v", err)
	}
	if _, err := s.Get(ctx, "greeting", &got); err != nil || got != "replaced" {
		t.Fatalf("Get after overwrite = %q, %v", got, err)
	}

	if err := s.Delete(ctx, "greeting"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Get(ctx, "greeting", &got); ok {
		t.Error("key survived Delete")
	}
	if err := s.Delete(ctx, "greeting"); err != nil {
		t.Errorf("Delete(absent) = %v, want nil", err)
	}
}

func TestDeviceAndIdentityRecords(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	if _, ok, err := s.Device(ctx); ok || err != nil {
		t.Fatalf("Device on empty store = %v, %v", ok, err)
	}

	dev := identity.Device{DeviceID: "d1", Label: "laptop", DID: "did:device:soft:abc"}
	if err := s.SetDevice(ctx, dev); err != nil {
		t.Fatalf("SetDevice: %v", err)
	}
	got, ok, err := s.Device(ctx)
	if err != nil || !ok || got.Label != "laptop" {
		t.Fatalf("Device = %+v, %v, %v", got, ok, err)
	}

	id := identity.Identity{ID: "i1", Label: "alice", Linked: true, RoomKey: "k",
		Devices: []identity.DeviceEntry{{Pk: "pk1", Label: "laptop"}}}
	if err := s.SetIdentity(ctx, id); err != nil {
		t.Fatalf("SetIdentity: %v", err)
	}
	gotID, ok, err := s.Identity(ctx)
	if err != nil || !ok {
		t.Fatalf("Identity = %v, %v", ok, err)
	}
	if len(gotID.Devices) != 1 || gotID.Devices[0].Pk != "pk1" {
		t.Errorf("Identity devices = %+v", gotID.Devices)
	}
}

func TestNotificationCapAndFlags(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	for i := 0; i < MaxNotifications+10; i++ {
		n := identity.Notification{ID: fmt.Sprintf("n%d", i), Kind: "test", CreatedAt: int64(i)}
		if err := s.AddNotification(ctx, n); err != nil {
			t.Fatalf("AddNotification(%d): %v", i, err)
		}
	}

	list, err := s.Notifications(ctx)
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(list) != MaxNotifications {
		t.Fatalf("len = %d, want %d", len(list), MaxNotifications)
	}
	// Newest first; the oldest ten were trimmed.
	if list[0].ID != fmt.Sprintf("n%d", MaxNotifications+9) {
		t.Errorf("front = %s, want newest", list[0].ID)
	}

	if err := s.MarkNotificationRead(ctx, list[3].ID); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	list, _ = s.Notifications(ctx)
	if !list[3].Read {
		t.Error("notification not marked read")
	}

	if err := s.RemoveNotification(ctx, list[3].ID); err != nil {
		t.Fatalf("RemoveNotification: %v", err)
	}
	if got, _ := s.Notifications(ctx); len(got) != MaxNotifications-1 {
		t.Errorf("len after remove = %d", len(got))
	}

	if err := s.ClearNotifications(ctx); err != nil {
		t.Fatalf("ClearNotifications: %v", err)
	}
	if got, _ := s.Notifications(ctx); len(got) != 0 {
		t.Errorf("len after clear = %d", len(got))
	}
}

func TestPendingRequestUpsert(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	req := identity.PendingRequest{ID: "r1", Code: "123456", Status: identity.StatusPending}
	if err := s.PutPendingRequest(ctx, req); err != nil {
		t.Fatalf("PutPendingRequest: %v", err)
	}
	// A relay echo of the same request must not duplicate it.
	if err := s.PutPendingRequest(ctx, req); err != nil {
		t.Fatalf("PutPendingRequest(echo): %v", err)
	}
	list, err := s.PendingRequests(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("PendingRequests = %d entries, %v; want 1", len(list), err)
	}

	req.Status = identity.StatusApproved
	if err := s.PutPendingRequest(ctx, req); err != nil {
		t.Fatalf("PutPendingRequest(update): %v", err)
	}
	got, ok, err := s.PendingRequest(ctx, "r1")
	if err != nil || !ok || got.Status != identity.StatusApproved {
		t.Fatalf("PendingRequest = %+v, %v, %v", got, ok, err)
	}
}

func TestBlocklist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	added, err := s.AddBlock(ctx, identity.BlockEntry{Pk: "pk1", Reason: "revoked"})
	if err != nil || !added {
		t.Fatalf("AddBlock = %v, %v", added, err)
	}
	added, err = s.AddBlock(ctx, identity.BlockEntry{Pk: "pk1", Reason: "again"})
	if err != nil || added {
		t.Fatalf("duplicate AddBlock = %v, %v; want false", added, err)
	}

	if blocked, _ := s.IsBlocked(ctx, "pk1", ""); !blocked {
		t.Error("pk1 not blocked")
	}
	if blocked, _ := s.IsBlocked(ctx, "pk2", ""); blocked {
		t.Error("pk2 blocked")
	}
	// Empty identifiers never match an entry.
	if blocked, _ := s.IsBlocked(ctx, "", ""); blocked {
		t.Error("empty pk matched a block entry")
	}

	removed, err := s.RemoveBlock(ctx, "pk1", "")
	if err != nil || !removed {
		t.Fatalf("RemoveBlock = %v, %v", removed, err)
	}
	if blocked, _ := s.IsBlocked(ctx, "pk1", ""); blocked {
		t.Error("pk1 still blocked after removal")
	}
}

func TestZoneLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	added, err := s.AddZone(ctx, identity.Zone{Key: "z1", Name: "office"})
	if err != nil || !added {
		t.Fatalf("AddZone = %v, %v", added, err)
	}
	if added, _ := s.AddZone(ctx, identity.Zone{Key: "z1", Name: "other"}); added {
		t.Error("duplicate zone key added")
	}

	if changed, _ := s.RenameZone(ctx, "z1", "hq"); !changed {
		t.Error("RenameZone did not change")
	}
	zones, _ := s.Zones(ctx)
	if len(zones) != 1 || zones[0].Name != "hq" {
		t.Errorf("zones = %+v", zones)
	}

	snap := identity.ZoneSnapshot{TS: 5, Members: []identity.ZoneMember{{DevicePk: "pk1"}}}
	if err := s.SetZoneSnapshot(ctx, "z1", snap); err != nil {
		t.Fatalf("SetZoneSnapshot: %v", err)
	}
	got, ok, err := s.ZoneSnapshot(ctx, "z1")
	if err != nil || !ok || len(got.Members) != 1 {
		t.Fatalf("ZoneSnapshot = %+v, %v, %v", got, ok, err)
	}

	removed, err := s.RemoveZone(ctx, "z1")
	if err != nil || !removed {
		t.Fatalf("RemoveZone = %v, %v", removed, err)
	}
	if _, ok, _ := s.ZoneSnapshot(ctx, "z1"); ok {
		t.Error("snapshot survived zone removal")
	}
}

func TestZoneCap(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	for i := 0; i < MaxZones+5; i++ {
		if _, err := s.AddZone(ctx, identity.Zone{Key: fmt.Sprintf("z%d", i)}); err != nil {
			t.Fatalf("AddZone(%d): %v", i, err)
		}
	}
	zones, err := s.Zones(ctx)
	if err != nil {
		t.Fatalf("Zones: %v", err)
	}
	if len(zones) != MaxZones {
		t.Fatalf("len = %d, want %d", len(zones), MaxZones)
	}
	if zones[len(zones)-1].Key != fmt.Sprintf("z%d", MaxZones+4) {
		t.Errorf("newest zone missing, tail = %s", zones[len(zones)-1].Key)
	}
}

func TestDirectoryUpsert(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	first := identity.DirectoryEntry{IdentityID: "i1", IdentityLabel: "alice", ZoneKey: "z1", LastSeen: 1}
	if err := s.UpsertDirectory(ctx, first); err != nil {
		t.Fatalf("UpsertDirectory: %v", err)
	}
	if err := s.UpsertDirectory(ctx, identity.DirectoryEntry{IdentityID: "i2", IdentityLabel: "bob", LastSeen: 2}); err != nil {
		t.Fatalf("UpsertDirectory: %v", err)
	}

	// A later sighting without a zone keeps the known zone and moves the
	// entry to the front.
	if err := s.UpsertDirectory(ctx, identity.DirectoryEntry{IdentityID: "i1", LastSeen: 3}); err != nil {
		t.Fatalf("UpsertDirectory(resight): %v", err)
	}

	list, err := s.Directory(ctx)
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].IdentityID != "i1" || list[0].ZoneKey != "z1" || list[0].IdentityLabel != "alice" {
		t.Errorf("front = %+v", list[0])
	}
	if list[0].LastSeen != 3 {
		t.Errorf("LastSeen = %d, want 3", list[0].LastSeen)
	}
}

func TestChatAppendDedupAndCap(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	msg := identity.ChatMessage{ID: "m1", QueueID: "q1", Body: "hi", TS: 1}
	added, err := s.AppendChat(ctx, msg)
	if err != nil || !added {
		t.Fatalf("AppendChat = %v, %v", added, err)
	}
	if added, _ := s.AppendChat(ctx, msg); added {
		t.Error("duplicate message appended")
	}

	for i := 0; i < MaxChatMessages+3; i++ {
		m := identity.ChatMessage{ID: fmt.Sprintf("m%d", i+2), QueueID: "q1", TS: int64(i + 2)}
		if _, err := s.AppendChat(ctx, m); err != nil {
			t.Fatalf("AppendChat(%d): %v", i, err)
		}
	}

	list, err := s.Chat(ctx, "q1")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(list) != MaxChatMessages {
		t.Fatalf("len = %d, want %d", len(list), MaxChatMessages)
	}
	// Oldest trimmed, newest kept at the tail.
	if list[0].ID == "m1" {
		t.Error("oldest message survived the cap")
	}
	if list[len(list)-1].ID != fmt.Sprintf("m%d", MaxChatMessages+4) {
		t.Errorf("tail = %s", list[len(list)-1].ID)
	}
}

func TestReplayWindowRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	entries := []ReplayEntry{{ID: "e1", TS: 10}, {ID: "e2", TS: 20}}
	if err := s.SetReplayWindow(ctx, "alice", entries); err != nil {
		t.Fatalf("SetReplayWindow: %v", err)
	}
	got, err := s.ReplayWindow(ctx, "alice")
	if err != nil {
		t.Fatalf("ReplayWindow: %v", err)
	}
	if len(got) != 2 || got[1].ID != "e2" {
		t.Errorf("ReplayWindow = %+v", got)
	}
	if other, _ := s.ReplayWindow(ctx, "bob"); len(other) != 0 {
		t.Errorf("windows not scoped by label: %+v", other)
	}
}

func TestOpenMemoryIsIsolated(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	a := newTestStore(t)
	b := newTestStore(t)

	if err := a.Put(ctx, "greeting", "hello"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	var got string
	ok, err := b.Get(ctx, "greeting", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("second in-memory store sees the first store's data")
	}
}
