// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"

	"github.com/constitute-foundation/constitute/identity"
)

// Record keys. Fixed keys are whole-record values; the prefixed forms
// are composed with their scope suffix.
const (
	KeyDevice         = "device"
	KeyIdentity       = "identity"
	KeyProfile        = "profile"
	KeyNotifications  = "notifications"
	KeyPairPending    = "pairPending"
	KeyBlocked        = "blockedDevices"
	KeyDirectory      = "directory"
	KeyZones          = "zones"
	KeyPendingZoneKey = "pendingZoneKey"

	prefixZoneList = "zone_list:"
	prefixChat     = "chat:"
	prefixReplay   = "replay:"
)

// Record caps. Lists trim oldest-first when full.
const (
	MaxNotifications    = 200
	MaxBlocked          = 200
	MaxDirectoryEntries = 200
	MaxZones            = 50
	MaxChatMessages     = 500
)

// ZoneListKey returns the snapshot key for a zone.
func ZoneListKey(zoneKey string) string { return prefixZoneList + zoneKey }

// ChatKey returns the message log key for a pairwise queue.
func ChatKey(queueID string) string { return prefixChat + queueID }

// ReplayKey returns the replay-window key for an identity label.
func ReplayKey(identityLabel string) string { return prefixReplay + identityLabel }

// Device reads this client's device record.
func (s *Store) Device(ctx context.Context) (identity.Device, bool, error) {
	var d identity.Device
	ok, err := s.Get(ctx, KeyDevice, &d)
	return d, ok, err
}

// SetDevice persists the device record.
func (s *Store) SetDevice(ctx context.Context, d identity.Device) error {
	return s.Put(ctx, KeyDevice, d)
}

// Identity reads the identity record.
func (s *Store) Identity(ctx context.Context) (identity.Identity, bool, error) {
	var id identity.Identity
	ok, err := s.Get(ctx, KeyIdentity, &id)
	return id, ok, err
}

// SetIdentity persists the identity record.
func (s *Store) SetIdentity(ctx context.Context, id identity.Identity) error {
	return s.Put(ctx, KeyIdentity, id)
}

// Profile reads the public profile.
func (s *Store) Profile(ctx context.Context) (identity.Profile, bool, error) {
	var p identity.Profile
	ok, err := s.Get(ctx, KeyProfile, &p)
	return p, ok, err
}

// SetProfile persists the public profile.
func (s *Store) SetProfile(ctx context.Context, p identity.Profile) error {
	return s.Put(ctx, KeyProfile, p)
}

// Notifications returns the notification list, newest first.
func (s *Store) Notifications(ctx context.Context) ([]identity.Notification, error) {
	var list []identity.Notification
	if _, err := s.Get(ctx, KeyNotifications, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AddNotification prepends n, trimming the oldest past the cap.
func (s *Store) AddNotification(ctx context.Context, n identity.Notification) error {
	list, err := s.Notifications(ctx)
	if err != nil {
		return err
	}
	list = append([]identity.Notification{n}, list...)
	if len(list) > MaxNotifications {
		list = list[:MaxNotifications]
	}
	return s.Put(ctx, KeyNotifications, list)
}

// MarkNotificationRead flags one notification read. Unknown ids are a
// no-op.
func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	list, err := s.Notifications(ctx)
	if err != nil {
		return err
	}
	changed := false
	for i := range list {
		if list[i].ID == id && !list[i].Read {
			list[i].Read = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.Put(ctx, KeyNotifications, list)
}

// RemoveNotification deletes one notification by id.
func (s *Store) RemoveNotification(ctx context.Context, id string) error {
	list, err := s.Notifications(ctx)
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, n := range list {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	if len(kept) == len(list) {
		return nil
	}
	return s.Put(ctx, KeyNotifications, kept)
}

// ClearNotifications empties the list.
func (s *Store) ClearNotifications(ctx context.Context) error {
	return s.Put(ctx, KeyNotifications, []identity.Notification{})
}

// PendingRequests returns all pairing requests, newest first.
func (s *Store) PendingRequests(ctx context.Context) ([]identity.PendingRequest, error) {
	var list []identity.PendingRequest
	if _, err := s.Get(ctx, KeyPairPending, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// PendingRequest returns one request by id.
func (s *Store) PendingRequest(ctx context.Context, id string) (identity.PendingRequest, bool, error) {
	list, err := s.PendingRequests(ctx)
	if err != nil {
		return identity.PendingRequest{}, false, err
	}
	for _, r := range list {
		if r.ID == id {
			return r, true, nil
		}
	}
	return identity.PendingRequest{}, false, nil
}

// PutPendingRequest upserts by id: existing entries are replaced in
// place, new ones are prepended.
func (s *Store) PutPendingRequest(ctx context.Context, req identity.PendingRequest) error {
	list, err := s.PendingRequests(ctx)
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].ID == req.ID {
			list[i] = req
			return s.Put(ctx, KeyPairPending, list)
		}
	}
	list = append([]identity.PendingRequest{req}, list...)
	return s.Put(ctx, KeyPairPending, list)
}

// RemovePendingRequest deletes one request outright. Returns whether
// the list changed.
func (s *Store) RemovePendingRequest(ctx context.Context, id string) (bool, error) {
	list, err := s.PendingRequests(ctx)
	if err != nil {
		return false, err
	}
	kept := list[:0]
	for _, r := range list {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(list) {
		return false, nil
	}
	return true, s.Put(ctx, KeyPairPending, kept)
}

// Blocklist returns all block entries.
func (s *Store) Blocklist(ctx context.Context) ([]identity.BlockEntry, error) {
	var list []identity.BlockEntry
	if _, err := s.Get(ctx, KeyBlocked, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// IsBlocked reports whether pk or did matches a block entry.
func (s *Store) IsBlocked(ctx context.Context, pk, did string) (bool, error) {
	list, err := s.Blocklist(ctx)
	if err != nil {
		return false, err
	}
	for _, b := range list {
		if b.Matches(pk, did) {
			return true, nil
		}
	}
	return false, nil
}

// AddBlock prepends entry unless an equivalent entry exists, trimming
// past the cap.
func (s *Store) AddBlock(ctx context.Context, entry identity.BlockEntry) (bool, error) {
	list, err := s.Blocklist(ctx)
	if err != nil {
		return false, err
	}
	for _, b := range list {
		if b.Matches(entry.Pk, entry.DID) {
			return false, nil
		}
	}
	list = append([]identity.BlockEntry{entry}, list...)
	if len(list) > MaxBlocked {
		list = list[:MaxBlocked]
	}
	return true, s.Put(ctx, KeyBlocked, list)
}

// RemoveBlock deletes entries matching pk or did. Returns whether the
// list changed.
func (s *Store) RemoveBlock(ctx context.Context, pk, did string) (bool, error) {
	list, err := s.Blocklist(ctx)
	if err != nil {
		return false, err
	}
	kept := list[:0]
	for _, b := range list {
		if !b.Matches(pk, did) {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(list) {
		return false, nil
	}
	return true, s.Put(ctx, KeyBlocked, kept)
}

// Zones returns the joined zone list.
func (s *Store) Zones(ctx context.Context) ([]identity.Zone, error) {
	var list []identity.Zone
	if _, err := s.Get(ctx, KeyZones, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AddZone appends z unless its key is already present, trimming the
// oldest past the cap. Returns whether the list changed.
func (s *Store) AddZone(ctx context.Context, z identity.Zone) (bool, error) {
	list, err := s.Zones(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range list {
		if existing.Key == z.Key {
			return false, nil
		}
	}
	list = append(list, z)
	if len(list) > MaxZones {
		list = list[len(list)-MaxZones:]
	}
	return true, s.Put(ctx, KeyZones, list)
}

// RemoveZone deletes the zone and its snapshot. Returns whether the
// list changed.
func (s *Store) RemoveZone(ctx context.Context, zoneKey string) (bool, error) {
	list, err := s.Zones(ctx)
	if err != nil {
		return false, err
	}
	kept := list[:0]
	for _, z := range list {
		if z.Key != zoneKey {
			kept = append(kept, z)
		}
	}
	if len(kept) == len(list) {
		return false, nil
	}
	if err := s.Put(ctx, KeyZones, kept); err != nil {
		return false, err
	}
	return true, s.Delete(ctx, ZoneListKey(zoneKey))
}

// RenameZone updates the display name of a joined zone.
func (s *Store) RenameZone(ctx context.Context, zoneKey, name string) (bool, error) {
	list, err := s.Zones(ctx)
	if err != nil {
		return false, err
	}
	for i := range list {
		if list[i].Key == zoneKey {
			if list[i].Name == name {
				return false, nil
			}
			list[i].Name = name
			return true, s.Put(ctx, KeyZones, list)
		}
	}
	return false, nil
}

// ZoneSnapshot returns the adopted membership view for a zone.
func (s *Store) ZoneSnapshot(ctx context.Context, zoneKey string) (identity.ZoneSnapshot, bool, error) {
	var snap identity.ZoneSnapshot
	ok, err := s.Get(ctx, ZoneListKey(zoneKey), &snap)
	return snap, ok, err
}

// SetZoneSnapshot persists the membership view for a zone.
func (s *Store) SetZoneSnapshot(ctx context.Context, zoneKey string, snap identity.ZoneSnapshot) error {
	return s.Put(ctx, ZoneListKey(zoneKey), snap)
}

// PendingZoneKey returns the invite key staged before this device is
// linked.
func (s *Store) PendingZoneKey(ctx context.Context) (string, bool, error) {
	var key string
	ok, err := s.Get(ctx, KeyPendingZoneKey, &key)
	return key, ok, err
}

// SetPendingZoneKey stages an invite key.
func (s *Store) SetPendingZoneKey(ctx context.Context, key string) error {
	return s.Put(ctx, KeyPendingZoneKey, key)
}

// ClearPendingZoneKey drops the staged invite key.
func (s *Store) ClearPendingZoneKey(ctx context.Context) error {
	return s.Delete(ctx, KeyPendingZoneKey)
}

// Directory returns relay-observed identity sightings, newest first.
func (s *Store) Directory(ctx context.Context) ([]identity.DirectoryEntry, error) {
	var list []identity.DirectoryEntry
	if _, err := s.Get(ctx, KeyDirectory, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// UpsertDirectory moves the entry for its identity to the front,
// trimming past the cap. Unset fields of entry keep their previous
// values so a sighting without a zone does not erase a known one.
func (s *Store) UpsertDirectory(ctx context.Context, entry identity.DirectoryEntry) error {
	list, err := s.Directory(ctx)
	if err != nil {
		return err
	}
	kept := make([]identity.DirectoryEntry, 0, len(list)+1)
	for _, e := range list {
		if e.IdentityID == entry.IdentityID {
			if entry.IdentityLabel == "" {
				entry.IdentityLabel = e.IdentityLabel
			}
			if entry.DevicePk == "" {
				entry.DevicePk = e.DevicePk
			}
			if entry.ZoneKey == "" {
				entry.ZoneKey = e.ZoneKey
			}
			continue
		}
		kept = append(kept, e)
	}
	kept = append([]identity.DirectoryEntry{entry}, kept...)
	if len(kept) > MaxDirectoryEntries {
		kept = kept[:MaxDirectoryEntries]
	}
	return s.Put(ctx, KeyDirectory, kept)
}

// Chat returns the message log for a pairwise queue, oldest first.
func (s *Store) Chat(ctx context.Context, queueID string) ([]identity.ChatMessage, error) {
	var list []identity.ChatMessage
	if _, err := s.Get(ctx, ChatKey(queueID), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AppendChat appends msg unless its id is already present, trimming
// the oldest past the cap. Returns whether the log changed.
func (s *Store) AppendChat(ctx context.Context, msg identity.ChatMessage) (bool, error) {
	list, err := s.Chat(ctx, msg.QueueID)
	if err != nil {
		return false, err
	}
	for _, m := range list {
		if m.ID == msg.ID {
			return false, nil
		}
	}
	list = append(list, msg)
	if len(list) > MaxChatMessages {
		list = list[len(list)-MaxChatMessages:]
	}
	return true, s.Put(ctx, ChatKey(msg.QueueID), list)
}

// ReplayEntry is one accepted event remembered by the replay guard.
type ReplayEntry struct {
	ID string `json:"id"`
	TS int64  `json:"ts"`
}

// ReplayWindow returns the remembered event ids for an identity scope.
func (s *Store) ReplayWindow(ctx context.Context, identityLabel string) ([]ReplayEntry, error) {
	var list []ReplayEntry
	if _, err := s.Get(ctx, ReplayKey(identityLabel), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SetReplayWindow persists the remembered event ids for an identity
// scope.
func (s *Store) SetReplayWindow(ctx context.Context, identityLabel string, list []ReplayEntry) error {
	return s.Put(ctx, ReplayKey(identityLabel), list)
}
