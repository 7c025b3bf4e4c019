// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"

	"github.com/constitute-foundation/constitute/identity"
	"github.com/constitute-foundation/constitute/wire"
)

type zoneParams struct {
	Zone string `json:"zone"`
	Name string `json:"name"`
}

type pendingZoneParams struct {
	Key string `json:"key"`
}

// zoneView is the zones.list row: stored zone metadata joined with the
// last adopted membership snapshot.
type zoneView struct {
	Key     string                `json:"key"`
	Name    string                `json:"name"`
	Private bool                  `json:"private,omitempty"`
	TS      int64                 `json:"ts,omitempty"`
	Members []identity.ZoneMember `json:"members"`
}

// privateZoneKeyLocked derives the implicit private zone key, empty
// when unlinked.
func (d *Daemon) privateZoneKeyLocked(id identity.Identity) string {
	if !id.Linked {
		return ""
	}
	return identity.PrivateZoneKey(id.ID, id.RoomKey)
}

// joinedZonesLocked returns every zone this device gossips in: stored
// zones plus the implicit private zone when linked.
func (d *Daemon) joinedZonesLocked(ctx context.Context, id identity.Identity) ([]identity.Zone, error) {
	zones, err := d.cfg.Store.Zones(ctx)
	if err != nil {
		return nil, err
	}
	if key := d.privateZoneKeyLocked(id); key != "" {
		zones = append([]identity.Zone{{Key: key, Name: id.Label}}, zones...)
	}
	return zones, nil
}

// zoneCipherLocked picks the publish cipher for a zone: the private
// zone is room-encrypted, explicit zones span identities and stay
// plaintext.
func (d *Daemon) zoneCipherLocked(id identity.Identity, zoneKey string) *wire.RoomCipher {
	if zoneKey != "" && zoneKey == d.privateZoneKeyLocked(id) {
		return d.cipher
	}
	return nil
}

func (d *Daemon) rpcZonesList(ctx context.Context, _ struct{}) (any, error) {
	id, _, err := d.identityLocked(ctx)
	if err != nil {
		return nil, err
	}
	zones, err := d.joinedZonesLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	privateKey := d.privateZoneKeyLocked(id)

	views := make([]zoneView, 0, len(zones))
	for _, z := range zones {
		view := zoneView{Key: z.Key, Name: z.Name, Private: z.Key == privateKey, Members: []identity.ZoneMember{}}
		if snap, ok, err := d.cfg.Store.ZoneSnapshot(ctx, z.Key); err != nil {
			return nil, err
		} else if ok {
			view.TS = snap.TS
			view.Members = snap.Members
		}
		views = append(views, view)
	}
	return views, nil
}

// rpcZonesAdd creates a fresh zone and joins it. Idempotent on key
// collision; distinct calls with the same name create distinct zones.
func (d *Daemon) rpcZonesAdd(ctx context.Context, p zoneParams) (any, error) {
	if p.Name == "" {
		return nil, validationErr("name required")
	}
	id, err := d.requireLinkedLocked(ctx)
	if err != nil {
		return nil, err
	}
	key, err := identity.ZoneKeyFromName(p.Name)
	if err != nil {
		return nil, err
	}
	return d.joinZoneLocked(ctx, id, key, p.Name)
}

// rpcZonesJoin joins an existing zone by key. The name, if unknown, is
// learned through zone_meta gossip.
func (d *Daemon) rpcZonesJoin(ctx context.Context, p zoneParams) (any, error) {
	if p.Zone == "" {
		return nil, validationErr("zone required")
	}
	id, err := d.requireLinkedLocked(ctx)
	if err != nil {
		return nil, err
	}
	return d.joinZoneLocked(ctx, id, p.Zone, p.Name)
}

// joinZoneLocked stores the zone, seeds the snapshot with this device,
// and announces. Joining a zone twice is a no-op.
func (d *Daemon) joinZoneLocked(ctx context.Context, id identity.Identity, key, name string) (zoneView, error) {
	zone := identity.Zone{Key: key, Name: name, CreatedAt: d.clk.Now().Unix()}
	if _, err := d.cfg.Store.AddZone(ctx, zone); err != nil {
		return zoneView{}, err
	}

	snap, ok, err := d.cfg.Store.ZoneSnapshot(ctx, key)
	if err != nil {
		return zoneView{}, err
	}
	now := d.clk.Now().Unix()
	snap.Upsert(identity.ZoneMember{DevicePk: d.keys.Pk(), PeerHint: d.cfg.PeerHint}, now)
	if !ok {
		snap.TS = now
	}
	if err := d.cfg.Store.SetZoneSnapshot(ctx, key, snap); err != nil {
		return zoneView{}, err
	}

	cipher := d.zoneCipherLocked(id, key)
	if _, err := d.publishLocked(kindZonePresence, zonePresencePayload{
		Zone:     key,
		DevicePk: d.keys.Pk(),
		PeerHint: d.cfg.PeerHint,
		TS:       now,
		TTL:      int64(stalenessThreshold.Seconds()),
	}, cipher, zoneTag(key)); err != nil {
		d.logger.Warn("zone presence not published", "zone", key, "error", err)
	}
	if name == "" {
		if _, err := d.publishLocked(kindZoneMetaRequest, zoneRequestPayload{Zone: key, TS: now}, cipher, zoneTag(key)); err != nil {
			d.logger.Debug("zone meta request not published", "zone", key, "error", err)
		}
	}
	return zoneView{Key: key, Name: name, TS: snap.TS, Members: snap.Members}, nil
}

// rpcZonesLeave drops a zone and its snapshot. Leaving the private zone
// is not possible; it exists as long as the identity does.
func (d *Daemon) rpcZonesLeave(ctx context.Context, p zoneParams) (any, error) {
	if p.Zone == "" {
		return nil, validationErr("zone required")
	}
	id, _, err := d.identityLocked(ctx)
	if err != nil {
		return nil, err
	}
	if p.Zone == d.privateZoneKeyLocked(id) {
		return nil, validationErr("cannot leave the private zone")
	}
	removed, err := d.cfg.Store.RemoveZone(ctx, p.Zone)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, notFoundErr("zone %s not joined", p.Zone)
	}
	return map[string]bool{"removed": true}, nil
}

// rpcZonesMetaRequest asks the zone for its display name.
func (d *Daemon) rpcZonesMetaRequest(ctx context.Context, p zoneParams) (any, error) {
	if p.Zone == "" {
		return nil, validationErr("zone required")
	}
	id, _, err := d.identityLocked(ctx)
	if err != nil {
		return nil, err
	}
	eventID, err := d.publishLocked(kindZoneMetaRequest, zoneRequestPayload{
		Zone: p.Zone,
		TS:   d.clk.Now().Unix(),
	}, d.zoneCipherLocked(id, p.Zone), zoneTag(p.Zone))
	if err != nil {
		return nil, err
	}
	return map[string]string{"eventId": eventID}, nil
}

// rpcZonesListRequest asks the zone for a fresh membership snapshot.
func (d *Daemon) rpcZonesListRequest(ctx context.Context, p zoneParams) (any, error) {
	if p.Zone == "" {
		return nil, validationErr("zone required")
	}
	id, _, err := d.identityLocked(ctx)
	if err != nil {
		return nil, err
	}
	eventID, err := d.publishLocked(kindZoneListRequest, zoneRequestPayload{
		Zone: p.Zone,
		TS:   d.clk.Now().Unix(),
	}, d.zoneCipherLocked(id, p.Zone), zoneTag(p.Zone))
	if err != nil {
		return nil, err
	}
	return map[string]string{"eventId": eventID}, nil
}

// Pending zone key: a zone invite followed before the device is linked
// is parked here and adopted on link.

func (d *Daemon) rpcZonesPendingKeySet(ctx context.Context, p pendingZoneParams) (any, error) {
	if p.Key == "" {
		return nil, validationErr("key required")
	}
	if err := d.cfg.Store.SetPendingZoneKey(ctx, p.Key); err != nil {
		return nil, err
	}
	return map[string]string{"key": p.Key}, nil
}

func (d *Daemon) rpcZonesPendingKeyGet(ctx context.Context, _ struct{}) (any, error) {
	key, ok, err := d.cfg.Store.PendingZoneKey(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]string{}, nil
	}
	return map[string]string{"key": key}, nil
}

func (d *Daemon) rpcZonesPendingKeyClear(ctx context.Context, _ struct{}) (any, error) {
	if err := d.cfg.Store.ClearPendingZoneKey(ctx); err != nil {
		return nil, err
	}
	return map[string]bool{"cleared": true}, nil
}

// adoptPendingZoneLocked joins any parked zone key once the device is
// linked. Called after identity.create and a successful pair approval.
func (d *Daemon) adoptPendingZoneLocked(ctx context.Context, id identity.Identity) {
	key, ok, err := d.cfg.Store.PendingZoneKey(ctx)
	if err != nil || !ok {
		return
	}
	if _, err := d.joinZoneLocked(ctx, id, key, ""); err != nil {
		d.logger.Warn("pending zone not adopted", "zone", key, "error", err)
		return
	}
	if err := d.cfg.Store.ClearPendingZoneKey(ctx); err != nil {
		d.logger.Error("clearing pending zone key failed", "error", err)
	}
	d.logger.Info("pending zone adopted", "zone", key)
}

// --- timers ---

// gossipPresenceLocked is the 90s tick: re-announce this device in
// every joined zone and publish the current snapshot as an
// authoritative zone_list.
func (d *Daemon) gossipPresenceLocked(ctx context.Context) {
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked {
		return
	}
	zones, err := d.joinedZonesLocked(ctx, id)
	if err != nil {
		d.logger.Error("listing zones failed", "error", err)
		return
	}
	now := d.clk.Now().Unix()
	for _, z := range zones {
		snap, _, err := d.cfg.Store.ZoneSnapshot(ctx, z.Key)
		if err != nil {
			d.logger.Error("loading zone snapshot failed", "zone", z.Key, "error", err)
			continue
		}
		snap.Upsert(identity.ZoneMember{DevicePk: d.keys.Pk(), PeerHint: d.cfg.PeerHint}, now)
		if err := d.cfg.Store.SetZoneSnapshot(ctx, z.Key, snap); err != nil {
			d.logger.Error("storing zone snapshot failed", "zone", z.Key, "error", err)
			continue
		}

		cipher := d.zoneCipherLocked(id, z.Key)
		if _, err := d.publishLocked(kindZonePresence, zonePresencePayload{
			Zone:     z.Key,
			DevicePk: d.keys.Pk(),
			PeerHint: d.cfg.PeerHint,
			TS:       now,
			TTL:      int64(stalenessThreshold.Seconds()),
		}, cipher, zoneTag(z.Key)); err != nil {
			d.logger.Debug("zone presence not published", "zone", z.Key, "error", err)
			continue
		}
		if _, err := d.publishLocked(kindZoneList, zoneListPayload{
			Zone:    z.Key,
			Name:    z.Name,
			TS:      snap.TS,
			Members: snap.Members,
		}, cipher, zoneTag(z.Key)); err != nil {
			d.logger.Debug("zone list not published", "zone", z.Key, "error", err)
		}
	}
}

// checkStalenessLocked is the 30s tick: zones whose snapshot has gone
// quiet past the threshold get a refresh request, plus a meta request
// when only the key is known.
func (d *Daemon) checkStalenessLocked(ctx context.Context) {
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked {
		return
	}
	zones, err := d.joinedZonesLocked(ctx, id)
	if err != nil {
		d.logger.Error("listing zones failed", "error", err)
		return
	}
	now := d.clk.Now().Unix()
	cutoff := now - int64(stalenessThreshold.Seconds())
	for _, z := range zones {
		snap, found, err := d.cfg.Store.ZoneSnapshot(ctx, z.Key)
		if err != nil {
			d.logger.Error("loading zone snapshot failed", "zone", z.Key, "error", err)
			continue
		}
		if found && snap.TS >= cutoff {
			continue
		}
		cipher := d.zoneCipherLocked(id, z.Key)
		if _, err := d.publishLocked(kindZoneListRequest, zoneRequestPayload{Zone: z.Key, TS: now}, cipher, zoneTag(z.Key)); err != nil {
			d.logger.Debug("zone list request not published", "zone", z.Key, "error", err)
		}
		if z.Name == "" {
			if _, err := d.publishLocked(kindZoneMetaRequest, zoneRequestPayload{Zone: z.Key, TS: now}, cipher, zoneTag(z.Key)); err != nil {
				d.logger.Debug("zone meta request not published", "zone", z.Key, "error", err)
			}
		}
	}
}

// --- inbound handlers ---

// joinedZoneLocked resolves an inbound zone key against joined zones.
func (d *Daemon) joinedZoneLocked(ctx context.Context, zoneKey string) (identity.Zone, bool, error) {
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok {
		return identity.Zone{}, false, err
	}
	zones, err := d.joinedZonesLocked(ctx, id)
	if err != nil {
		return identity.Zone{}, false, err
	}
	for _, z := range zones {
		if z.Key == zoneKey {
			return z, true, nil
		}
	}
	return identity.Zone{}, false, nil
}

func (d *Daemon) onZonePresence(ctx context.Context, ev *wire.Event, payload json.RawMessage) error {
	var p zonePresencePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Zone == "" || p.DevicePk == "" {
		return nil
	}
	if _, joined, err := d.joinedZoneLocked(ctx, p.Zone); err != nil || !joined {
		return err
	}
	snap, _, err := d.cfg.Store.ZoneSnapshot(ctx, p.Zone)
	if err != nil {
		return err
	}
	snap.Upsert(identity.ZoneMember{DevicePk: p.DevicePk, PeerHint: p.PeerHint}, ev.CreatedAt)
	return d.cfg.Store.SetZoneSnapshot(ctx, p.Zone, snap)
}

func (d *Daemon) onZoneList(ctx context.Context, _ *wire.Event, payload json.RawMessage) error {
	var p zoneListPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Zone == "" {
		return nil
	}
	zone, joined, err := d.joinedZoneLocked(ctx, p.Zone)
	if err != nil || !joined {
		return err
	}

	// Advisory last-write-wins adoption; an older snapshot never
	// clobbers a newer one.
	snap, found, err := d.cfg.Store.ZoneSnapshot(ctx, p.Zone)
	if err != nil {
		return err
	}
	if found && p.TS <= snap.TS {
		return nil
	}
	if err := d.cfg.Store.SetZoneSnapshot(ctx, p.Zone, identity.ZoneSnapshot{TS: p.TS, Members: p.Members}); err != nil {
		return err
	}
	if p.Name != "" && zone.Name == "" {
		if _, err := d.cfg.Store.RenameZone(ctx, p.Zone, p.Name); err != nil {
			return err
		}
	}
	return nil
}

func (d *Daemon) onZoneListRequest(ctx context.Context, _ *wire.Event, payload json.RawMessage) error {
	var p zoneRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	zone, joined, err := d.joinedZoneLocked(ctx, p.Zone)
	if err != nil || !joined {
		return err
	}
	snap, found, err := d.cfg.Store.ZoneSnapshot(ctx, p.Zone)
	if err != nil || !found {
		return err
	}
	id, _, err := d.identityLocked(ctx)
	if err != nil {
		return err
	}
	_, err = d.publishLocked(kindZoneList, zoneListPayload{
		Zone:    p.Zone,
		Name:    zone.Name,
		TS:      snap.TS,
		Members: snap.Members,
	}, d.zoneCipherLocked(id, p.Zone), zoneTag(p.Zone))
	return err
}

func (d *Daemon) onZoneMeta(ctx context.Context, _ *wire.Event, payload json.RawMessage) error {
	var p zoneMetaPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Name == "" {
		return nil
	}
	zone, joined, err := d.joinedZoneLocked(ctx, p.Zone)
	if err != nil || !joined || zone.Name != "" {
		return err
	}
	_, err = d.cfg.Store.RenameZone(ctx, p.Zone, p.Name)
	return err
}

func (d *Daemon) onZoneMetaRequest(ctx context.Context, _ *wire.Event, payload json.RawMessage) error {
	var p zoneRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	zone, joined, err := d.joinedZoneLocked(ctx, p.Zone)
	if err != nil || !joined || zone.Name == "" {
		return err
	}
	id, _, err := d.identityLocked(ctx)
	if err != nil {
		return err
	}
	_, err = d.publishLocked(kindZoneMeta, zoneMetaPayload{
		Zone: p.Zone,
		Name: zone.Name,
		TS:   d.clk.Now().Unix(),
	}, d.zoneCipherLocked(id, p.Zone), zoneTag(p.Zone))
	return err
}
