// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/constitute-foundation/constitute/discovery"
	"github.com/constitute-foundation/constitute/identity"
	"github.com/constitute-foundation/constitute/peer"
	"github.com/constitute-foundation/constitute/wire"
)

// exchangeTimeout bounds one push or pull cycle with a peer.
const exchangeTimeout = 20 * time.Second

// rpcSwarmIdentityRecord builds and returns this identity's signed
// discovery record without publishing it.
func (d *Daemon) rpcSwarmIdentityRecord(ctx context.Context, _ struct{}) (any, error) {
	id, err := d.requireLinkedLocked(ctx)
	if err != nil {
		return nil, err
	}
	ev, err := discovery.BuildIdentityRecord(d.keys, d.cfg.AppTag, id, d.cfg.RecordTTL, d.clk.Now())
	if err != nil {
		return nil, cryptoErr("building identity record: %v", err)
	}
	return ev, nil
}

// rpcSwarmDeviceRecord builds and returns this device's signed
// discovery record without publishing it.
func (d *Daemon) rpcSwarmDeviceRecord(ctx context.Context, _ struct{}) (any, error) {
	ev, err := discovery.BuildDeviceRecord(d.keys, d.cfg.AppTag, d.cfg.PeerHint, d.cfg.RecordTTL, d.clk.Now())
	if err != nil {
		return nil, cryptoErr("building device record: %v", err)
	}
	return ev, nil
}

type swarmPutParams struct {
	Record json.RawMessage `json:"record"`
}

// rpcSwarmPut validates and caches an externally obtained record, the
// same path an inbound relay record takes.
func (d *Daemon) rpcSwarmPut(ctx context.Context, p swarmPutParams) (any, error) {
	if len(p.Record) == 0 {
		return nil, validationErr("record required")
	}
	var ev wire.Event
	if err := json.Unmarshal(p.Record, &ev); err != nil {
		return nil, validationErr("malformed record: %v", err)
	}
	if err := d.cache.Put(ctx, &ev, d.clk.Now()); err != nil {
		return nil, validationErr("record rejected: %v", err)
	}
	return map[string]bool{"cached": true}, nil
}

type swarmGetParams struct {
	Type       string `json:"type"`
	IdentityID string `json:"identityId"`
	DevicePk   string `json:"devicePk"`
}

func (d *Daemon) rpcSwarmGet(ctx context.Context, p swarmGetParams) (any, error) {
	now := d.clk.Now()
	switch p.Type {
	case discovery.TypeIdentity:
		if p.IdentityID == "" {
			return nil, validationErr("identityId required")
		}
		ev, ok, err := d.cache.Identity(ctx, p.IdentityID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, notFoundErr("no record for identity %s", p.IdentityID)
		}
		return ev, nil
	case discovery.TypeDevice:
		if p.DevicePk == "" {
			return nil, validationErr("devicePk required")
		}
		ev, ok, err := d.cache.Device(ctx, p.DevicePk, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, notFoundErr("no record for device %s", p.DevicePk)
		}
		return ev, nil
	default:
		return nil, validationErr("type must be %q or %q", discovery.TypeIdentity, discovery.TypeDevice)
	}
}

func (d *Daemon) rpcSwarmList(ctx context.Context, _ struct{}) (any, error) {
	now := d.clk.Now()
	identities, err := d.cache.Identities(ctx, now)
	if err != nil {
		return nil, err
	}
	devices, err := d.cache.Devices(ctx, now)
	if err != nil {
		return nil, err
	}
	return map[string][]*wire.Event{"identities": identities, "devices": devices}, nil
}

// rpcSwarmDiscoveryPublish publishes own records to the relay and
// pushes them to selected peers over the direct transport.
func (d *Daemon) rpcSwarmDiscoveryPublish(ctx context.Context, _ struct{}) (any, error) {
	records, err := d.ownRecordsLocked(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, stateErr("nothing to publish; link an identity first")
	}
	for _, ev := range records {
		if err := d.cache.Put(ctx, ev, d.clk.Now()); err != nil {
			d.logger.Debug("own record not cached", "error", err)
		}
		if err := d.publishRecordLocked(ev); err != nil {
			d.logger.Warn("record not published to relay", "error", err)
		}
	}

	targets, err := d.peerTargetsLocked(ctx)
	if err != nil {
		return nil, err
	}
	go d.pushToPeers(targets, records)
	return map[string]int{"records": len(records), "peers": len(targets)}, nil
}

// rpcSwarmDiscoveryRequest pulls records from selected peers over the
// direct transport. The exchange is asynchronous; results land in the
// cache as they arrive.
func (d *Daemon) rpcSwarmDiscoveryRequest(ctx context.Context, _ struct{}) (any, error) {
	targets, err := d.peerTargetsLocked(ctx)
	if err != nil {
		return nil, err
	}
	go d.pullFromPeers(targets)
	return map[string]int{"peers": len(targets)}, nil
}

type signalSendParams struct {
	ToPk string `json:"toPk"`
	Kind string `json:"kind"`
	SDP  string `json:"sdp"`
}

// rpcSwarmSignalSend relays a peer-channel signaling message to one
// device over the broadcast channel.
func (d *Daemon) rpcSwarmSignalSend(ctx context.Context, p signalSendParams) (any, error) {
	if p.ToPk == "" || p.Kind == "" || p.SDP == "" {
		return nil, validationErr("toPk, kind, and sdp required")
	}
	eventID, err := d.publishLocked(kindSwarmSignal, swarmSignalPayload{
		ToPk:   p.ToPk,
		FromPk: d.keys.Pk(),
		Kind:   p.Kind,
		SDP:    p.SDP,
		TS:     d.clk.Now().Unix(),
	}, nil, targetTag(p.ToPk))
	if err != nil {
		return nil, err
	}
	return map[string]string{"eventId": eventID}, nil
}

// onSwarmSignal hands inbound signaling to the peer transport. The
// handoff is asynchronous: signal handling dials and waits, and the
// daemon mutex must not be held across that.
func (d *Daemon) onSwarmSignal(ctx context.Context, _ *wire.Event, payload json.RawMessage) error {
	var p swarmSignalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.ToPk != d.keys.Pk() || p.FromPk == "" {
		return nil
	}
	go d.direct.HandleSignal(p.FromPk, p.Kind, p.SDP)
	return nil
}

// publishSignal is the peer transport's Signaler: outbound signaling
// rides the relay as swarm_signal events. Called from transport
// goroutines, never with the daemon mutex held.
func (d *Daemon) publishSignal(ctx context.Context, toPk, kind, sdp string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.publishLocked(kindSwarmSignal, swarmSignalPayload{
		ToPk:   toPk,
		FromPk: d.keys.Pk(),
		Kind:   kind,
		SDP:    sdp,
		TS:     d.clk.Now().Unix(),
	}, nil, targetTag(toPk))
	return err
}

// serveExchange answers an inbound peer data channel: serve pulls from
// the cache, absorb pushes into it.
func (d *Daemon) serveExchange(fromPk string, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(exchangeTimeout))

	source := func() []*wire.Event {
		d.mu.Lock()
		defer d.mu.Unlock()
		records, err := d.allRecordsLocked(context.Background())
		if err != nil {
			d.logger.Error("listing records for peer failed", "peer", fromPk, "error", err)
			return nil
		}
		return records
	}
	sink := func(records []*wire.Event) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.absorbRecordsLocked(context.Background(), records)
	}
	if err := peer.ServeExchange(conn, source, sink); err != nil {
		d.logger.Debug("peer exchange ended", "peer", fromPk, "error", err)
	}
}

// ownRecordsLocked builds the records this daemon vouches for: the
// device record always, the identity record when linked.
func (d *Daemon) ownRecordsLocked(ctx context.Context) ([]*wire.Event, error) {
	now := d.clk.Now()
	records := []*wire.Event{}
	device, err := discovery.BuildDeviceRecord(d.keys, d.cfg.AppTag, d.cfg.PeerHint, d.cfg.RecordTTL, now)
	if err != nil {
		return nil, cryptoErr("building device record: %v", err)
	}
	records = append(records, device)

	id, ok, err := d.identityLocked(ctx)
	if err != nil {
		return nil, err
	}
	if ok && id.Linked {
		idRecord, err := discovery.BuildIdentityRecord(d.keys, d.cfg.AppTag, id, d.cfg.RecordTTL, now)
		if err != nil {
			return nil, cryptoErr("building identity record: %v", err)
		}
		records = append(records, idRecord)
	}
	return records, nil
}

// allRecordsLocked is the full cache view offered to pulling peers.
func (d *Daemon) allRecordsLocked(ctx context.Context) ([]*wire.Event, error) {
	now := d.clk.Now()
	identities, err := d.cache.Identities(ctx, now)
	if err != nil {
		return nil, err
	}
	devices, err := d.cache.Devices(ctx, now)
	if err != nil {
		return nil, err
	}
	return append(identities, devices...), nil
}

// absorbRecordsLocked runs pushed or pulled records through cache
// validation; rejects are logged and dropped.
func (d *Daemon) absorbRecordsLocked(ctx context.Context, records []*wire.Event) {
	now := d.clk.Now()
	for _, ev := range records {
		if err := d.cache.Put(ctx, ev, now); err != nil {
			d.logger.Debug("peer record rejected", "error", err)
		}
	}
}

// peerTargetsLocked selects exchange peers from cached device records
// and zone snapshots, bounded by the scoreboard's fan-out.
func (d *Daemon) peerTargetsLocked(ctx context.Context) ([]string, error) {
	seen := map[string]bool{d.keys.Pk(): true}
	candidates := []string{}

	devices, err := d.cache.Devices(ctx, d.clk.Now())
	if err != nil {
		return nil, err
	}
	for _, ev := range devices {
		body, err := discovery.ParseBody(ev)
		if err != nil || body.DevicePk == "" || seen[body.DevicePk] {
			continue
		}
		seen[body.DevicePk] = true
		candidates = append(candidates, body.DevicePk)
	}

	id, ok, err := d.identityLocked(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		zones, err := d.joinedZonesLocked(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, z := range zones {
			snap, found, err := d.cfg.Store.ZoneSnapshot(ctx, z.Key)
			if err != nil || !found {
				continue
			}
			for _, m := range snap.Members {
				if m.DevicePk == "" || seen[m.DevicePk] {
					continue
				}
				seen[m.DevicePk] = true
				candidates = append(candidates, m.DevicePk)
			}
		}
	}
	return d.peers.Select(candidates), nil
}

// pushToPeers runs the push fan-out off the daemon mutex.
func (d *Daemon) pushToPeers(targets []string, records []*wire.Event) {
	for _, pk := range targets {
		err := d.exchangeWith(pk, func(conn net.Conn) error {
			return peer.PushRecords(conn, records)
		})
		d.peers.Observe(pk, err == nil)
		if err != nil {
			d.logger.Debug("push to peer failed", "peer", pk, "error", err)
		}
	}
}

// pullFromPeers runs the pull fan-out off the daemon mutex.
func (d *Daemon) pullFromPeers(targets []string) {
	for _, pk := range targets {
		var pulled []*wire.Event
		err := d.exchangeWith(pk, func(conn net.Conn) error {
			records, err := peer.PullRecords(conn)
			if err != nil {
				return err
			}
			pulled = records
			return nil
		})
		d.peers.Observe(pk, err == nil)
		if err != nil {
			d.logger.Debug("pull from peer failed", "peer", pk, "error", err)
			continue
		}
		d.mu.Lock()
		d.absorbRecordsLocked(context.Background(), pulled)
		d.mu.Unlock()
	}
}

func (d *Daemon) exchangeWith(pk string, fn func(net.Conn) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), exchangeTimeout)
	defer cancel()
	conn, err := d.direct.Dial(ctx, pk)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(exchangeTimeout))
	return fn(conn)
}

// --- timer ---

// publishDiscoveryLocked is the 5 minute tick: refresh own records on
// the relay and in the local cache.
func (d *Daemon) publishDiscoveryLocked(ctx context.Context) {
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked {
		return
	}
	records, err := d.ownRecordsLocked(ctx)
	if err != nil {
		d.logger.Error("building own records failed", "error", err)
		return
	}
	for _, ev := range records {
		if err := d.cache.Put(ctx, ev, d.clk.Now()); err != nil {
			d.logger.Debug("own record not cached", "error", err)
		}
		if err := d.publishRecordLocked(ev); err != nil {
			d.logger.Debug("record not published", "error", err)
		}
	}
}

// publishIdentityRecordLocked refreshes the identity record after a
// membership change so peers learn the new device set promptly.
func (d *Daemon) publishIdentityRecordLocked(ctx context.Context, id identity.Identity) {
	ev, err := discovery.BuildIdentityRecord(d.keys, d.cfg.AppTag, id, d.cfg.RecordTTL, d.clk.Now())
	if err != nil {
		d.logger.Error("building identity record failed", "error", err)
		return
	}
	if err := d.cache.Put(ctx, ev, d.clk.Now()); err != nil {
		d.logger.Debug("own record not cached", "error", err)
	}
	if err := d.publishRecordLocked(ev); err != nil {
		d.logger.Debug("identity record not published", "error", err)
	}
}
