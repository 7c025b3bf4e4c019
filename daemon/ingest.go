// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/constitute-foundation/constitute/store"
	"github.com/constitute-foundation/constitute/wire"
)

// Replay guard parameters: events older than the window, or further in
// the future than the skew allowance, are dropped; ids seen inside the
// window are dropped.
const (
	replayWindow   = 10 * time.Minute
	replaySkew     = 2 * time.Minute
	replayCapacity = 400
)

// Ingest processes one raw relay frame. The untrusted-channel
// contract: nothing arriving here ever returns an error to the pump;
// malformed, unverifiable, or irrelevant frames are logged and
// dropped.
func (d *Daemon) Ingest(ctx context.Context, raw []byte) {
	d.rx.Add(1)

	frame, err := wire.ParseFrame(raw)
	if err != nil {
		d.logger.Debug("dropping malformed frame", "error", err)
		return
	}
	if frame.Type != wire.FrameEvent || frame.Event == nil {
		return
	}
	ev := frame.Event

	if !ev.HasTag(wire.TagApp, d.cfg.AppTag) {
		return
	}
	if !ev.Verify() {
		d.logger.Debug("dropping unverifiable event", "pubkey", ev.Pubkey)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if blocked, err := d.cfg.Store.IsBlocked(ctx, ev.Pubkey, ""); err != nil {
		d.logger.Error("blocklist check failed", "error", err)
		return
	} else if blocked {
		d.logger.Debug("dropping event from blocked sender", "pubkey", ev.Pubkey)
		return
	}

	if ev.Kind == wire.KindRecord {
		if err := d.cache.Put(ctx, ev, d.clk.Now()); err != nil {
			d.logger.Debug("dropping discovery record", "error", err)
		}
		return
	}
	if ev.Kind != wire.KindApp {
		return
	}

	kind, payload, err := wire.OpenContent(ev.Content, d.cipher, ev.Pubkey, ev.CreatedAt)
	if err != nil {
		switch {
		case errors.Is(err, wire.ErrNoRoomKey), errors.Is(err, wire.ErrWrongRoom):
			// Traffic for a room this device is not in.
		default:
			d.logger.Debug("dropping undecryptable content", "pubkey", ev.Pubkey, "error", err)
		}
		return
	}

	scope := "public"
	if label, ok := ev.Tag(wire.TagIdentity); ok {
		scope = label
	}
	accepted, err := d.replayAcceptLocked(ctx, scope, ev.ID, ev.CreatedAt)
	if err != nil {
		d.logger.Error("replay guard failed", "error", err)
		return
	}
	if !accepted {
		return
	}

	if err := d.dispatchEventLocked(ctx, ev, kind, payload); err != nil {
		// Handler errors on inbound traffic are drop-and-continue.
		d.logger.Debug("event handler failed", "kind", kind, "error", err)
	}
}

// replayAcceptLocked implements the per-scope sliding window. Returns
// false when the event must be dropped.
func (d *Daemon) replayAcceptLocked(ctx context.Context, scope, eventID string, createdAt int64) (bool, error) {
	now := d.clk.Now().Unix()
	oldest := now - int64(replayWindow/time.Second)
	if createdAt < oldest {
		return false, nil
	}
	if createdAt > now+int64(replaySkew/time.Second) {
		return false, nil
	}

	window, err := d.cfg.Store.ReplayWindow(ctx, scope)
	if err != nil {
		return false, err
	}

	kept := window[:0]
	for _, e := range window {
		if e.TS >= oldest {
			kept = append(kept, e)
		}
	}
	for _, e := range kept {
		if e.ID == eventID {
			return false, nil
		}
	}

	kept = append(kept, store.ReplayEntry{ID: eventID, TS: createdAt})
	if len(kept) > replayCapacity {
		kept = kept[len(kept)-replayCapacity:]
	}
	if err := d.cfg.Store.SetReplayWindow(ctx, scope, kept); err != nil {
		return false, err
	}
	return true, nil
}

// dispatchEventLocked routes one verified, decrypted, replay-checked
// event to its kind handler. Unknown kinds are ignored: newer protocol
// revisions must not break older daemons.
func (d *Daemon) dispatchEventLocked(ctx context.Context, ev *wire.Event, kind string, payload json.RawMessage) error {
	switch kind {
	case kindIdentityCreated:
		return d.onIdentityCreated(ctx, ev, payload)
	case kindPairRequest:
		return d.onPairRequest(ctx, ev, payload)
	case kindPairApprove:
		return d.onPairApprove(ctx, ev, payload)
	case kindPairReject:
		return d.onPairReject(ctx, ev, payload)
	case kindPairResolved:
		return d.onPairResolved(ctx, ev, payload)
	case kindDeviceRevoked:
		return d.onDeviceRevoked(ctx, ev, payload)
	case kindDeviceBlocked:
		return d.onDeviceBlocked(ctx, ev, payload)
	case kindDeviceUnblocked:
		return d.onDeviceUnblocked(ctx, ev, payload)
	case kindRoomKeyUpdate:
		return d.onRoomKeyUpdate(ctx, ev, payload)
	case kindIdentityLabelUpdate:
		return d.onIdentityLabelUpdate(ctx, ev, payload)
	case kindDeviceLabelUpdate:
		return d.onDeviceLabelUpdate(ctx, ev, payload)
	case kindProfileUpdate:
		return d.onProfileUpdate(ctx, ev, payload)
	case kindNotificationsClear:
		return d.onNotificationsClear(ctx, ev, payload)
	case kindZonePresence:
		return d.onZonePresence(ctx, ev, payload)
	case kindZoneList:
		return d.onZoneList(ctx, ev, payload)
	case kindZoneListRequest:
		return d.onZoneListRequest(ctx, ev, payload)
	case kindZoneMeta:
		return d.onZoneMeta(ctx, ev, payload)
	case kindZoneMetaRequest:
		return d.onZoneMetaRequest(ctx, ev, payload)
	case kindChatMessage:
		return d.onChatMessage(ctx, ev, payload)
	case kindSwarmSignal:
		return d.onSwarmSignal(ctx, ev, payload)
	default:
		d.logger.Debug("ignoring unknown kind", "kind", kind)
		return nil
	}
}
