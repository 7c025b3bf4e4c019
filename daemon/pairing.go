// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"

	"github.com/constitute-foundation/constitute/identity"
	"github.com/constitute-foundation/constitute/wire"
)

// identityLocked reads the identity record.
func (d *Daemon) identityLocked(ctx context.Context) (identity.Identity, bool, error) {
	return d.cfg.Store.Identity(ctx)
}

// requireLinkedLocked returns the identity or a state error when this
// device is not linked.
func (d *Daemon) requireLinkedLocked(ctx context.Context) (identity.Identity, error) {
	id, ok, err := d.identityLocked(ctx)
	if err != nil {
		return identity.Identity{}, err
	}
	if !ok || !id.Linked {
		return identity.Identity{}, stateErr("device not linked to an identity")
	}
	if id.RoomKey == "" || d.cipher == nil {
		return identity.Identity{}, stateErr("identity has no room key")
	}
	return id, nil
}

// selfEntryLocked is this device as a device-list entry.
func (d *Daemon) selfEntryLocked() identity.DeviceEntry {
	return identity.DeviceEntry{
		Pk:    d.keys.Pk(),
		EncPk: d.keys.EncPk(),
		DID:   d.device.DID,
		Label: d.device.Label,
	}
}

// --- RPC: identity.* ---

type identityCreateParams struct {
	Label string `json:"label"`
}

func (d *Daemon) rpcIdentityCreate(ctx context.Context, p identityCreateParams) (any, error) {
	if p.Label == "" {
		return nil, validationErr("label required")
	}
	if id, ok, err := d.identityLocked(ctx); err != nil {
		return nil, err
	} else if ok && id.Linked {
		return nil, stateErr("already linked to identity %q", id.Label)
	}

	roomKey, err := identity.NewRoomKey()
	if err != nil {
		return nil, cryptoErr("generating room key: %v", err)
	}
	idOpaque, err := identity.NewOpaqueID("idn")
	if err != nil {
		return nil, cryptoErr("generating identity id: %v", err)
	}

	id := identity.Identity{
		ID:      idOpaque,
		Label:   p.Label,
		Linked:  true,
		RoomKey: roomKey,
		Devices: []identity.DeviceEntry{d.selfEntryLocked()},
	}
	if err := d.setIdentityLocked(ctx, id); err != nil {
		return nil, err
	}

	if _, err := d.publishLocked(kindIdentityCreated, identityCreatedPayload{
		Identity:    id.Label,
		IdentityID:  id.ID,
		DevicePk:    d.keys.Pk(),
		DeviceLabel: d.device.Label,
	}, nil, identityTag(id.Label)); err != nil {
		d.logger.Warn("identity_created not published", "error", err)
	}

	d.subscribeLocked(ctx)
	d.adoptPendingZoneLocked(ctx, id)
	d.logger.Info("identity created", "label", id.Label, "id", id.ID)
	return id, nil
}

func (d *Daemon) rpcIdentityGet(ctx context.Context, _ struct{}) (any, error) {
	id, ok, err := d.identityLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return identity.Identity{}, nil
	}
	// The room key never crosses the RPC boundary.
	id.RoomKey = ""
	return id, nil
}

type identitySetLabelParams struct {
	Label string `json:"label"`
}

func (d *Daemon) rpcIdentitySetLabel(ctx context.Context, p identitySetLabelParams) (any, error) {
	if p.Label == "" {
		return nil, validationErr("label required")
	}
	id, err := d.requireLinkedLocked(ctx)
	if err != nil {
		return nil, err
	}
	if id.Label == p.Label {
		return id, nil
	}

	// Scope the rename under the old label: that is the tag the other
	// devices are still subscribed to.
	if _, err := d.publishLocked(kindIdentityLabelUpdate, identityLabelUpdatePayload{
		Identity: id.Label,
		NewLabel: p.Label,
	}, d.cipher, identityTag(id.Label)); err != nil {
		return nil, err
	}

	id.Label = p.Label
	if err := d.setIdentityLocked(ctx, id); err != nil {
		return nil, err
	}
	d.subscribeLocked(ctx)
	return id, nil
}

func (d *Daemon) rpcIdentityNewPairCode(ctx context.Context, _ struct{}) (any, error) {
	code, err := newPairCode()
	if err != nil {
		return nil, cryptoErr("%v", err)
	}
	return map[string]string{"code": code}, nil
}

type requestPairParams struct {
	IdentityLabel string `json:"identityLabel"`
	DeviceLabel   string `json:"deviceLabel"`
	Code          string `json:"code,omitempty"`
}

func (d *Daemon) rpcIdentityRequestPair(ctx context.Context, p requestPairParams) (any, error) {
	if p.IdentityLabel == "" {
		return nil, validationErr("identityLabel required")
	}
	if id, ok, err := d.identityLocked(ctx); err != nil {
		return nil, err
	} else if ok && id.Linked {
		return nil, stateErr("already linked to identity %q", id.Label)
	}

	code := p.Code
	if code == "" {
		var err error
		if code, err = newPairCode(); err != nil {
			return nil, cryptoErr("%v", err)
		}
	}
	deviceLabel := p.DeviceLabel
	if deviceLabel == "" {
		deviceLabel = d.device.Label
	}

	// The local pending entry is this device's join marker; the
	// deterministic id makes the relay echo of our own broadcast a
	// harmless upsert.
	req := identity.PendingRequest{
		ID:            identity.RequestID(p.IdentityLabel, code, d.keys.Pk()),
		IdentityLabel: p.IdentityLabel,
		DevicePk:      d.keys.Pk(),
		DeviceEncPk:   d.keys.EncPk(),
		DeviceDID:     d.device.DID,
		DeviceLabel:   deviceLabel,
		Code:          code,
		Status:        identity.StatusPending,
		CreatedAt:     d.clk.Now().Unix(),
	}
	if err := d.cfg.Store.PutPendingRequest(ctx, req); err != nil {
		return nil, err
	}

	if _, err := d.publishLocked(kindPairRequest, pairRequestPayload{
		Identity:    p.IdentityLabel,
		Code:        code,
		DeviceLabel: deviceLabel,
		DeviceDID:   d.device.DID,
		DevicePk:    d.keys.Pk(),
		DeviceEncPk: d.keys.EncPk(),
	}, nil, identityTag(p.IdentityLabel)); err != nil {
		return nil, err
	}

	return map[string]string{"requestId": req.ID, "code": code}, nil
}

// --- RPC: pairing.* ---

// rpcPairingList returns open requests only. Resolved entries stay in
// the store (resolution is sticky) but never surface here, and a
// request whose device has since become a member is stale by
// definition.
func (d *Daemon) rpcPairingList(ctx context.Context, _ struct{}) (any, error) {
	list, err := d.cfg.Store.PendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	id, _, err := d.cfg.Store.Identity(ctx)
	if err != nil {
		return nil, err
	}
	open := make([]identity.PendingRequest, 0, len(list))
	for _, req := range list {
		if req.Status != identity.StatusPending {
			continue
		}
		if req.DevicePk != "" && id.HasDevice(req.DevicePk) {
			continue
		}
		open = append(open, req)
	}
	return open, nil
}

type pairingRefParams struct {
	RequestID string `json:"requestId"`
}

func (d *Daemon) rpcPairingApprove(ctx context.Context, p pairingRefParams) (any, error) {
	if p.RequestID == "" {
		return nil, validationErr("requestId required")
	}
	id, err := d.requireLinkedLocked(ctx)
	if err != nil {
		return nil, err
	}
	req, ok, err := d.cfg.Store.PendingRequest(ctx, p.RequestID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundErr("no pairing request %s", p.RequestID)
	}
	if req.Status.Resolved() {
		// One-shot: a second approve (or an approve after reject) is a
		// successful no-op.
		return req, nil
	}
	if req.DeviceEncPk == "" {
		return nil, validationErr("request %s carries no encryption key", p.RequestID)
	}

	// Membership first: the sealed grant must describe the device list
	// as it is after this approval.
	id.AddDevice(identity.DeviceEntry{
		Pk:    req.DevicePk,
		EncPk: req.DeviceEncPk,
		DID:   req.DeviceDID,
		Label: req.DeviceLabel,
	})
	if err := d.setIdentityLocked(ctx, id); err != nil {
		return nil, err
	}

	grant, err := json.Marshal(approvalGrant{
		IdentityID: id.ID,
		RoomKey:    id.RoomKey,
		Devices:    id.Devices,
	})
	if err != nil {
		return nil, err
	}
	sealed, err := d.keys.Seal(req.DeviceEncPk, grant)
	if err != nil {
		return nil, cryptoErr("sealing approval: %v", err)
	}

	if _, err := d.publishLocked(kindPairApprove, pairApprovePayload{
		Identity:         id.Label,
		Code:             req.Code,
		ToPk:             req.DevicePk,
		FromPk:           d.keys.Pk(),
		FromEncPk:        d.keys.EncPk(),
		EncryptedRoomKey: sealed,
	}, nil, identityTag(id.Label), targetTag(req.DevicePk)); err != nil {
		return nil, err
	}
	if _, err := d.publishLocked(kindPairResolved, pairResolvedPayload{
		Identity:  id.Label,
		RequestID: req.ID,
		Code:      req.Code,
		DevicePk:  req.DevicePk,
		Status:    string(identity.StatusApproved),
	}, nil, identityTag(id.Label)); err != nil {
		d.logger.Warn("pair_resolved not published", "error", err)
	}

	req.Status = identity.StatusApproved
	req.ResolvedAt = d.clk.Now().Unix()
	if err := d.cfg.Store.PutPendingRequest(ctx, req); err != nil {
		return nil, err
	}

	d.publishIdentityRecordLocked(ctx, id)
	d.logger.Info("pairing approved", "request", req.ID, "device", req.DevicePk)
	return req, nil
}

func (d *Daemon) rpcPairingReject(ctx context.Context, p pairingRefParams) (any, error) {
	if p.RequestID == "" {
		return nil, validationErr("requestId required")
	}
	id, err := d.requireLinkedLocked(ctx)
	if err != nil {
		return nil, err
	}
	req, ok, err := d.cfg.Store.PendingRequest(ctx, p.RequestID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundErr("no pairing request %s", p.RequestID)
	}
	if req.Status.Resolved() {
		return req, nil
	}

	// No key material leaves on a rejection.
	if _, err := d.publishLocked(kindPairReject, pairRejectPayload{
		Identity: id.Label,
		Code:     req.Code,
		ToPk:     req.DevicePk,
		FromPk:   d.keys.Pk(),
	}, nil, identityTag(id.Label), targetTag(req.DevicePk)); err != nil {
		return nil, err
	}
	if _, err := d.publishLocked(kindPairResolved, pairResolvedPayload{
		Identity:  id.Label,
		RequestID: req.ID,
		Code:      req.Code,
		DevicePk:  req.DevicePk,
		Status:    string(identity.StatusRejected),
	}, nil, identityTag(id.Label)); err != nil {
		d.logger.Warn("pair_resolved not published", "error", err)
	}

	req.Status = identity.StatusRejected
	req.ResolvedAt = d.clk.Now().Unix()
	if err := d.cfg.Store.PutPendingRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (d *Daemon) rpcPairingDismiss(ctx context.Context, p pairingRefParams) (any, error) {
	if p.RequestID == "" {
		return nil, validationErr("requestId required")
	}
	req, ok, err := d.cfg.Store.PendingRequest(ctx, p.RequestID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundErr("no pairing request %s", p.RequestID)
	}
	if req.Status.Resolved() {
		return req, nil
	}
	// Dismissal is local: no broadcast, the requester keeps waiting.
	req.Status = identity.StatusDismissed
	req.ResolvedAt = d.clk.Now().Unix()
	if err := d.cfg.Store.PutPendingRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// --- inbound handlers ---

func (d *Daemon) onIdentityCreated(ctx context.Context, ev *wire.Event, payload json.RawMessage) error {
	var p identityCreatedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.IdentityID == "" {
		return nil
	}
	return d.cfg.Store.UpsertDirectory(ctx, identity.DirectoryEntry{
		IdentityID:    p.IdentityID,
		IdentityLabel: p.Identity,
		DevicePk:      p.DevicePk,
		LastSeen:      ev.CreatedAt,
	})
}

func (d *Daemon) onPairRequest(ctx context.Context, ev *wire.Event, payload json.RawMessage) error {
	var p pairRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked || id.Label != p.Identity {
		return err
	}
	if p.DevicePk == "" || p.DevicePk == d.keys.Pk() {
		return nil
	}
	if blocked, err := d.cfg.Store.IsBlocked(ctx, p.DevicePk, p.DeviceDID); err != nil || blocked {
		return err
	}

	reqID := identity.RequestID(p.Identity, p.Code, p.DevicePk)
	if id.HasDevice(p.DevicePk) {
		// Already a member: the request is stale, clear any remnant.
		_, err := d.cfg.Store.RemovePendingRequest(ctx, reqID)
		return err
	}

	if existing, found, err := d.cfg.Store.PendingRequest(ctx, reqID); err != nil {
		return err
	} else if found {
		// Duplicate broadcast; resolved entries stay resolved.
		_ = existing
		return nil
	}

	req := identity.PendingRequest{
		ID:            reqID,
		IdentityLabel: p.Identity,
		IdentityID:    id.ID,
		DevicePk:      p.DevicePk,
		DeviceEncPk:   p.DeviceEncPk,
		DeviceDID:     p.DeviceDID,
		DeviceLabel:   p.DeviceLabel,
		Code:          p.Code,
		Status:        identity.StatusPending,
		CreatedAt:     ev.CreatedAt,
	}
	if err := d.cfg.Store.PutPendingRequest(ctx, req); err != nil {
		return err
	}
	d.notifyLocked(ctx, "pair_request", "Pairing request",
		p.DeviceLabel+" wants to join "+p.Identity+" with code "+p.Code,
		map[string]string{"requestId": reqID})
	return nil
}

func (d *Daemon) onPairApprove(ctx context.Context, ev *wire.Event, payload json.RawMessage) error {
	var p pairApprovePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.ToPk != d.keys.Pk() {
		return nil
	}
	if id, ok, err := d.identityLocked(ctx); err != nil {
		return err
	} else if ok && id.Linked {
		return nil
	}

	// Only adopt approvals for a join this device actually requested.
	reqID := identity.RequestID(p.Identity, p.Code, d.keys.Pk())
	req, found, err := d.cfg.Store.PendingRequest(ctx, reqID)
	if err != nil || !found {
		return err
	}
	if req.Status.Resolved() {
		return nil
	}

	grantRaw, err := d.keys.Open(p.FromEncPk, p.EncryptedRoomKey)
	if err != nil {
		return err
	}
	var grant approvalGrant
	if err := json.Unmarshal(grantRaw, &grant); err != nil {
		return err
	}
	if grant.IdentityID == "" || grant.RoomKey == "" {
		return nil
	}

	id := identity.Identity{
		ID:      grant.IdentityID,
		Label:   p.Identity,
		Linked:  true,
		RoomKey: grant.RoomKey,
		Devices: grant.Devices,
	}
	id.AddDevice(d.selfEntryLocked())
	if err := d.setIdentityLocked(ctx, id); err != nil {
		return err
	}

	req.Status = identity.StatusApproved
	req.ResolvedAt = ev.CreatedAt
	req.IdentityID = grant.IdentityID
	if err := d.cfg.Store.PutPendingRequest(ctx, req); err != nil {
		return err
	}

	d.subscribeLocked(ctx)
	d.adoptPendingZoneLocked(ctx, id)
	d.notifyLocked(ctx, "pair_approved", "Device linked",
		"This device joined "+p.Identity, nil)
	d.logger.Info("pairing adopted", "identity", p.Identity)
	return nil
}

func (d *Daemon) onPairReject(ctx context.Context, ev *wire.Event, payload json.RawMessage) error {
	var p pairRejectPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.ToPk != d.keys.Pk() {
		return nil
	}

	reqID := identity.RequestID(p.Identity, p.Code, d.keys.Pk())
	req, found, err := d.cfg.Store.PendingRequest(ctx, reqID)
	if err != nil || !found || req.Status.Resolved() {
		return err
	}
	req.Status = identity.StatusRejected
	req.ResolvedAt = ev.CreatedAt
	if err := d.cfg.Store.PutPendingRequest(ctx, req); err != nil {
		return err
	}
	d.notifyLocked(ctx, "pair_rejected", "Pairing rejected",
		"Join request for "+p.Identity+" was rejected", nil)
	return nil
}

func (d *Daemon) onPairResolved(ctx context.Context, ev *wire.Event, payload json.RawMessage) error {
	var p pairResolvedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	status := identity.RequestStatus(p.Status)
	if !status.Resolved() {
		return nil
	}

	reqID := p.RequestID
	if reqID == "" {
		reqID = identity.RequestID(p.Identity, p.Code, p.DevicePk)
	}
	req, found, err := d.cfg.Store.PendingRequest(ctx, reqID)
	if err != nil || !found || req.Status.Resolved() {
		return err
	}
	req.Status = status
	req.ResolvedAt = ev.CreatedAt
	return d.cfg.Store.PutPendingRequest(ctx, req)
}

func (d *Daemon) onIdentityLabelUpdate(ctx context.Context, _ *wire.Event, payload json.RawMessage) error {
	var p identityLabelUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked || id.Label != p.Identity || p.NewLabel == "" {
		return err
	}
	id.Label = p.NewLabel
	if err := d.setIdentityLocked(ctx, id); err != nil {
		return err
	}
	d.subscribeLocked(ctx)
	return nil
}
