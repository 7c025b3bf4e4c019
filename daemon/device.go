// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/constitute-foundation/constitute/identity"
	"github.com/constitute-foundation/constitute/wire"
)

// deviceState is the device.getState response. Key material never
// crosses the control socket.
type deviceState struct {
	DeviceID          string                    `json:"deviceId"`
	Label             string                    `json:"label"`
	DID               string                    `json:"did"`
	Pk                string                    `json:"pk"`
	EncPk             string                    `json:"encPk"`
	CredentialMethod  identity.CredentialMethod `json:"credentialMethod"`
	CredentialID      string                    `json:"credentialId,omitempty"`
	CredentialSkipped bool                      `json:"credentialSkipped,omitempty"`
	Linked            bool                      `json:"linked"`
	IdentityLabel     string                    `json:"identityLabel,omitempty"`
}

func (d *Daemon) rpcDeviceGetState(ctx context.Context, _ struct{}) (any, error) {
	state := deviceState{
		DeviceID:          d.device.DeviceID,
		Label:             d.device.Label,
		DID:               d.device.DID,
		Pk:                d.keys.Pk(),
		EncPk:             d.keys.EncPk(),
		CredentialMethod:  d.device.CredentialMethod,
		CredentialID:      d.device.CredentialID,
		CredentialSkipped: d.device.CredentialSkipped,
	}
	if id, ok, err := d.identityLocked(ctx); err != nil {
		return nil, err
	} else if ok && id.Linked {
		state.Linked = true
		state.IdentityLabel = id.Label
	}
	return state, nil
}

func (d *Daemon) rpcDeviceGetLabel(ctx context.Context, _ struct{}) (any, error) {
	return map[string]string{"label": d.device.Label}, nil
}

type deviceSetLabelParams struct {
	Label string `json:"label"`
}

// rpcDeviceSetLabel renames this device and propagates the rename to
// the identity's other devices.
func (d *Daemon) rpcDeviceSetLabel(ctx context.Context, p deviceSetLabelParams) (any, error) {
	if p.Label == "" {
		return nil, validationErr("label required")
	}
	d.device.Label = p.Label
	if err := d.cfg.Store.SetDevice(ctx, d.device); err != nil {
		return nil, err
	}
	if err := d.broadcastDeviceEntryLocked(ctx); err != nil {
		d.logger.Warn("device label update not published", "error", err)
	}
	return map[string]string{"label": p.Label}, nil
}

// broadcastDeviceEntryLocked publishes this device's current entry
// (label and DID) to the identity's other members. A no-op when
// unlinked.
func (d *Daemon) broadcastDeviceEntryLocked(ctx context.Context) error {
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked {
		return err
	}
	changed := false
	for i := range id.Devices {
		if id.Devices[i].Pk != d.keys.Pk() {
			continue
		}
		if id.Devices[i].Label != d.device.Label || id.Devices[i].DID != d.device.DID {
			id.Devices[i].Label = d.device.Label
			id.Devices[i].DID = d.device.DID
			changed = true
		}
	}
	if changed {
		if err := d.setIdentityLocked(ctx, id); err != nil {
			return err
		}
	}
	_, err = d.publishLocked(kindDeviceLabelUpdate, deviceLabelUpdatePayload{
		Identity:    id.Label,
		DevicePk:    d.keys.Pk(),
		DeviceLabel: d.device.Label,
		DeviceDID:   d.device.DID,
	}, d.cipher, identityTag(id.Label))
	return err
}

// rpcDeviceWantHardwareUpgrade reports whether the hardware credential
// ceremony should be offered: still on a software credential, not
// previously declined, and an attestor is wired in.
func (d *Daemon) rpcDeviceWantHardwareUpgrade(ctx context.Context, _ struct{}) (any, error) {
	want := d.device.CredentialMethod == identity.CredentialSoft &&
		!d.device.CredentialSkipped &&
		d.cfg.Attestor != nil
	return map[string]bool{"want": want}, nil
}

type hardwareCredentialParams struct {
	// CredentialID short-circuits the attestor when the caller already
	// ran the ceremony out of band.
	CredentialID string `json:"credentialId"`
}

func (d *Daemon) rpcDeviceSetHardwareCredential(ctx context.Context, p hardwareCredentialParams) (any, error) {
	credentialID := p.CredentialID
	if credentialID == "" {
		if d.cfg.Attestor == nil {
			return nil, stateErr("hardware credentials unsupported")
		}
		id, err := d.cfg.Attestor.Upgrade(ctx)
		if err != nil {
			if errors.Is(err, ErrUnsupported) {
				return nil, stateErr("hardware credentials unsupported")
			}
			return nil, cryptoErr("hardware upgrade failed: %v", err)
		}
		credentialID = id
	}

	d.device.CredentialMethod = identity.CredentialHardware
	d.device.CredentialID = credentialID
	d.device.DID = "did:device:hardware:" + credentialID
	if err := d.cfg.Store.SetDevice(ctx, d.device); err != nil {
		return nil, err
	}
	if err := d.broadcastDeviceEntryLocked(ctx); err != nil {
		d.logger.Warn("credential update not published", "error", err)
	}
	d.logger.Info("hardware credential set", "credential_id", credentialID)
	return map[string]string{"credentialId": credentialID, "did": d.device.DID}, nil
}

func (d *Daemon) rpcDeviceNoteHardwareCredentialSkipped(ctx context.Context, _ struct{}) (any, error) {
	d.device.CredentialSkipped = true
	if err := d.cfg.Store.SetDevice(ctx, d.device); err != nil {
		return nil, err
	}
	return map[string]bool{"skipped": true}, nil
}

func (d *Daemon) onDeviceLabelUpdate(ctx context.Context, _ *wire.Event, payload json.RawMessage) error {
	var p deviceLabelUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.DevicePk == "" || p.DevicePk == d.keys.Pk() {
		return nil
	}
	id, ok, err := d.identityLocked(ctx)
	if err != nil || !ok || !id.Linked || id.Label != p.Identity {
		return err
	}
	changed := false
	for i := range id.Devices {
		if id.Devices[i].Pk != p.DevicePk {
			continue
		}
		if p.DeviceLabel != "" && id.Devices[i].Label != p.DeviceLabel {
			id.Devices[i].Label = p.DeviceLabel
			changed = true
		}
		if p.DeviceDID != "" && id.Devices[i].DID != p.DeviceDID {
			id.Devices[i].DID = p.DeviceDID
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return d.setIdentityLocked(ctx, id)
}

// --- relay introspection ---

func (d *Daemon) rpcRelayStatus(ctx context.Context, _ struct{}) (any, error) {
	return map[string]string{"state": string(d.cfg.Transport.State())}, nil
}

func (d *Daemon) rpcRelayRx(ctx context.Context, _ struct{}) (any, error) {
	return map[string]int64{"rx": d.rx.Load()}, nil
}

func (d *Daemon) rpcRelayTx(ctx context.Context, _ struct{}) (any, error) {
	return map[string]int64{"tx": d.tx.Load()}, nil
}
