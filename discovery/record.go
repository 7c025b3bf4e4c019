// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/constitute-foundation/constitute/identity"
	"github.com/constitute-foundation/constitute/wire"
)

// Record types.
const (
	TypeIdentity = "identity"
	TypeDevice   = "device"
)

// maxForwardSkew is how far in the future a record's envelope timestamp
// may sit before it is rejected.
const maxForwardSkew = 10 * time.Minute

// Validation failures.
var (
	ErrBadSignature = errors.New("discovery: record signature invalid")
	ErrExpired      = errors.New("discovery: record expired")
	ErrSkew         = errors.New("discovery: record timestamp too far in the future")
	ErrNotMember    = errors.New("discovery: signer not in the record's device list")
	ErrNotSelf      = errors.New("discovery: device record not self-signed")
)

// Body is the JSON content of a discovery record envelope. Identity
// records list the identity's devices; device records advertise one
// device's direct-transport hint.
type Body struct {
	Type          string   `json:"type"`
	IdentityID    string   `json:"identityId,omitempty"`
	IdentityLabel string   `json:"identityLabel,omitempty"`
	DevicePks     []string `json:"devicePks,omitempty"`
	DevicePk      string   `json:"devicePk,omitempty"`
	PeerHint      string   `json:"peerHint,omitempty"`
	TS            int64    `json:"ts"`
	ExpiresAt     int64    `json:"expiresAt"`
}

// ParseBody decodes a record envelope's content.
func ParseBody(ev *wire.Event) (Body, error) {
	var body Body
	if err := json.Unmarshal([]byte(ev.Content), &body); err != nil {
		return Body{}, fmt.Errorf("discovery: malformed record body: %w", err)
	}
	return body, nil
}

// Validate checks a record envelope against the acceptance rules. The
// same rules apply at ingest and at read time.
func Validate(ev *wire.Event, now time.Time) (Body, error) {
	if ev.Kind != wire.KindRecord {
		return Body{}, fmt.Errorf("discovery: kind %d is not a record", ev.Kind)
	}
	if !ev.Verify() {
		return Body{}, ErrBadSignature
	}
	if ev.CreatedAt > now.Add(maxForwardSkew).Unix() {
		return Body{}, ErrSkew
	}

	body, err := ParseBody(ev)
	if err != nil {
		return Body{}, err
	}
	if body.ExpiresAt <= now.Unix() {
		return Body{}, ErrExpired
	}

	switch body.Type {
	case TypeIdentity:
		if body.IdentityID == "" {
			return Body{}, fmt.Errorf("discovery: identity record without id")
		}
		member := false
		for _, pk := range body.DevicePks {
			if pk == ev.Pubkey {
				member = true
				break
			}
		}
		if !member {
			return Body{}, ErrNotMember
		}
	case TypeDevice:
		if body.DevicePk == "" {
			return Body{}, fmt.Errorf("discovery: device record without pk")
		}
		if body.DevicePk != ev.Pubkey {
			return Body{}, ErrNotSelf
		}
	default:
		return Body{}, fmt.Errorf("discovery: unknown record type %q", body.Type)
	}
	return body, nil
}

// BuildIdentityRecord signs a fresh identity record for the local
// identity.
func BuildIdentityRecord(keys *identity.Keyring, appTag string, id identity.Identity, ttl time.Duration, now time.Time) (*wire.Event, error) {
	pks := make([]string, 0, len(id.Devices))
	for _, d := range id.Devices {
		pks = append(pks, d.Pk)
	}
	return buildRecord(keys, appTag, Body{
		Type:          TypeIdentity,
		IdentityID:    id.ID,
		IdentityLabel: id.Label,
		DevicePks:     pks,
		TS:            now.Unix(),
		ExpiresAt:     now.Add(ttl).Unix(),
	}, now)
}

// BuildDeviceRecord signs a fresh device record advertising this
// device's direct-transport hint.
func BuildDeviceRecord(keys *identity.Keyring, appTag, peerHint string, ttl time.Duration, now time.Time) (*wire.Event, error) {
	return buildRecord(keys, appTag, Body{
		Type:      TypeDevice,
		DevicePk:  keys.Pk(),
		PeerHint:  peerHint,
		TS:        now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}, now)
}

func buildRecord(keys *identity.Keyring, appTag string, body Body, now time.Time) (*wire.Event, error) {
	content, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("discovery: encoding record: %w", err)
	}
	ev := &wire.Event{
		Kind:      wire.KindRecord,
		CreatedAt: now.Unix(),
		Tags:      [][]string{{wire.TagApp, appTag}},
		Content:   string(content),
	}
	if err := ev.Sign(keys); err != nil {
		return nil, err
	}
	return ev, nil
}
