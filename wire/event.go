// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/constitute-foundation/constitute/identity"
)

// Event kinds on the relay.
const (
	// KindApp carries all daemon protocol messages.
	KindApp = 1
	// KindRecord carries signed discovery records.
	KindRecord = 30078
)

// Well-known tag keys.
const (
	TagApp      = "t" // application tag, required on every event
	TagIdentity = "i" // identity label scoping
	TagZone     = "z" // zone key scoping
	TagTarget   = "p" // target device pk for point-to-point kinds
	TagType     = "type"
)

// Event is the signed relay envelope.
type Event struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// canonical returns the byte serialization that the event id commits
// to: [0, pubkey, created_at, kind, tags, content] as compact JSON.
func (e *Event) canonical() ([]byte, error) {
	return json.Marshal([]any{0, e.Pubkey, e.CreatedAt, e.Kind, e.Tags, e.Content})
}

// ComputeID returns the hex blake3 hash of the canonical
// serialization.
func (e *Event) ComputeID() (string, error) {
	canon, err := e.canonical()
	if err != nil {
		return "", fmt.Errorf("wire: serializing event: %w", err)
	}
	sum := blake3.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Sign computes the event id and signs it with the device keyring.
// Pubkey is set from the keyring; any previous id/sig is replaced.
func (e *Event) Sign(keys *identity.Keyring) error {
	e.Pubkey = keys.Pk()
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("wire: decoding event id: %w", err)
	}
	e.ID = id
	e.Sig = hex.EncodeToString(keys.Sign(idBytes))
	return nil
}

// Verify checks that the id matches the canonical serialization and
// that the signature verifies under the envelope pubkey. Malformed
// events verify false, never panic; this is the trust boundary for
// everything off the relay.
func (e *Event) Verify() bool {
	if e.Pubkey == "" || e.ID == "" || e.Sig == "" {
		return false
	}
	id, err := e.ComputeID()
	if err != nil || id != e.ID {
		return false
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false
	}
	return identity.Verify(e.Pubkey, idBytes, sig)
}

// Tag returns the first value of the first tag with the given key.
func (e *Event) Tag(key string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1], true
		}
	}
	return "", false
}

// HasTag reports whether a tag with the given key and value exists.
func (e *Event) HasTag(key, value string) bool {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == key && tag[1] == value {
			return true
		}
	}
	return false
}
