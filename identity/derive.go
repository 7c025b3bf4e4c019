// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// RequestID derives the canonical pairing request id from
// (identityLabel, code, devicePk). Every device computes the same id
// for the same request, so echoed broadcasts dedup and pair_resolved
// markers converge without coordination.
func RequestID(identityLabel, code, devicePk string) string {
	sum := blake3.Sum256([]byte(identityLabel + "|" + code + "|" + devicePk))
	return hex.EncodeToString(sum[:16])
}

// ChatQueueID derives the pairwise chat queue id from two identity
// ids, order-independent.
func ChatQueueID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	sum := blake3.Sum256([]byte(strings.Join(pair, "|")))
	return hex.EncodeToString(sum[:16])
}

// PrivateZoneKey derives the identity's implicit private zone key from
// (identityId, roomKey). All member devices hold both inputs, so they
// agree on the key without gossip. The key rotates with the room key.
func PrivateZoneKey(identityID, roomKey string) string {
	if identityID == "" || roomKey == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(identityID + "|" + roomKey))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:20]
}

// ZoneKeyFromName derives a fresh opaque zone key from a name and a
// random seed, so two zones with the same name get distinct keys.
func ZoneKeyFromName(name string) (string, error) {
	seed := make([]byte, 8)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}
	sum := blake3.Sum256(append([]byte(name+"|"), seed...))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:20], nil
}

// NewRoomKey generates fresh symmetric room key material, base64url.
func NewRoomKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}

// NewOpaqueID generates a short random identifier with the given
// prefix, for identities and notifications.
func NewOpaqueID(prefix string) (string, error) {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return prefix + "-" + base64.RawURLEncoding.EncodeToString(raw), nil
}
