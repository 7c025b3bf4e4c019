// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// kindEnc marks encrypted content wrappers.
const kindEnc = "enc"

// Bootstrap kinds are always published plaintext: a device that holds
// no room key must still be able to pair, and a revoked device must
// still learn of its own revocation.
var bootstrapKinds = map[string]bool{
	"identity_created": true,
	"pair_request":     true,
	"pair_approve":     true,
	"pair_reject":      true,
	"pair_resolved":    true,
	"device_revoked":   true,
	"device_blocked":   true,
}

// Bootstrap reports whether the message kind must stay plaintext.
func Bootstrap(kind string) bool { return bootstrapKinds[kind] }

// ErrNoRoomKey is returned when encrypted content arrives and no room
// cipher is available.
var ErrNoRoomKey = errors.New("wire: encrypted content without a room key")

// ErrWrongRoom is returned when encrypted content addresses a room the
// receiver is not in. Not an attack, just traffic for someone else.
var ErrWrongRoom = errors.New("wire: content for a different room")

// message is the JSON shape of event content. Plaintext messages use
// Kind+Payload; encrypted wrappers use Kind="enc" with Room, Type, and
// Cipher, where Type is the inner message kind (authenticated through
// the AEAD's additional data, so it cannot be swapped).
type message struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Room    string          `json:"room,omitempty"`
	Type    string          `json:"type,omitempty"`
	Cipher  *cipherText     `json:"cipher,omitempty"`
}

type cipherText struct {
	IV string `json:"iv"`
	CT string `json:"ct"`
}

// BuildPlain encodes a plaintext {kind, payload} content string.
func BuildPlain(kind string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("wire: encoding %s payload: %w", kind, err)
	}
	content, err := json.Marshal(message{Kind: kind, Payload: raw})
	if err != nil {
		return "", fmt.Errorf("wire: encoding %s content: %w", kind, err)
	}
	return string(content), nil
}

// RoomCipher encrypts and decrypts identity-scoped content under the
// shared room key.
type RoomCipher struct {
	roomID string
	aead   cipher.AEAD
}

// NewRoomCipher builds a cipher for the given room id and base64url
// room key.
func NewRoomCipher(roomID, roomKey string) (*RoomCipher, error) {
	key, err := base64.RawURLEncoding.DecodeString(roomKey)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("wire: invalid room key")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("wire: room cipher: %w", err)
	}
	return &RoomCipher{roomID: roomID, aead: aead}, nil
}

// RoomID returns the room this cipher belongs to.
func (rc *RoomCipher) RoomID() string { return rc.roomID }

// aad binds a ciphertext to its context: same bytes on encrypt and
// decrypt, so a ciphertext lifted from one (room, kind, sender, time)
// cannot be replayed into another.
func aad(roomID, kind, senderPk string, createdAt int64) []byte {
	return fmt.Appendf(nil, "%s|%s|%s|%d", roomID, kind, senderPk, createdAt)
}

// BuildEncrypted encodes payload as an encrypted wrapper content
// string bound to (room, kind, senderPk, createdAt).
func BuildEncrypted(rc *RoomCipher, kind, senderPk string, createdAt int64, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("wire: encoding %s payload: %w", kind, err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("wire: generating nonce: %w", err)
	}

	sealed := rc.aead.Seal(nil, nonce, raw, aad(rc.roomID, kind, senderPk, createdAt))

	content, err := json.Marshal(message{
		Kind: kindEnc,
		Room: rc.roomID,
		Type: kind,
		Cipher: &cipherText{
			IV: base64.RawURLEncoding.EncodeToString(nonce),
			CT: base64.RawURLEncoding.EncodeToString(sealed),
		},
	})
	if err != nil {
		return "", fmt.Errorf("wire: encoding wrapper: %w", err)
	}
	return string(content), nil
}

// OpenContent decodes event content into (kind, payload). Plaintext
// content decodes directly. Encrypted content requires rc; returns
// ErrNoRoomKey without one and ErrWrongRoom when the wrapper addresses
// a different room. senderPk and createdAt must come from the verified
// envelope, since they are part of the authenticated context.
func OpenContent(content string, rc *RoomCipher, senderPk string, createdAt int64) (string, json.RawMessage, error) {
	var msg message
	if err := json.Unmarshal([]byte(content), &msg); err != nil {
		return "", nil, fmt.Errorf("wire: malformed content: %w", err)
	}
	if msg.Kind == "" {
		return "", nil, fmt.Errorf("wire: content without kind")
	}

	if msg.Kind != kindEnc {
		return msg.Kind, msg.Payload, nil
	}

	if rc == nil {
		return "", nil, ErrNoRoomKey
	}
	if msg.Room != rc.roomID {
		return "", nil, ErrWrongRoom
	}
	if msg.Cipher == nil || msg.Type == "" {
		return "", nil, fmt.Errorf("wire: malformed encrypted wrapper")
	}

	nonce, err := base64.RawURLEncoding.DecodeString(msg.Cipher.IV)
	if err != nil || len(nonce) != chacha20poly1305.NonceSize {
		return "", nil, fmt.Errorf("wire: malformed nonce")
	}
	sealed, err := base64.RawURLEncoding.DecodeString(msg.Cipher.CT)
	if err != nil {
		return "", nil, fmt.Errorf("wire: malformed ciphertext")
	}

	payload, err := rc.aead.Open(nil, nonce, sealed, aad(msg.Room, msg.Type, senderPk, createdAt))
	if err != nil {
		return "", nil, fmt.Errorf("wire: decrypt failed: %w", err)
	}
	return msg.Type, payload, nil
}
