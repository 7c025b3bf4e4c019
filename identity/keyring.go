// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// Keyring carries both halves of a device's cryptographic identity:
// an Ed25519 pair for envelope signatures and an X25519 pair for
// sealed boxes (pair approvals, room key updates). Signatures and
// encryption never share key material.
type Keyring struct {
	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey

	encPriv [32]byte
	encPub  [32]byte
}

// KeyringRecord is the persisted form of a Keyring, hex encoded inside
// the device record.
type KeyringRecord struct {
	SignPriv string `json:"signPriv"`
	SignPub  string `json:"signPub"`
	EncPriv  string `json:"encPriv"`
	EncPub   string `json:"encPub"`
}

// NewKeyring generates fresh Ed25519 and X25519 pairs.
func NewKeyring() (*Keyring, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating signing key: %w", err)
	}
	encPub, encPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating encryption key: %w", err)
	}
	return &Keyring{
		signPriv: signPriv,
		signPub:  signPub,
		encPriv:  *encPriv,
		encPub:   *encPub,
	}, nil
}

// LoadKeyring reconstructs a Keyring from its persisted record.
func LoadKeyring(rec KeyringRecord) (*Keyring, error) {
	signPriv, err := hex.DecodeString(rec.SignPriv)
	if err != nil || len(signPriv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: invalid signing key in keyring record")
	}
	encPriv, err := hex.DecodeString(rec.EncPriv)
	if err != nil || len(encPriv) != 32 {
		return nil, fmt.Errorf("identity: invalid encryption key in keyring record")
	}

	kr := &Keyring{signPriv: ed25519.PrivateKey(signPriv)}
	kr.signPub = kr.signPriv.Public().(ed25519.PublicKey)
	copy(kr.encPriv[:], encPriv)

	// Recompute the public half rather than trusting the record.
	curve25519.ScalarBaseMult(&kr.encPub, &kr.encPriv)
	return kr, nil
}

// Record returns the persistable form of the keyring.
func (k *Keyring) Record() KeyringRecord {
	return KeyringRecord{
		SignPriv: hex.EncodeToString(k.signPriv),
		SignPub:  hex.EncodeToString(k.signPub),
		EncPriv:  hex.EncodeToString(k.encPriv[:]),
		EncPub:   hex.EncodeToString(k.encPub[:]),
	}
}

// Pk returns the hex signing public key, the device's primary
// identifier on the relay.
func (k *Keyring) Pk() string { return hex.EncodeToString(k.signPub) }

// EncPk returns the hex X25519 public key sealed boxes are addressed
// to.
func (k *Keyring) EncPk() string { return hex.EncodeToString(k.encPub[:]) }

// Sign signs message with the device's Ed25519 key.
func (k *Keyring) Sign(message []byte) []byte {
	return ed25519.Sign(k.signPriv, message)
}

// Verify checks an Ed25519 signature against a hex public key.
func Verify(pkHex string, message, signature []byte) bool {
	pk, err := hex.DecodeString(pkHex)
	if err != nil || len(pk) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk), message, signature)
}

// Seal encrypts plaintext to the recipient's X25519 public key using
// nacl box (static-static). The random 24-byte nonce is prepended to
// the ciphertext; the result is base64url.
func (k *Keyring) Seal(recipientEncPkHex string, plaintext []byte) (string, error) {
	recipient, err := decodeBoxKey(recipientEncPkHex)
	if err != nil {
		return "", err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("identity: generating nonce: %w", err)
	}

	sealed := box.Seal(nonce[:], plaintext, &nonce, recipient, &k.encPriv)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a Seal-produced box from the sender's X25519 public
// key.
func (k *Keyring) Open(senderEncPkHex, sealed string) ([]byte, error) {
	sender, err := decodeBoxKey(senderEncPkHex)
	if err != nil {
		return nil, err
	}

	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("identity: malformed sealed box: %w", err)
	}
	if len(raw) < 24 {
		return nil, fmt.Errorf("identity: sealed box too short")
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plaintext, ok := box.Open(nil, raw[24:], &nonce, sender, &k.encPriv)
	if !ok {
		return nil, fmt.Errorf("identity: sealed box did not open")
	}
	return plaintext, nil
}

func decodeBoxKey(pkHex string) (*[32]byte, error) {
	raw, err := hex.DecodeString(pkHex)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("identity: invalid encryption public key %q", pkHex)
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
