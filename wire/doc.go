// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the relay wire protocol: signed, tagged
// event envelopes carried in JSON array frames over an untrusted
// broadcast channel.
//
// The envelope is {id, pubkey, created_at, kind, tags, content, sig}.
// The id is the blake3 hash of a canonical serialization; the sig is
// an Ed25519 signature over the id. Any party can publish, duplicate,
// or replay frames; verification happens here, policy (replay
// windows, blocklists, identity scoping) happens in the daemon.
//
// Event content is either a plaintext message {kind, payload} or an
// encrypted wrapper {kind: "enc", room, type, cipher: {iv, ct}}. The
// wrapper's ciphertext is ChaCha20-Poly1305 under the identity's room
// key, with additional authenticated data binding (room, type, sender,
// created_at) so a ciphertext cannot be replayed into a different
// context. Bootstrap kinds stay plaintext so a device without the room
// key can still pair or learn of its own revocation.
package wire
