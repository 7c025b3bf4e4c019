// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity defines the data model of the constitute daemon:
// the per-device keyring and descriptor, the logical identity with its
// device membership and room key, pending pairing requests, the device
// blocklist, zones, notifications, and chat messages.
//
// Types here carry `json` struct tags because they cross both
// boundaries: stored as CBOR (fxamacker reads json tags as fallback)
// and returned as JSON-compatible results over the control socket.
//
// Invariants live next to the types: device lists are unique by
// signing key, the room key is present exactly when the identity is
// linked, and derived identifiers (request ids, chat queue ids, the
// implicit private zone key) are deterministic so that every device
// computes them independently and converges.
package identity
