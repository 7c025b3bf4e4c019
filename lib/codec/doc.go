// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration.
//
// Constitute uses two serialization formats with a clear boundary:
//
//   - JSON for the relay wire protocol, whose frame and envelope shapes
//     are fixed by the broadcast channel (see package wire).
//   - CBOR for everything that is ours: store values, the control
//     socket protocol, and peer data-channel frames.
//
// This package holds the shared encoder and decoder modes so every
// package encodes identically. The encoder uses Core Deterministic
// Encoding; the decoder ignores unknown fields for forward
// compatibility.
//
// Types serialized only as CBOR carry `cbor` struct tags. Types that
// also cross the JSON boundary carry `json` tags, which fxamacker/cbor
// reads as fallback, never both on the same field.
package codec
