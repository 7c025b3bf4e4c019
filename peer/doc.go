// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package peer provides direct device-to-device connections over WebRTC
// data channels, signaled through the broadcast relay. Establishment
// uses vanilla ICE: all candidates are gathered before a description is
// published, so signaling needs exactly one offer/answer round-trip.
// On top of the raw channels sits a small CBOR frame protocol for
// exchanging discovery records.
package peer
