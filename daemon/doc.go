// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon is the constitute protocol engine: device identity,
// pairing, revocation with room-key rotation, zone presence, chat, and
// the discovery record swarm, all driven over an untrusted broadcast
// relay.
//
// The engine has two entry points: [Daemon.Dispatch] for caller RPCs
// (exposed over the control socket) and [Daemon.Ingest] for raw relay
// frames. A single mutex serializes both, so every operation is a
// complete read-mutate-write cycle against the store. Everything
// arriving through Ingest is untrusted: malformed, unverifiable,
// replayed, or undecryptable events are dropped and logged, never
// surfaced as errors.
package daemon
