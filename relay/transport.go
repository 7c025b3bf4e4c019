// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import "errors"

// State is the transport connection state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// ErrNotOpen is returned by Send while the transport is not connected.
/// Publishing is best-effort: callers treat this as a soft failure and
// the daemon keeps running.
var ErrNotOpen = errors.New("relay: transport not open")

// Transport is one connection to a broadcast relay. Frames sent by any
// client, including this one, arrive on Frames: the relay echoes
// published events back, so consumers must be idempotent.
type Transport interface {
	// Send publishes one frame. Returns ErrNotOpen while disconnected.
	Send(frame []byte) error
	// Frames delivers inbound frames. Closed when the transport closes.
	Frames() <-chan []byte
	// State reports the current connection state.
	State() State
	// Close shuts the transport down. Idempotent.
	Close() error
}
