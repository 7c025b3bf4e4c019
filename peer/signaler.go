// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"fmt"
	"sync"
)

// Signal kinds.
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
)

// Signaler publishes session descriptions to a remote device. Inbound
// signals are pushed into the transport by the caller (the daemon
// routes relay events here), so the interface only covers the outbound
// direction.
type Signaler interface {
	// Publish delivers one signal (kind SignalOffer or SignalAnswer)
	// from this device to the target device.
	Publish(ctx context.Context, toPk, kind, sdp string) error
}

// SignalerFunc adapts a function to the Signaler interface.
type SignalerFunc func(ctx context.Context, toPk, kind, sdp string) error

func (f SignalerFunc) Publish(ctx context.Context, toPk, kind, sdp string) error {
	return f(ctx, toPk, kind, sdp)
}

// MemorySignaler routes signals between transports in the same process.
// Tests register each transport under its device pk; Publish delivers
// straight into the target's HandleSignal.
type MemorySignaler struct {
	mu         sync.Mutex
	transports map[string]*Transport
}

// NewMemorySignaler creates an empty in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{transports: make(map[string]*Transport)}
}

// Register attaches a transport under its device pk.
func (m *MemorySignaler) Register(pk string, t *Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[pk] = t
}

// For returns a Signaler that stamps outbound signals with fromPk.
func (m *MemorySignaler) For(fromPk string) Signaler {
	return SignalerFunc(func(ctx context.Context, toPk, kind, sdp string) error {
		m.mu.Lock()
		target := m.transports[toPk]
		m.mu.Unlock()
		if target == nil {
			return fmt.Errorf("peer: no transport registered for %s", toPk)
		}
		// Deliver asynchronously: a real relay never blocks the publisher
		// on the recipient's processing.
		go target.HandleSignal(fromPk, kind, sdp)
		return nil
	})
}
