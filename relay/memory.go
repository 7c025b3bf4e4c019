// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"sync"
)

// memoryQueueSize bounds each client's inbound queue. A full queue
// drops the oldest frame, matching a lossy relay.
const memoryQueueSize = 256

// Memory is an in-process relay hub for tests and single-machine
// setups. Every frame published by any attached client is delivered to
// all clients, publisher included.
type Memory struct {
	mu      sync.Mutex
	clients []*MemoryClient
}

// NewMemory creates an empty hub.
func NewMemory() *Memory {
	return &Memory{}
}

// Attach creates a new connected client.
func (m *Memory) Attach() *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &MemoryClient{
		hub:    m,
		frames: make(chan []byte, memoryQueueSize),
		state:  StateOpen,
	}
	m.clients = append(m.clients, c)
	return c
}

// broadcast delivers frame to every attached client.
func (m *Memory) broadcast(frame []byte) {
	m.mu.Lock()
	clients := make([]*MemoryClient, len(m.clients))
	copy(clients, m.clients)
	m.mu.Unlock()

	for _, c := range clients {
		c.deliver(frame)
	}
}

func (m *Memory) detach(client *MemoryClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.clients {
		if c == client {
			m.clients = append(m.clients[:i], m.clients[i+1:]...)
			return
		}
	}
}

// MemoryClient is one attachment to a Memory hub.
type MemoryClient struct {
	hub    *Memory
	frames chan []byte

	mu    sync.Mutex
	state State
}

var _ Transport = (*MemoryClient)(nil)

// Send publishes the frame to every client on the hub, including this
// one.
func (c *MemoryClient) Send(frame []byte) error {
	c.mu.Lock()
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	// Copy: the caller may reuse the buffer.
	dup := make([]byte, len(frame))
	copy(dup, frame)
	c.hub.broadcast(dup)
	return nil
}

// Frames delivers inbound frames, echoes included.
func (c *MemoryClient) Frames() <-chan []byte { return c.frames }

// State reports open until Close.
func (c *MemoryClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close detaches from the hub.
func (c *MemoryClient) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.hub.detach(c)
	close(c.frames)
	return nil
}

func (c *MemoryClient) deliver(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return
	}
	for {
		select {
		case c.frames <- frame:
			return
		default:
			// Queue full: shed the oldest frame.
			select {
			case <-c.frames:
			default:
			}
		}
	}
}
