// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"io"
	"net"
	"sync"
	"time"
)

// Conn wraps a detached pion data channel as a net.Conn. SCTP handles
// fragmentation and reassembly underneath, so the stream behaves like
// TCP for the frame protocol above it.
//
// Deadlines close the underlying stream to unblock pending I/O, the
// same trade net.Pipe makes: once a deadline fires the conn is broken
// for good.
type Conn struct {
	rwc   io.ReadWriteCloser
	local string
	peer  string

	mu       sync.Mutex
	deadline *time.Timer
	broken   bool
}

var _ net.Conn = (*Conn)(nil)

// newConn wraps a detached data channel stream.
func newConn(rwc io.ReadWriteCloser, local, peer string) *Conn {
	return &Conn{rwc: rwc, local: local, peer: peer}
}

func (c *Conn) Read(p []byte) (int, error)  { return c.rwc.Read(p) }
func (c *Conn) Write(p []byte) (int, error) { return c.rwc.Write(p) }

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}
	c.mu.Unlock()
	return c.rwc.Close()
}

func (c *Conn) LocalAddr() net.Addr  { return channelAddr(c.local) }
func (c *Conn) RemoteAddr() net.Addr { return channelAddr(c.peer) }

// SetDeadline arms a single timer covering both directions. A zero
// deadline disarms it.
func (c *Conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}
	if t.IsZero() || c.broken {
		return nil
	}
	d := time.Until(t)
	if d <= 0 {
		c.breakLocked()
		return nil
	}
	c.deadline = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.breakLocked()
	})
	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error  { return c.SetDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.SetDeadline(t) }

func (c *Conn) breakLocked() {
	if c.broken {
		return
	}
	c.broken = true
	c.rwc.Close()
}

// channelAddr is a synthetic net.Addr naming a data channel endpoint.
type channelAddr string

func (a channelAddr) Network() string { return "webrtc" }
func (a channelAddr) String() string  { return string(a) }
