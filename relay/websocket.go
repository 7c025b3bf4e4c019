// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// WebsocketConfig configures a relay websocket client.
type WebsocketConfig struct {
	// URL is the relay endpoint (ws:// or wss://).
	URL string

	// OnOpen runs after every successful (re)connect, before inbound
	// frames flow. The daemon uses it to replay its subscription.
	OnOpen func(send func([]byte) error)

	// HandshakeTimeout bounds the websocket handshake. Defaults to 15s.
	HandshakeTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Websocket is a relay client over a single websocket connection with
// best-effort reconnect. Frames published while disconnected are
// rejected with ErrNotOpen, never queued.
type Websocket struct {
	cfg    WebsocketConfig
	frames chan []byte
	stop   chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
}

var _ Transport = (*Websocket)(nil)

// DialWebsocket starts the client. It returns immediately; the
// connection is established (and re-established) in the background.
func DialWebsocket(cfg WebsocketConfig) (*Websocket, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("relay: websocket URL required")
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ws := &Websocket{
		cfg:    cfg,
		frames: make(chan []byte, memoryQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		state:  StateConnecting,
	}
	go ws.run()
	return ws, nil
}

// Send publishes one text frame.
func (ws *Websocket) Send(frame []byte) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.state != StateOpen || ws.conn == nil {
		return ErrNotOpen
	}
	if err := ws.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("relay: send: %w", err)
	}
	return nil
}

// Frames delivers inbound relay frames.
func (ws *Websocket) Frames() <-chan []byte { return ws.frames }

// State reports the connection state.
func (ws *Websocket) State() State {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Close tears the connection down and stops reconnecting.
func (ws *Websocket) Close() error {
	ws.mu.Lock()
	if ws.state == StateClosed {
		ws.mu.Unlock()
		return nil
	}
	ws.state = StateClosed
	conn := ws.conn
	ws.conn = nil
	ws.mu.Unlock()

	close(ws.stop)
	if conn != nil {
		conn.Close()
	}
	<-ws.done
	return nil
}

func (ws *Websocket) run() {
	defer close(ws.done)
	defer close(ws.frames)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = time.Minute
	retry.MaxElapsedTime = 0

	for {
		select {
		case <-ws.stop:
			return
		default:
		}

		dialer := websocket.Dialer{HandshakeTimeout: ws.cfg.HandshakeTimeout}
		conn, _, err := dialer.Dial(ws.cfg.URL, nil)
		if err != nil {
			wait := retry.NextBackOff()
			ws.cfg.Logger.Warn("relay dial failed",
				"url", ws.cfg.URL, "retry_in", wait, "error", err)
			select {
			case <-ws.stop:
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		ws.mu.Lock()
		if ws.state == StateClosed {
			ws.mu.Unlock()
			conn.Close()
			return
		}
		ws.conn = conn
		ws.state = StateOpen
		ws.mu.Unlock()

		ws.cfg.Logger.Info("relay connected", "url", ws.cfg.URL)
		if ws.cfg.OnOpen != nil {
			ws.cfg.OnOpen(ws.Send)
		}

		ws.readLoop(conn)

		ws.mu.Lock()
		closed := ws.state == StateClosed
		if !closed {
			ws.state = StateConnecting
		}
		ws.conn = nil
		ws.mu.Unlock()
		conn.Close()
		if closed {
			return
		}
		ws.cfg.Logger.Warn("relay disconnected", "url", ws.cfg.URL)
	}
}

// readLoop pumps inbound frames until the connection fails.
func (ws *Websocket) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case ws.frames <- frame:
		case <-ws.stop:
			return
		default:
			// Queue full: shed the frame. The protocol tolerates loss.
			ws.cfg.Logger.Debug("relay frame dropped, queue full")
		}
	}
}
