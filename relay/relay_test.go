// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/constitute-foundation/constitute/lib/testutil"
)

func TestMemoryBroadcastIncludesEcho(t *testing.T) {
	t.Parallel()
	hub := NewMemory()
	a := hub.Attach()
	b := hub.Attach()
	defer a.Close()
	defer b.Close()

	if err := a.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	gotB := testutil.RequireReceive(t, b.Frames(), time.Second, "frame at b")
	if string(gotB) != "hello" {
		t.Errorf("b received %q", gotB)
	}
	// The publisher hears its own frame back, like a real relay.
	gotA := testutil.RequireReceive(t, a.Frames(), time.Second, "echo at a")
	if string(gotA) != "hello" {
		t.Errorf("a received %q", gotA)
	}
}

func TestMemoryClose(t *testing.T) {
	t.Parallel()
	hub := NewMemory()
	a := hub.Attach()
	b := hub.Attach()

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if a.State() != StateClosed {
		t.Errorf("state = %s, want closed", a.State())
	}
	if err := a.Send([]byte("x")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send after close = %v, want ErrNotOpen", err)
	}

	// Closed clients no longer receive.
	if err := b.Send([]byte("still here")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case frame, ok := <-a.Frames():
		if ok {
			t.Errorf("closed client received %q", frame)
		}
	case <-time.After(50 * time.Millisecond):
		t.Error("closed client's channel not closed")
	}
}

func TestMemoryQueueShedsOldest(t *testing.T) {
	t.Parallel()
	hub := NewMemory()
	a := hub.Attach()
	defer a.Close()

	for i := 0; i < memoryQueueSize+10; i++ {
		if err := a.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}
	// The oldest frames were shed; the first one available is not frame 0.
	first := testutil.RequireReceive(t, a.Frames(), time.Second, "first queued frame")
	if first[0] == 0 {
		t.Error("oldest frame survived a full queue")
	}
}

// echoHub is a minimal relay: every received frame goes to all
// connected clients.
type echoHub struct {
	mu    sync.Mutex
	conns []*websocket.Conn
}

func (h *echoHub) handler(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.mu.Lock()
		for _, c := range h.conns {
			c.WriteMessage(websocket.TextMessage, frame)
		}
		h.mu.Unlock()
	}
}

func TestWebsocketPublishAndEcho(t *testing.T) {
	t.Parallel()
	hub := &echoHub{}
	server := httptest.NewServer(http.HandlerFunc(hub.handler))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	opened := make(chan struct{}, 1)
	ws, err := DialWebsocket(WebsocketConfig{
		URL: url,
		OnOpen: func(send func([]byte) error) {
			opened <- struct{}{}
		},
	})
	if err != nil {
		t.Fatalf("DialWebsocket: %v", err)
	}
	defer ws.Close()

	testutil.RequireReceive(t, opened, 5*time.Second, "OnOpen")
	if ws.State() != StateOpen {
		t.Errorf("state = %s, want open", ws.State())
	}

	if err := ws.Send([]byte(`["EVENT",{}]`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	frame := testutil.RequireReceive(t, ws.Frames(), 5*time.Second, "echoed frame")
	if string(frame) != `["EVENT",{}]` {
		t.Errorf("frame = %q", frame)
	}
}

func TestWebsocketSendWhileDisconnected(t *testing.T) {
	t.Parallel()
	// Nothing listens here; the client stays in connecting.
	ws, err := DialWebsocket(WebsocketConfig{URL: "ws://127.0.0.1:1/relay"})
	if err != nil {
		t.Fatalf("DialWebsocket: %v", err)
	}
	defer ws.Close()

	if err := ws.Send([]byte("x")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send = %v, want ErrNotOpen", err)
	}
}

func TestWebsocketClose(t *testing.T) {
	t.Parallel()
	hub := &echoHub{}
	server := httptest.NewServer(http.HandlerFunc(hub.handler))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	opened := make(chan struct{}, 1)
	ws, err := DialWebsocket(WebsocketConfig{
		URL:    url,
		OnOpen: func(func([]byte) error) { opened <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("DialWebsocket: %v", err)
	}
	testutil.RequireReceive(t, opened, 5*time.Second, "OnOpen")

	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ws.State() != StateClosed {
		t.Errorf("state = %s, want closed", ws.State())
	}
	// The frames channel drains and closes.
	for range ws.Frames() {
	}
	if err := ws.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
