// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/constitute-foundation/constitute/identity"
	"github.com/constitute-foundation/constitute/lib/testutil"
	"github.com/constitute-foundation/constitute/wire"
)

func signedRecord(t *testing.T, content string) *wire.Event {
	t.Helper()
	keys, err := identity.NewKeyring()
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	ev := &wire.Event{
		Kind:      wire.KindRecord,
		CreatedAt: 1700000000,
		Tags:      [][]string{{wire.TagApp, "constitute"}},
		Content:   content,
	}
	if err := ev.Sign(keys); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return ev
}

func TestExchangePushOverPipe(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()

	received := make(chan []*wire.Event, 1)
	go ServeExchange(server, nil, func(records []*wire.Event) {
		received <- records
	})

	record := signedRecord(t, `{"type":"device"}`)
	if err := PushRecords(client, []*wire.Event{record}); err != nil {
		t.Fatalf("PushRecords: %v", err)
	}
	got := testutil.RequireReceive(t, received, time.Second, "pushed records")
	if len(got) != 1 || got[0].ID != record.ID {
		t.Errorf("received %d records", len(got))
	}
	if !got[0].Verify() {
		t.Error("record signature broken in transit")
	}
	client.Close()
}

func TestExchangePullOverPipe(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()

	record := signedRecord(t, `{"type":"identity"}`)
	go ServeExchange(server, func() []*wire.Event {
		return []*wire.Event{record}
	}, nil)

	got, err := PullRecords(client)
	if err != nil {
		t.Fatalf("PullRecords: %v", err)
	}
	if len(got) != 1 || got[0].ID != record.ID {
		t.Fatalf("pulled %d records", len(got))
	}
	client.Close()
}

func TestExchangePullEmpty(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	go ServeExchange(server, nil, nil)

	got, err := PullRecords(client)
	if err != nil {
		t.Fatalf("PullRecords: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("pulled %d records from an empty source", len(got))
	}
	client.Close()
}

func TestMemorySignalerRouting(t *testing.T) {
	t.Parallel()
	hub := NewMemorySignaler()
	if err := hub.For("a").Publish(context.Background(), "missing", SignalOffer, "sdp"); err == nil {
		t.Error("publish to unregistered peer succeeded")
	}
}

// TestDialAndExchange drives a full WebRTC establishment between two
// transports over the in-process signaler, then exchanges records both
// ways on the data channel.
func TestDialAndExchange(t *testing.T) {
	t.Parallel()
	hub := NewMemorySignaler()

	record := signedRecord(t, `{"type":"device"}`)
	served := make(chan []*wire.Event, 1)

	var responder *Transport
	responder, err := NewTransport(Config{
		DevicePk: "bb-responder",
		Signaler: hub.For("bb-responder"),
		OnConn: func(fromPk string, conn net.Conn) {
			ServeExchange(conn,
				func() []*wire.Event { return []*wire.Event{record} },
				func(records []*wire.Event) { served <- records },
			)
		},
	})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer responder.Close()

	dialer, err := NewTransport(Config{
		DevicePk: "aa-dialer",
		Signaler: hub.For("aa-dialer"),
	})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer dialer.Close()

	hub.Register("aa-dialer", dialer)
	hub.Register("bb-responder", responder)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	conn, err := dialer.Dial(ctx, "bb-responder")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	pulled, err := PullRecords(conn)
	if err != nil {
		t.Fatalf("PullRecords: %v", err)
	}
	if len(pulled) != 1 || pulled[0].ID != record.ID {
		t.Fatalf("pulled %d records", len(pulled))
	}

	pushed := signedRecord(t, `{"type":"identity"}`)
	if err := PushRecords(conn, []*wire.Event{pushed}); err != nil {
		t.Fatalf("PushRecords: %v", err)
	}
	got := testutil.RequireReceive(t, served, 10*time.Second, "records at responder")
	if len(got) != 1 || got[0].ID != pushed.ID {
		t.Errorf("responder received %d records", len(got))
	}

	// A second dial reuses the established PeerConnection.
	conn2, err := dialer.Dial(ctx, "bb-responder")
	if err != nil {
		t.Fatalf("second Dial: %v", err)
	}
	conn2.Close()
}

func TestConnDeadlineBreaksPipe(t *testing.T) {
	t.Parallel()
	a, b := net.Pipe()
	conn := newConn(a, "local", "remote")
	defer b.Close()

	if err := conn.SetDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
		t.Fatalf("SetDeadline: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("Read returned without error after deadline")
	}
}
