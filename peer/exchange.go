// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/constitute-foundation/constitute/lib/codec"
	"github.com/constitute-foundation/constitute/wire"
)

// Exchange ops.
const (
	OpPush = "push"
	OpPull = "pull"
)

// ExchangeFrame is one message of the record exchange protocol: a CBOR
// stream of self-delimiting frames, no length prefix needed.
type ExchangeFrame struct {
	Op      string        `json:"op"`
	Records []*wire.Event `json:"records,omitempty"`
}

// PushRecords sends records to the peer and returns. The receiver
// validates every record itself; this is transport, not trust.
func PushRecords(conn net.Conn, records []*wire.Event) error {
	err := codec.NewEncoder(conn).Encode(ExchangeFrame{Op: OpPush, Records: records})
	if err != nil {
		return fmt.Errorf("peer: pushing records: %w", err)
	}
	return nil
}

// PullRecords asks the peer for its records and reads the reply.
func PullRecords(conn net.Conn) ([]*wire.Event, error) {
	if err := codec.NewEncoder(conn).Encode(ExchangeFrame{Op: OpPull}); err != nil {
		return nil, fmt.Errorf("peer: sending pull: %w", err)
	}
	var reply ExchangeFrame
	if err := codec.NewDecoder(conn).Decode(&reply); err != nil {
		return nil, fmt.Errorf("peer: reading pull reply: %w", err)
	}
	if reply.Op != OpPush {
		return nil, fmt.Errorf("peer: unexpected reply op %q", reply.Op)
	}
	return reply.Records, nil
}

// ServeExchange answers frames on one inbound connection until the
// peer hangs up. Pushed records go to sink; pulls are answered from
// source.
func ServeExchange(conn net.Conn, source func() []*wire.Event, sink func([]*wire.Event)) error {
	defer conn.Close()
	dec := codec.NewDecoder(conn)
	enc := codec.NewEncoder(conn)
	for {
		var frame ExchangeFrame
		if err := dec.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("peer: reading exchange frame: %w", err)
		}
		switch frame.Op {
		case OpPush:
			if sink != nil {
				sink(frame.Records)
			}
		case OpPull:
			var records []*wire.Event
			if source != nil {
				records = source()
			}
			if err := enc.Encode(ExchangeFrame{Op: OpPush, Records: records}); err != nil {
				return fmt.Errorf("peer: answering pull: %w", err)
			}
		default:
			return fmt.Errorf("peer: unknown exchange op %q", frame.Op)
		}
	}
}
