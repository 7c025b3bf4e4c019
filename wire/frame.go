// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"
)

// Frame types on the relay.
const (
	FrameEvent  = "EVENT"
	FrameReq    = "REQ"
	FrameNotice = "NOTICE"
	FrameEOSE   = "EOSE"
)

// Frame is one parsed relay frame.
type Frame struct {
	Type   string
	SubID  string
	Event  *Event
	Notice string
}

// Filter is a subscription filter. Tag filters use the relay's
// "#<key>" convention.
type Filter struct {
	Kinds       []int    `json:"kinds,omitempty"`
	AppTags     []string `json:"#t,omitempty"`
	IdentityTag []string `json:"#i,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

// EventFrame encodes an outbound ["EVENT", event] frame.
func EventFrame(event *Event) ([]byte, error) {
	frame, err := json.Marshal([]any{FrameEvent, event})
	if err != nil {
		return nil, fmt.Errorf("wire: encoding event frame: %w", err)
	}
	return frame, nil
}

// ReqFrame encodes a ["REQ", subID, filter...] subscription frame.
func ReqFrame(subID string, filters ...Filter) ([]byte, error) {
	parts := []any{FrameReq, subID}
	for _, f := range filters {
		parts = append(parts, f)
	}
	frame, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding req frame: %w", err)
	}
	return frame, nil
}

// ParseFrame decodes one inbound relay frame. Inbound EVENT frames are
// ["EVENT", subID, event]; outbound-echoed two-element forms are also
// accepted. The envelope signature is NOT checked here; callers
// verify before acting.
func ParseFrame(raw []byte) (*Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("wire: empty frame")
	}

	var frameType string
	if err := json.Unmarshal(parts[0], &frameType); err != nil {
		return nil, fmt.Errorf("wire: malformed frame type: %w", err)
	}

	frame := &Frame{Type: frameType}
	switch frameType {
	case FrameEvent:
		eventRaw := parts[len(parts)-1]
		if len(parts) == 3 {
			if err := json.Unmarshal(parts[1], &frame.SubID); err != nil {
				return nil, fmt.Errorf("wire: malformed sub id: %w", err)
			}
		} else if len(parts) != 2 {
			return nil, fmt.Errorf("wire: EVENT frame with %d elements", len(parts))
		}
		frame.Event = &Event{}
		if err := json.Unmarshal(eventRaw, frame.Event); err != nil {
			return nil, fmt.Errorf("wire: malformed event: %w", err)
		}
	case FrameNotice:
		if len(parts) >= 2 {
			// Notices are advisory; a malformed body is just empty.
			_ = json.Unmarshal(parts[1], &frame.Notice)
		}
	case FrameEOSE:
		if len(parts) >= 2 {
			_ = json.Unmarshal(parts[1], &frame.SubID)
		}
	}
	return frame, nil
}
