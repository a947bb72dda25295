package taskevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFrame is returned when a push message matches none of the known
// wire shapes. Callers log and drop such frames; they are never fatal.
var ErrUnknownFrame = errors.New("unknown frame shape")

// FrameKind discriminates the message shapes of the push protocol.
type FrameKind int

const (
	// FrameAck is the connection acknowledgement, the first frame after a
	// successful open. Carries the confirmed scope id.
	FrameAck FrameKind = iota
	// FrameDiagnostic is a transport timeout/error notice. Logged, non-fatal.
	FrameDiagnostic
	// FrameEvent carries a task event.
	FrameEvent
	// FrameDone is the end-of-stream control signal. It is a distinct variant
	// rather than an entity/status tuple so it can never turn into a
	// transcript entry by accident.
	FrameDone
)

func (k FrameKind) String() string {
	switch k {
	case FrameAck:
		return "ack"
	case FrameDiagnostic:
		return "diagnostic"
	case FrameEvent:
		return "event"
	case FrameDone:
		return "done"
	default:
		return "unknown"
	}
}

// Frame is the parsed form of one push message.
type Frame struct {
	Kind FrameKind

	// FrameAck
	ScopeID string

	// FrameDiagnostic
	DiagnosticType string
	Message        string

	// FrameEvent
	Event Event
}

// rawFrame covers all wire shapes in one pass so a single unmarshal decides
// the frame kind.
type rawFrame struct {
	Type    string  `json:"type"`
	ScopeID string  `json:"scopeId"`
	Message string  `json:"message"`
	Entity  Entity  `json:"entity"`
	ID      string  `json:"id"`
	Status  Status  `json:"status"`
	Payload Payload `json:"payload"`
	TS      string  `json:"ts"`
}

// ParseFrame decodes one push transport message into its frame variant.
// Returns ErrUnknownFrame (wrapped) for JSON that decodes but matches no
// known shape, and a plain error for malformed JSON.
func ParseFrame(data []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}

	switch strings.ToLower(raw.Type) {
	case "connected":
		return Frame{Kind: FrameAck, ScopeID: raw.ScopeID}, nil
	case "timeout", "error":
		return Frame{Kind: FrameDiagnostic, DiagnosticType: strings.ToLower(raw.Type), Message: raw.Message}, nil
	case "done":
		return Frame{Kind: FrameDone, ScopeID: raw.ScopeID}, nil
	case "":
		// Task events carry no type tag; recognise them by shape.
	default:
		return Frame{}, fmt.Errorf("%w: type=%q", ErrUnknownFrame, raw.Type)
	}

	if raw.ID == "" || !raw.Entity.Valid() || !raw.Status.Valid() {
		return Frame{}, fmt.Errorf("%w: entity=%q status=%q id=%q", ErrUnknownFrame, raw.Entity, raw.Status, raw.ID)
	}

	return Frame{
		Kind: FrameEvent,
		Event: Event{
			Entity:  raw.Entity,
			ID:      raw.ID,
			ScopeID: raw.ScopeID,
			Status:  raw.Status,
			Payload: raw.Payload,
			TS:      raw.TS,
		},
	}, nil
}
