// Package taskevent defines the wire-level model for long-running task events:
// the tagged event union shared by the push and poll transports, and the frame
// parser for the push protocol.
package taskevent

import (
	"fmt"
	"time"
)

// TimestampLayout is the fixed-width layout for wire timestamps. Unlike
// RFC3339Nano it never trims trailing fractional zeros, so lexical order of
// rendered values matches temporal order of the instants.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Timestamp renders t as a wire ts value in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Entity identifies the kind of long-running task an event belongs to.
type Entity string

const (
	EntityReport    Entity = "report"
	EntityPodcast   Entity = "podcast"
	EntityAgentTurn Entity = "agent-turn"
)

// Valid reports whether the entity is one of the known task kinds.
func (e Entity) Valid() bool {
	switch e {
	case EntityReport, EntityPodcast, EntityAgentTurn:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state carried by a task event.
type Status string

const (
	StatusStarted       Status = "STARTED"
	StatusProgress      Status = "PROGRESS"
	StatusClarification Status = "CLARIFICATION"
	StatusResult        Status = "RESULT"
	StatusFailure       Status = "FAILURE"
	StatusCancelled     Status = "CANCELLED"
)

// IsTerminal reports whether the status ends the active phase of a task.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusResult, StatusFailure, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether the status belongs to the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusStarted, StatusProgress, StatusClarification,
		StatusResult, StatusFailure, StatusCancelled:
		return true
	default:
		return false
	}
}

// ClarificationQuestion is a mid-task question the backend wants answered.
// Required questions are advisory: the pipeline renders them but never blocks
// task progress on them.
type ClarificationQuestion struct {
	Question string `json:"question"`
	Purpose  string `json:"purpose"`
	Required bool   `json:"required"`
}

// Payload carries the status-specific data of an event. Fields are optional
// and only meaningful for particular statuses; keeping them as a closed set
// lets the transcript formatter be exhaustively tested.
type Payload struct {
	// PROGRESS
	Step       string   `json:"step,omitempty"`
	StatusText string   `json:"status_text,omitempty"`
	Progress   *float64 `json:"progress,omitempty"`

	// CLARIFICATION
	Message   string                  `json:"message,omitempty"`
	Questions []ClarificationQuestion `json:"questions,omitempty"`

	// RESULT
	SourceCount int    `json:"source_count,omitempty"`
	KeyFindings string `json:"key_findings,omitempty"`
	Preview     string `json:"preview,omitempty"`

	// FAILURE
	Error string `json:"error,omitempty"`
}

// Event is the wire unit delivered by both the push and poll transports.
// TS is a per-scope monotonically non-decreasing sortable string; it is the
// sole deduplication and ordering key.
type Event struct {
	Entity  Entity  `json:"entity"`
	ID      string  `json:"id"`
	ScopeID string  `json:"scopeId"`
	Status  Status  `json:"status"`
	Payload Payload `json:"payload"`
	TS      string  `json:"ts"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s/%s %s ts=%s", e.Entity, e.ID, e.Status, e.TS)
}
