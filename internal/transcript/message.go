// Package transcript folds the heterogeneous task event stream into an
// ordered, append-only conversation transcript with deterministic formatting
// and exactly-once insertion.
package transcript

import (
	"time"

	"relay/internal/taskevent"
)

// Kind classifies a transcript entry.
type Kind string

const (
	KindUser          Kind = "user"
	KindProgress      Kind = "progress"
	KindClarification Kind = "clarification"
	KindResult        Kind = "result"
	KindError         Kind = "error"
)

// Metadata carries the kind-specific structured fields of a message. Only the
// fields relevant to the message's kind are populated.
type Metadata struct {
	// progress
	Step        string `json:"step,omitempty"`
	StatusLabel string `json:"status_label,omitempty"`

	// clarification
	Questions []taskevent.ClarificationQuestion `json:"questions,omitempty"`

	// result
	SourceCount int    `json:"source_count,omitempty"`
	KeyFindings string `json:"key_findings,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Message is one transcript entry. The id is generated at creation and never
// reused; id and kind never change after creation.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  Metadata  `json:"metadata"`
}
