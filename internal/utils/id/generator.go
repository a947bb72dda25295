// Package id produces prefixed, time-ordered identifiers for messages, jobs
// and scopes. UUIDv7 keeps identifiers lexically sortable by creation time,
// which the event pipeline relies on for stable display ordering.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewMessageID generates a new transcript message identifier.
func NewMessageID() string {
	return newIdentifier("msg")
}

// NewJobID generates a new job identifier.
func NewJobID() string {
	return newIdentifier("job")
}

// NewScopeID generates a new scope identifier.
func NewScopeID() string {
	return newIdentifier("scope")
}

func newIdentifier(prefix string) string {
	v7, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source is exhausted; fall back to v4
		// rather than returning an empty identifier.
		return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	}
	return fmt.Sprintf("%s-%s", prefix, v7.String())
}
