// Package invalidation maps task events to the set of cache keys downstream
// stores must treat as stale. It is a thin policy table; the hosting
// application decides what a key means.
package invalidation

import (
	"fmt"

	"relay/internal/taskevent"
)

// KeyScope distinguishes the two cache key shapes.
type KeyScope string

const (
	// ScopeDetail addresses one task's detail entry.
	ScopeDetail KeyScope = "detail"
	// ScopeList addresses the owning scope's job list for an entity kind.
	ScopeList KeyScope = "list"
)

// Key identifies one cache entry to invalidate.
type Key struct {
	Entity taskevent.Entity
	Scope  KeyScope
	// ID is the task id for detail keys and the scope id for list keys.
	ID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Entity, k.Scope, k.ID)
}

// DetailKey builds the detail key for a task.
func DetailKey(entity taskevent.Entity, taskID string) Key {
	return Key{Entity: entity, Scope: ScopeDetail, ID: taskID}
}

// ListKey builds the job list key for a scope.
func ListKey(entity taskevent.Entity, scopeID string) Key {
	return Key{Entity: entity, Scope: ScopeList, ID: scopeID}
}

// Router translates (entity, status) pairs into invalidation keys.
type Router struct{}

// NewRouter creates a Router.
func NewRouter() *Router {
	return &Router{}
}

// Route returns the cache keys made stale by the event. Total over the closed
// status set:
//
//   - STARTED, RESULT, FAILURE, CANCELLED invalidate the task's detail key
//     and, when the event carries a scope id, the scope's job list key.
//   - PROGRESS and CLARIFICATION invalidate nothing; they fire far too often
//     to be useful cache signals.
//
// Statuses outside the closed set also return nothing, as an explicit no-op.
func (r *Router) Route(event taskevent.Event) []Key {
	switch event.Status {
	case taskevent.StatusStarted, taskevent.StatusResult,
		taskevent.StatusFailure, taskevent.StatusCancelled:
		keys := []Key{DetailKey(event.Entity, event.ID)}
		if event.ScopeID != "" {
			keys = append(keys, ListKey(event.Entity, event.ScopeID))
		}
		return keys

	case taskevent.StatusProgress, taskevent.StatusClarification:
		return nil

	default:
		return nil
	}
}
