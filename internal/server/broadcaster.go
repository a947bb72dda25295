// Package server hosts the push-transport harness: a scoped event
// broadcaster with SSE and WebSocket endpoints, an in-memory job store,
// and the snapshot endpoint used for post-reconnect reconciliation.
package server

import (
	"context"
	"sync"

	"relay/internal/logging"
	"relay/internal/observability"
	"relay/internal/taskevent"
)

// Broadcaster fans task events out to connected stream clients.
// Clients register a buffered channel per scope; a slow client loses
// non-terminal events rather than blocking the publisher.
type Broadcaster struct {
	// Map scopeID -> list of client channels
	clients map[string][]chan taskevent.Event
	mu      sync.RWMutex
	logger  logging.Logger

	// Event history for snapshot reconciliation
	eventHistory map[string][]taskevent.Event
	historyMu    sync.RWMutex
	maxHistory   int

	metrics *observability.MetricsCollector
}

const defaultMaxHistory = 1000

// NewBroadcaster creates a broadcaster keeping up to maxHistory events
// per scope for reconciliation. maxHistory <= 0 selects the default.
func NewBroadcaster(logger logging.Logger, metrics *observability.MetricsCollector) *Broadcaster {
	return &Broadcaster{
		clients:      make(map[string][]chan taskevent.Event),
		eventHistory: make(map[string][]taskevent.Event),
		maxHistory:   defaultMaxHistory,
		logger:       logging.OrNop(logger),
		metrics:      metrics,
	}
}

// Publish stores the event in the scope's history and delivers it to
// every client registered for the scope.
func (b *Broadcaster) Publish(event taskevent.Event) {
	b.storeEventHistory(event)

	b.mu.RLock()
	clients, ok := b.clients[event.ScopeID]
	if !ok {
		b.logger.Debug("[Publish] No clients for scope '%s' (event: %s/%s)", event.ScopeID, event.Entity, event.Status)
		b.mu.RUnlock()
		return
	}
	b.broadcastToClients(event.ScopeID, clients, event)
	b.mu.RUnlock()
}

// broadcastToClients sends the event to all clients in the list.
func (b *Broadcaster) broadcastToClients(scopeID string, clients []chan taskevent.Event, event taskevent.Event) {
	for i, ch := range clients {
		select {
		case ch <- event:
			b.recordDelivered()
		default:
			if b.ensureCriticalEventDelivery(scopeID, i, len(clients), ch, event) {
				continue
			}
			// Client buffer full, skip this event to avoid blocking
			b.logger.Warn("Client buffer full for scope %s, dropping event %s (client %d/%d)", scopeID, event.Status, i+1, len(clients))
			b.recordDropped()
		}
	}
}

// ensureCriticalEventDelivery forces terminal events through a saturated
// buffer by evicting the oldest queued event. Terminal statuses are the
// only frames a client must not miss; everything else is recoverable
// from the snapshot endpoint.
func (b *Broadcaster) ensureCriticalEventDelivery(scopeID string, clientIndex, totalClients int, ch chan taskevent.Event, event taskevent.Event) bool {
	if !event.Status.IsTerminal() {
		return false
	}

	// Retry first in case the consumer drained the buffer after the
	// initial attempt.
	select {
	case ch <- event:
		b.logger.Warn("Client buffer previously full for scope %s, but terminal event %s was delivered on retry (client %d/%d)", scopeID, event.Status, clientIndex+1, totalClients)
		b.recordDelivered()
		return true
	default:
	}

	// Drop the oldest event to make room.
	select {
	case <-ch:
	default:
		b.logger.Warn("Failed to free space for terminal event %s for scope %s (client %d/%d)", event.Status, scopeID, clientIndex+1, totalClients)
		return false
	}

	select {
	case ch <- event:
		b.logger.Warn("Client buffer saturated for scope %s; dropped oldest event to deliver terminal %s (client %d/%d)", scopeID, event.Status, clientIndex+1, totalClients)
		b.recordDelivered()
		return true
	default:
		// Buffer filled again before the send could land.
		b.logger.Warn("Client buffer refilled before delivering terminal %s for scope %s (client %d/%d)", event.Status, scopeID, clientIndex+1, totalClients)
		return false
	}
}

// RegisterClient registers a new client channel for a scope.
func (b *Broadcaster) RegisterClient(scopeID string, ch chan taskevent.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.clients[scopeID] = append(b.clients[scopeID], ch)
	if b.metrics != nil {
		b.metrics.IncrementActiveStreams(context.Background())
	}
	b.logger.Info("Client registered for scope %s (total: %d)", scopeID, len(b.clients[scopeID]))
}

// UnregisterClient removes a client channel from a scope and closes it.
func (b *Broadcaster) UnregisterClient(scopeID string, ch chan taskevent.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients := b.clients[scopeID]
	for i, client := range clients {
		if client == ch {
			b.clients[scopeID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			if b.metrics != nil {
				b.metrics.DecrementActiveStreams(context.Background())
			}
			b.logger.Info("Client unregistered from scope %s (remaining: %d)", scopeID, len(b.clients[scopeID]))

			if len(b.clients[scopeID]) == 0 {
				delete(b.clients, scopeID)
			}
			break
		}
	}
}

// ClientCount returns the number of clients subscribed to a scope.
func (b *Broadcaster) ClientCount(scopeID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.clients[scopeID])
}

// storeEventHistory appends an event to the scope's bounded history.
func (b *Broadcaster) storeEventHistory(event taskevent.Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	history := b.eventHistory[event.ScopeID]
	history = append(history, event)

	if len(history) > b.maxHistory {
		history = history[len(history)-b.maxHistory:]
	}

	b.eventHistory[event.ScopeID] = history
}

// EventHistory returns a copy of the stored events for a scope.
func (b *Broadcaster) EventHistory(scopeID string) []taskevent.Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	history := b.eventHistory[scopeID]
	if len(history) == 0 {
		return nil
	}

	historyCopy := make([]taskevent.Event, len(history))
	copy(historyCopy, history)
	return historyCopy
}

// ClearEventHistory drops the stored events for a scope.
func (b *Broadcaster) ClearEventHistory(scopeID string) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	delete(b.eventHistory, scopeID)
	b.logger.Info("Cleared event history for scope: %s", scopeID)
}

func (b *Broadcaster) recordDelivered() {
	if b.metrics != nil {
		b.metrics.RecordEventDelivered(context.Background())
	}
}

func (b *Broadcaster) recordDropped() {
	if b.metrics != nil {
		b.metrics.RecordEventDropped(context.Background())
	}
}
