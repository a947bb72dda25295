// Package scope composes the pipeline for one conversation scope: a stream
// subscription feeding a transcript machine and the cache invalidation
// router, with snapshot-based reconciliation after reconnects. Sessions are
// caller-owned and explicitly constructed; there is no hidden global state,
// so tests can run any number of independent transcripts.
package scope

import (
	"context"
	"sync"
	"time"

	"relay/internal/invalidation"
	"relay/internal/logging"
	"relay/internal/stream"
	"relay/internal/taskevent"
	"relay/internal/transcript"
)

// InvalidateFunc receives the cache keys an event made stale. The hosting
// application maps them onto its cache store.
type InvalidateFunc func(keys []invalidation.Key)

// SnapshotHandler receives the reconciliation snapshot fetched after each
// (re)connection ack.
type SnapshotHandler func(snapshot *Snapshot)

// ManagerOptions configures a Manager and the sessions it opens.
type ManagerOptions struct {
	Transport stream.Transport
	Fetch     SnapshotFetcher
	Logger    logging.Logger

	// Invalidate is optional; nil means invalidation keys are discarded.
	Invalidate InvalidateFunc
	// OnSnapshot is optional.
	OnSnapshot SnapshotHandler

	// SnapshotTimeout bounds one reconciliation fetch; defaults to 15s.
	SnapshotTimeout time.Duration
}

// Manager owns at most one Session per scope id.
type Manager struct {
	opts      ManagerOptions
	client    *stream.Client
	router    *invalidation.Router
	snapshots *snapshotCache
	logger    logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// Session is the live pipeline for one scope. The transcript is owned
// exclusively by the session's machine.
type Session struct {
	scopeID   string
	manager   *Manager
	machine   *transcript.Machine
	closeOnce sync.Once
}

// NewManager creates a Manager. The transport is required; Fetch may be nil
// when the host has no snapshot endpoint (reconciliation then degrades to a
// log line).
func NewManager(opts ManagerOptions) *Manager {
	logger := logging.OrNop(opts.Logger)
	if opts.SnapshotTimeout <= 0 {
		opts.SnapshotTimeout = 15 * time.Second
	}

	m := &Manager{
		opts:     opts,
		router:   invalidation.NewRouter(),
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	if opts.Fetch != nil {
		m.snapshots = newSnapshotCache(opts.Fetch)
	}

	m.client = stream.NewClient(stream.Options{
		Transport: opts.Transport,
		Logger:    logger,
	})
	m.client.OnEvent(m.handleEvent)
	m.client.OnReconcile(m.handleReconcile)

	return m
}

// OnConnectionChange exposes the underlying stream connection callback.
func (m *Manager) OnConnectionChange(handler stream.ConnectionHandler) {
	m.client.OnConnectionChange(handler)
}

// Open returns the scope's session, creating it and connecting its
// subscription on first use. Idempotent per scope.
func (m *Manager) Open(scopeID string) *Session {
	m.mu.Lock()
	if session, ok := m.sessions[scopeID]; ok {
		m.mu.Unlock()
		return session
	}
	session := &Session{
		scopeID: scopeID,
		manager: m,
		machine: transcript.NewMachine(m.logger),
	}
	m.sessions[scopeID] = session
	m.mu.Unlock()

	m.client.Connect(scopeID)
	return session
}

// Close tears down the scope's session: the transport connection is closed
// exactly once, pending reconnects are cleared, and listeners stop firing.
func (m *Manager) Close(scopeID string) {
	m.mu.Lock()
	session, ok := m.sessions[scopeID]
	if ok {
		delete(m.sessions, scopeID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	session.closeOnce.Do(func() {
		m.client.Disconnect(scopeID)
	})
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	scopes := make([]string, 0, len(m.sessions))
	for scopeID := range m.sessions {
		scopes = append(scopes, scopeID)
	}
	m.mu.Unlock()

	for _, scopeID := range scopes {
		m.Close(scopeID)
	}
}

func (m *Manager) session(scopeID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[scopeID]
}

// handleEvent routes one accepted event to the owning session's transcript
// and to the invalidation callback.
func (m *Manager) handleEvent(event taskevent.Event) {
	session := m.session(event.ScopeID)
	if session == nil {
		m.logger.Warn("event for unknown scope %s dropped", event.ScopeID)
		return
	}

	session.machine.Ingest(event)

	keys := m.router.Route(event)
	if len(keys) > 0 {
		if m.snapshots != nil && event.Status.IsTerminal() {
			m.snapshots.invalidate(event.ScopeID)
		}
		if m.opts.Invalidate != nil {
			m.opts.Invalidate(keys)
		}
	}
}

// handleReconcile fetches a fresh snapshot after each ack so the caller can
// re-sync state missed while disconnected.
func (m *Manager) handleReconcile(scopeID string) {
	if m.snapshots == nil {
		m.logger.Debug("scope %s: no snapshot fetcher configured, skipping reconciliation", scopeID)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.SnapshotTimeout)
		defer cancel()

		snapshot, err := m.snapshots.get(ctx, scopeID)
		if err != nil {
			m.logger.Warn("scope %s: reconciliation snapshot failed: %v", scopeID, err)
			return
		}
		if m.opts.OnSnapshot != nil {
			m.opts.OnSnapshot(snapshot)
		}
	}()
}

// ScopeID returns the scope this session serves.
func (s *Session) ScopeID() string {
	return s.scopeID
}

// Transcript exposes the session's transcript machine.
func (s *Session) Transcript() *transcript.Machine {
	return s.machine
}

// AppendUserMessage appends a user-authored message to the transcript.
func (s *Session) AppendUserMessage(text string) transcript.Message {
	return s.machine.AppendUserMessage(text)
}
