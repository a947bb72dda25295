package transcript

import (
	"sync"
	"time"

	"relay/internal/logging"
	"relay/internal/taskevent"
	"relay/internal/utils/id"
)

// Listener receives the full ordered transcript on every mutation.
type Listener func(messages []Message)

// Machine is the per-scope transcript reducer. It owns its transcript
// exclusively; event sources feed it through Ingest and never touch the
// message slice directly.
type Machine struct {
	mu        sync.RWMutex
	messages  []Message
	listeners map[int]Listener
	nextSub   int
	logger    logging.Logger

	// notifyMu serializes listener delivery, including the initial snapshot
	// a new subscriber receives, so every listener observes snapshots in
	// append order. Always acquired before mu; listeners must not mutate
	// the machine from inside a callback.
	notifyMu sync.Mutex
}

// NewMachine creates an empty transcript machine. Construct one per scope;
// there is deliberately no shared global instance.
func NewMachine(logger logging.Logger) *Machine {
	return &Machine{
		listeners: make(map[int]Listener),
		logger:    logging.OrNop(logger),
	}
}

// AppendUserMessage creates and appends a user message with a fresh id and
// the current timestamp, returning the created message.
func (m *Machine) AppendUserMessage(text string) Message {
	msg := Message{
		ID:        id.NewMessageID(),
		Kind:      KindUser,
		Text:      text,
		CreatedAt: time.Now(),
	}
	m.append(msg)
	return msg
}

// Ingest maps a task event to a transcript message and appends it. Events
// that map to no message (display-control only) are a no-op.
func (m *Machine) Ingest(event taskevent.Event) {
	kind, text, meta, ok := Format(event)
	if !ok {
		m.logger.Debug("event %s produced no transcript entry", event)
		return
	}
	m.append(Message{
		ID:        id.NewMessageID(),
		Kind:      kind,
		Text:      text,
		CreatedAt: time.Now(),
		Metadata:  meta,
	})
}

// UpdateMessageText rewrites the text of an existing message in place. This
// is the only permitted mutation of an appended message (e.g. deriving a
// title from the first user message); the event pipeline never edits.
// Returns false when the id is unknown.
func (m *Machine) UpdateMessageText(messageID, text string) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	updated := false
	for i := range m.messages {
		if m.messages[i].ID == messageID {
			m.messages[i].Text = text
			updated = true
			break
		}
	}
	var snapshot []Message
	if updated {
		snapshot = m.snapshotLocked()
	}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	if updated {
		notify(listeners, snapshot)
	}
	return updated
}

// Subscribe registers a listener and returns its unsubscribe function. The
// listener immediately receives the current transcript.
func (m *Machine) Subscribe(listener Listener) func() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	sub := m.nextSub
	m.nextSub++
	m.listeners[sub] = listener
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	listener(snapshot)

	return func() {
		m.mu.Lock()
		delete(m.listeners, sub)
		m.mu.Unlock()
	}
}

// Transcript returns a copy of the current ordered transcript.
func (m *Machine) Transcript() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Len returns the number of transcript entries.
func (m *Machine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Clear resets to an empty transcript and notifies listeners.
func (m *Machine) Clear() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.messages = nil
	listeners := m.listenersLocked()
	m.mu.Unlock()

	notify(listeners, nil)
}

func (m *Machine) append(msg Message) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.messages = append(m.messages, msg)
	snapshot := m.snapshotLocked()
	listeners := m.listenersLocked()
	m.mu.Unlock()

	notify(listeners, snapshot)
}

// snapshotLocked copies the message slice so no internal mutable reference
// escapes. Callers hold at least a read lock.
func (m *Machine) snapshotLocked() []Message {
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Machine) listenersLocked() []Listener {
	out := make([]Listener, 0, len(m.listeners))
	for _, listener := range m.listeners {
		out = append(out, listener)
	}
	return out
}

func notify(listeners []Listener, snapshot []Message) {
	for _, listener := range listeners {
		listener(snapshot)
	}
}
