package transcript

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/taskevent"
)

func progressEvent(ts string) taskevent.Event {
	return taskevent.Event{
		Entity:  taskevent.EntityReport,
		ID:      "r1",
		ScopeID: "s1",
		Status:  taskevent.StatusProgress,
		Payload: taskevent.Payload{Step: "writing"},
		TS:      ts,
	}
}

func TestAppendUserMessage(t *testing.T) {
	m := NewMachine(nil)

	msg := m.AppendUserMessage("summarize chapter 3")
	assert.Equal(t, KindUser, msg.Kind)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	transcript := m.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, msg.ID, transcript[0].ID)
}

func TestIngestAppendOnly(t *testing.T) {
	m := NewMachine(nil)

	m.Ingest(taskevent.Event{Entity: taskevent.EntityReport, Status: taskevent.StatusStarted, TS: "1"})
	first := m.Transcript()
	require.Len(t, first, 1)
	firstID := first[0].ID

	m.Ingest(progressEvent("2"))
	m.Ingest(progressEvent("3"))

	transcript := m.Transcript()
	require.Len(t, transcript, 3)
	assert.Equal(t, firstID, transcript[0].ID, "existing entries keep their id")
	assert.Equal(t, KindProgress, transcript[0].Kind, "existing entries keep their kind")
}

func TestCancelledEventLeavesTranscriptUnchanged(t *testing.T) {
	m := NewMachine(nil)
	m.Ingest(progressEvent("1"))

	m.Ingest(taskevent.Event{
		Entity: taskevent.EntityReport,
		ID:     "r1",
		Status: taskevent.StatusCancelled,
		TS:     "2",
	})

	assert.Equal(t, 1, m.Len())
}

func TestSubscribeReceivesFullTranscriptPerMutation(t *testing.T) {
	m := NewMachine(nil)
	m.AppendUserMessage("hello")

	var updates [][]Message
	unsubscribe := m.Subscribe(func(messages []Message) {
		updates = append(updates, messages)
	})

	require.Len(t, updates, 1, "subscription delivers the current transcript immediately")
	assert.Len(t, updates[0], 1)

	m.Ingest(progressEvent("1"))
	require.Len(t, updates, 2)
	assert.Len(t, updates[1], 2, "listener gets the whole transcript, not a delta")

	unsubscribe()
	m.Ingest(progressEvent("2"))
	assert.Len(t, updates, 2, "no notifications after unsubscribe")
}

func TestMultipleListeners(t *testing.T) {
	m := NewMachine(nil)

	countA, countB := 0, 0
	m.Subscribe(func([]Message) { countA++ })
	m.Subscribe(func([]Message) { countB++ })

	m.AppendUserMessage("x")
	assert.Equal(t, 2, countA)
	assert.Equal(t, 2, countB)
}

func TestClearResetsAndNotifies(t *testing.T) {
	m := NewMachine(nil)
	m.AppendUserMessage("one")
	m.Ingest(progressEvent("1"))

	var last []Message
	notified := false
	m.Subscribe(func(messages []Message) {
		last = messages
		notified = true
	})

	notified = false
	m.Clear()
	assert.True(t, notified)
	assert.Empty(t, last)
	assert.Equal(t, 0, m.Len())
}

func TestUpdateMessageText(t *testing.T) {
	m := NewMachine(nil)
	msg := m.AppendUserMessage("draft title")

	ok := m.UpdateMessageText(msg.ID, "final title")
	require.True(t, ok)

	transcript := m.Transcript()
	assert.Equal(t, "final title", transcript[0].Text)
	assert.Equal(t, msg.ID, transcript[0].ID)
	assert.Equal(t, KindUser, transcript[0].Kind)

	assert.False(t, m.UpdateMessageText("msg-unknown", "nope"))
}

func TestTranscriptSnapshotIsACopy(t *testing.T) {
	m := NewMachine(nil)
	m.AppendUserMessage("original")

	snapshot := m.Transcript()
	snapshot[0].Text = "mutated"

	assert.Equal(t, "original", m.Transcript()[0].Text)
}

func TestIngestPreservesArrivalOrder(t *testing.T) {
	m := NewMachine(nil)

	m.Ingest(taskevent.Event{Entity: taskevent.EntityReport, Status: taskevent.StatusStarted})
	m.Ingest(progressEvent("1"))
	m.Ingest(taskevent.Event{
		Entity:  taskevent.EntityReport,
		Status:  taskevent.StatusResult,
		Payload: taskevent.Payload{SourceCount: 2, Preview: "short"},
	})

	transcript := m.Transcript()
	require.Len(t, transcript, 3)
	assert.Equal(t, KindProgress, transcript[0].Kind)
	assert.Equal(t, KindProgress, transcript[1].Kind)
	assert.Equal(t, KindResult, transcript[2].Kind)
}

func TestListenerSnapshotsNeverShrink(t *testing.T) {
	machine := NewMachine(nil)

	const total = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			machine.Ingest(progressEvent(fmt.Sprintf("t%03d", i)))
		}
	}()

	// Subscribing while appends are in flight: the initial snapshot and
	// every subsequent notification must arrive in append order.
	var mu sync.Mutex
	var lengths []int
	unsubscribe := machine.Subscribe(func(messages []Message) {
		mu.Lock()
		lengths = append(lengths, len(messages))
		mu.Unlock()
	})
	defer unsubscribe()

	<-done

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lengths)
	for i := 1; i < len(lengths); i++ {
		assert.GreaterOrEqual(t, lengths[i], lengths[i-1],
			"snapshot lengths %v shrank at %d", lengths, i)
	}
}
