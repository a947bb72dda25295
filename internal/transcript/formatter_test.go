package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/taskevent"
)

func TestFormatStarted(t *testing.T) {
	cases := map[taskevent.Entity]string{
		taskevent.EntityReport:    "Starting report generation",
		taskevent.EntityPodcast:   "Starting podcast generation",
		taskevent.EntityAgentTurn: "Working on your question",
	}
	for entity, want := range cases {
		kind, text, _, ok := Format(taskevent.Event{Entity: entity, Status: taskevent.StatusStarted})
		require.True(t, ok)
		assert.Equal(t, KindProgress, kind)
		assert.Equal(t, want, text)
	}
}

func TestFormatProgressKnownSteps(t *testing.T) {
	kind, text, meta, ok := Format(taskevent.Event{
		Entity: taskevent.EntityReport,
		Status: taskevent.StatusProgress,
		Payload: taskevent.Payload{
			Step:       "research",
			StatusText: "collecting sources",
		},
	})
	require.True(t, ok)
	assert.Equal(t, KindProgress, kind)
	assert.Equal(t, "Researching: collecting sources", text)
	assert.Equal(t, "research", meta.Step)
	assert.Equal(t, "Researching", meta.StatusLabel)
}

func TestFormatProgressUnknownStepFallsBack(t *testing.T) {
	_, text, meta, ok := Format(taskevent.Event{
		Entity:  taskevent.EntityReport,
		Status:  taskevent.StatusProgress,
		Payload: taskevent.Payload{Step: "quantum-alignment"},
	})
	require.True(t, ok)
	assert.Equal(t, "Processing", text)
	assert.Equal(t, "Processing", meta.StatusLabel)
}

func TestFormatClarificationOrdering(t *testing.T) {
	event := taskevent.Event{
		Entity: taskevent.EntityAgentTurn,
		Status: taskevent.StatusClarification,
		Payload: taskevent.Payload{
			Questions: []taskevent.ClarificationQuestion{
				{Question: "A?", Purpose: "why A", Required: true},
			},
		},
	}

	kind, text, meta, ok := Format(event)
	require.True(t, ok)
	assert.Equal(t, KindClarification, kind)

	// Question text, purpose, required marker appear in that order.
	qIdx := strings.Index(text, "A?")
	pIdx := strings.Index(text, "why A")
	rIdx := strings.Index(text, "[required]")
	require.True(t, qIdx >= 0 && pIdx >= 0 && rIdx >= 0, "text: %q", text)
	assert.Less(t, qIdx, pIdx)
	assert.Less(t, pIdx, rIdx)

	require.Len(t, meta.Questions, 1)

	// Deterministic across repeated calls with identical input.
	_, text2, _, _ := Format(event)
	assert.Equal(t, text, text2)
}

func TestFormatClarificationOptionalQuestionHasNoMarker(t *testing.T) {
	_, text, _, ok := Format(taskevent.Event{
		Entity: taskevent.EntityAgentTurn,
		Status: taskevent.StatusClarification,
		Payload: taskevent.Payload{
			Message:   "Before I continue:",
			Questions: []taskevent.ClarificationQuestion{{Question: "B?", Purpose: "scope"}},
		},
	})
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(text, "Before I continue:"))
	assert.NotContains(t, text, "[required]")
}

func TestFormatResultTruncation(t *testing.T) {
	long := strings.Repeat("x", 600)
	_, text, meta, ok := Format(taskevent.Event{
		Entity:  taskevent.EntityReport,
		Status:  taskevent.StatusResult,
		Payload: taskevent.Payload{SourceCount: 3, KeyFindings: "steady growth", Preview: long},
	})
	require.True(t, ok)
	assert.True(t, meta.Truncated)
	assert.Contains(t, text, "Used 3 sources")
	assert.Contains(t, text, "steady growth")
	assert.Contains(t, text, strings.Repeat("x", 500)+"...")
	assert.NotContains(t, text, strings.Repeat("x", 501))
}

func TestFormatResultShortPreviewVerbatim(t *testing.T) {
	short := strings.Repeat("y", 400)
	_, text, meta, ok := Format(taskevent.Event{
		Entity:  taskevent.EntityReport,
		Status:  taskevent.StatusResult,
		Payload: taskevent.Payload{SourceCount: 1, Preview: short},
	})
	require.True(t, ok)
	assert.False(t, meta.Truncated)
	assert.Contains(t, text, "Used 1 source.")
	assert.Contains(t, text, short)
	assert.NotContains(t, text, short+"...")
}

func TestFormatFailure(t *testing.T) {
	kind, text, _, ok := Format(taskevent.Event{
		Entity:  taskevent.EntityPodcast,
		Status:  taskevent.StatusFailure,
		Payload: taskevent.Payload{Error: "voice model unavailable"},
	})
	require.True(t, ok)
	assert.Equal(t, KindError, kind)
	assert.Equal(t, "voice model unavailable", text)

	_, text, _, ok = Format(taskevent.Event{Entity: taskevent.EntityPodcast, Status: taskevent.StatusFailure})
	require.True(t, ok)
	assert.Equal(t, "Task failed", text)
}

func TestFormatCancelledProducesNothing(t *testing.T) {
	_, _, _, ok := Format(taskevent.Event{
		Entity: taskevent.EntityReport,
		Status: taskevent.StatusCancelled,
	})
	assert.False(t, ok)
}

func TestTruncateRuneSafe(t *testing.T) {
	text := strings.Repeat("é", 501)
	got, truncated := Truncate(text, 500)
	assert.True(t, truncated)
	assert.Equal(t, strings.Repeat("é", 500)+"...", got)
}
