package transcript

import (
	"fmt"
	"strings"

	"relay/internal/taskevent"
)

// previewLimit caps the result preview; longer text is cut and marked.
const previewLimit = 500

const ellipsisMarker = "..."

// stepLabels is the fixed step vocabulary for progress messages. Steps
// outside the vocabulary render as the generic processing label.
var stepLabels = map[string]string{
	"research":  "Researching",
	"planning":  "Planning",
	"writing":   "Writing",
	"synthesis": "Synthesizing",
	"audio":     "Generating audio",
	"review":    "Reviewing",
}

const genericStepLabel = "Processing"

// StepLabel maps a step name to its display label.
func StepLabel(step string) string {
	if label, ok := stepLabels[strings.ToLower(strings.TrimSpace(step))]; ok {
		return label
	}
	return genericStepLabel
}

var startedText = map[taskevent.Entity]string{
	taskevent.EntityReport:    "Starting report generation",
	taskevent.EntityPodcast:   "Starting podcast generation",
	taskevent.EntityAgentTurn: "Working on your question",
}

// Format maps one task event to the text, kind and metadata of its transcript
// message. It is a pure function of the event's fields: identical events
// always produce identical output. ok is false when the event produces no
// message (CANCELLED is display-control only).
func Format(event taskevent.Event) (kind Kind, text string, meta Metadata, ok bool) {
	switch event.Status {
	case taskevent.StatusStarted:
		label, known := startedText[event.Entity]
		if !known {
			label = "Task started"
		}
		return KindProgress, label, Metadata{StatusLabel: "started"}, true

	case taskevent.StatusProgress:
		return formatProgress(event)

	case taskevent.StatusClarification:
		return formatClarification(event)

	case taskevent.StatusResult:
		return formatResult(event)

	case taskevent.StatusFailure:
		message := event.Payload.Error
		if message == "" {
			message = "Task failed"
		}
		return KindError, message, Metadata{}, true

	case taskevent.StatusCancelled:
		// A pure control/end marker: terminates display state, adds nothing
		// to the transcript.
		return "", "", Metadata{}, false

	default:
		return "", "", Metadata{}, false
	}
}

func formatProgress(event taskevent.Event) (Kind, string, Metadata, bool) {
	label := StepLabel(event.Payload.Step)
	text := label
	if event.Payload.StatusText != "" {
		text = fmt.Sprintf("%s: %s", label, event.Payload.StatusText)
	}
	return KindProgress, text, Metadata{
		Step:        event.Payload.Step,
		StatusLabel: label,
	}, true
}

func formatClarification(event taskevent.Event) (Kind, string, Metadata, bool) {
	var b strings.Builder

	intro := event.Payload.Message
	if intro == "" {
		intro = "I need a few details before continuing:"
	}
	b.WriteString(intro)

	for i, q := range event.Payload.Questions {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, q.Question))
		if q.Purpose != "" {
			b.WriteString(fmt.Sprintf(" (%s)", q.Purpose))
		}
		if q.Required {
			b.WriteString(" [required]")
		}
	}

	return KindClarification, b.String(), Metadata{
		Questions: append([]taskevent.ClarificationQuestion(nil), event.Payload.Questions...),
	}, true
}

func formatResult(event taskevent.Event) (Kind, string, Metadata, bool) {
	var b strings.Builder

	switch {
	case event.Payload.SourceCount == 1:
		b.WriteString("Done. Used 1 source.")
	case event.Payload.SourceCount > 1:
		b.WriteString(fmt.Sprintf("Done. Used %d sources.", event.Payload.SourceCount))
	default:
		b.WriteString("Done.")
	}

	if event.Payload.KeyFindings != "" {
		b.WriteString("\nKey findings: ")
		b.WriteString(event.Payload.KeyFindings)
	}

	preview, truncated := Truncate(event.Payload.Preview, previewLimit)
	if preview != "" {
		b.WriteString("\n\n")
		b.WriteString(preview)
	}

	return KindResult, b.String(), Metadata{
		SourceCount: event.Payload.SourceCount,
		KeyFindings: event.Payload.KeyFindings,
		Truncated:   truncated,
	}, true
}

// Truncate cuts text to limit characters and appends the ellipsis marker;
// shorter text is returned verbatim with no marker.
func Truncate(text string, limit int) (string, bool) {
	runes := []rune(text)
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit]) + ellipsisMarker, true
}
