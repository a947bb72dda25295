package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSETransportOpenAndParse(t *testing.T) {
	var gotPath, gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprintf(w, "event: connected\ndata: {\"type\":\"connected\",\"scopeId\":\"s1\"}\n\n")
		fmt.Fprintf(w, ": heartbeat\n\n")
		fmt.Fprintf(w, "data: {\"entity\":\"report\",\"id\":\"r1\",\"scopeId\":\"s1\",\"status\":\"STARTED\",\"ts\":\"0001\"}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	transport := NewSSETransport(SSEConfig{
		BaseURL: server.URL + "/api",
		Headers: map[string]string{"Authorization": "Bearer secret"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frames, err := transport.Open(ctx, "s1")
	require.NoError(t, err)

	var got [][]byte
	for frame := range frames {
		got = append(got, frame)
	}

	assert.Equal(t, "/api/scopes/s1/events/stream", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	require.Len(t, got, 2, "heartbeat comments must not surface as frames")
	assert.Contains(t, string(got[0]), `"type":"connected"`)
	assert.Contains(t, string(got[1]), `"id":"r1"`)
}

func TestSSETransportMultiLineData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Split one JSON document across two data lines.
		fmt.Fprintf(w, "data: {\"type\":\"connected\",\n")
		fmt.Fprintf(w, "data: \"scopeId\":\"s1\"}\n\n")
	}))
	defer server.Close()

	transport := NewSSETransport(SSEConfig{BaseURL: server.URL})
	frames, err := transport.Open(context.Background(), "s1")
	require.NoError(t, err)

	frame, ok := <-frames
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"connected","scopeId":"s1"}`, string(frame))
}

func TestSSETransportRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	transport := NewSSETransport(SSEConfig{BaseURL: server.URL})
	_, err := transport.Open(context.Background(), "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
