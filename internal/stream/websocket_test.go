package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSTransportOpenAndReceive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected","scopeId":"s1"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x1, 0x2})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"done","scopeId":"s1"}`))
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	transport := NewWSTransport(WSConfig{BaseURL: wsURL})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frames, err := transport.Open(ctx, "s1")
	require.NoError(t, err)

	var got []string
	for frame := range frames {
		got = append(got, string(frame))
	}

	assert.Equal(t, "/scopes/s1/events/ws", gotPath)
	require.Len(t, got, 2, "binary frames are skipped")
	assert.Contains(t, got[0], "connected")
	assert.Contains(t, got[1], "done")
}

func TestWSTransportWatcherEndsWithConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Server drops every connection straight away, as a flapping
		// stream would.
		conn.Close()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	transport := NewWSTransport(WSConfig{BaseURL: wsURL})

	// One long-lived subscription context across many short-lived
	// connections, mirroring the reconnect loop.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		frames, err := transport.Open(ctx, "s1")
		require.NoError(t, err)
		for range frames {
		}
	}

	require.Eventually(t, func() bool {
		return activeWatchers.Load() == 0
	}, 2*time.Second, 10*time.Millisecond, "connection watchers must not outlive their connection")
}

func TestWSTransportDialFailure(t *testing.T) {
	transport := NewWSTransport(WSConfig{BaseURL: "ws://127.0.0.1:1"})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := transport.Open(ctx, "s1")
	require.Error(t, err)
}
