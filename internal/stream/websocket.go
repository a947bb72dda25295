package stream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures the WebSocket transport.
type WSConfig struct {
	// BaseURL is the server root with ws:// or wss:// scheme.
	BaseURL string
	// Headers are attached to the upgrade request.
	Headers map[string]string
	// HandshakeTimeout bounds the upgrade; defaults to 10s.
	HandshakeTimeout time.Duration
}

// WSTransport subscribes to one scope's event stream over WebSocket. Each
// text message is one frame in the same JSON shapes as the SSE transport.
type WSTransport struct {
	cfg    WSConfig
	dialer *websocket.Dialer
}

// NewWSTransport creates a WebSocket transport.
func NewWSTransport(cfg WSConfig) *WSTransport {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &WSTransport{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

// Open dials the scope's websocket endpoint and pumps messages into the
// returned channel until the connection drops or ctx is cancelled.
// activeWatchers counts the connection-close watcher goroutines currently
// alive, for leak checks in tests.
var activeWatchers atomic.Int64

func (t *WSTransport) Open(ctx context.Context, scopeID string) (<-chan []byte, error) {
	url := fmt.Sprintf("%s/scopes/%s/events/ws", t.cfg.BaseURL, scopeID)

	header := http.Header{}
	for key, value := range t.cfg.Headers {
		header.Set(key, value)
	}

	conn, resp, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	frames := make(chan []byte, 64)
	readDone := make(chan struct{})

	// Close the connection when the subscription is cancelled so the read
	// loop unblocks. The watcher ends with its own connection's read loop,
	// not with the whole subscription, so reconnects leave nothing behind.
	go func() {
		activeWatchers.Add(1)
		defer activeWatchers.Add(-1)
		select {
		case <-ctx.Done():
		case <-readDone:
		}
		_ = conn.Close()
	}()

	go func() {
		defer close(frames)
		defer close(readDone)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	return frames, nil
}
