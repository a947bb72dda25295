package stream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SSEConfig configures the Server-Sent Events transport.
type SSEConfig struct {
	// BaseURL is the server root, e.g. "http://localhost:8420/api".
	BaseURL string
	// Headers are attached to the subscription request (credentials, etc).
	Headers map[string]string
	// Client defaults to an http.Client without a timeout; SSE requests are
	// long-lived, so a global timeout would sever healthy streams.
	Client *http.Client
}

// SSETransport subscribes to one scope's event stream over HTTP SSE.
type SSETransport struct {
	cfg SSEConfig
}

// NewSSETransport creates an SSE transport.
func NewSSETransport(cfg SSEConfig) *SSETransport {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SSETransport{cfg: cfg}
}

// Open issues the long-lived subscription request. The returned channel
// yields the data payload of each SSE message and closes when the stream
// ends for any reason.
func (t *SSETransport) Open(ctx context.Context, scopeID string) (<-chan []byte, error) {
	url := fmt.Sprintf("%s/scopes/%s/events/stream", t.cfg.BaseURL, scopeID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for key, value := range t.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}

	frames := make(chan []byte, 64)
	go func() {
		defer close(frames)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var data strings.Builder
		for scanner.Scan() {
			line := scanner.Text()

			if line == "" {
				// Blank line ends one SSE message.
				if data.Len() > 0 {
					payload := []byte(data.String())
					data.Reset()
					select {
					case frames <- payload:
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			if strings.HasPrefix(line, ":") {
				// Heartbeat comment.
				continue
			}
			if value, ok := strings.CutPrefix(line, "data:"); ok {
				data.WriteString(strings.TrimPrefix(value, " "))
			}
			// "event:" and "id:" fields are ignored; frames are
			// self-describing JSON.
		}
	}()

	return frames, nil
}

// DefaultSSEClient returns an http.Client tuned for long-lived streams: no
// overall timeout, but bounded dial and header latency.
func DefaultSSEClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 15 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}
