package scope

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPSnapshotFetcherConfig configures the REST snapshot fetcher.
type HTTPSnapshotFetcherConfig struct {
	// BaseURL is the API root, e.g. "http://localhost:8420/api".
	BaseURL string
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
	// Timeout bounds one snapshot request; defaults to 10s.
	Timeout time.Duration
}

// HTTPSnapshotFetcher fetches scope snapshots from
// `GET {base}/scopes/{id}/snapshot` with bounded retries on transient
// failures.
type HTTPSnapshotFetcher struct {
	client *resty.Client
}

// NewHTTPSnapshotFetcher builds a fetcher whose Fetch method satisfies
// SnapshotFetcher.
func NewHTTPSnapshotFetcher(cfg HTTPSnapshotFetcherConfig) *HTTPSnapshotFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)

	if cfg.AuthToken != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.AuthToken)
	}

	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		if r == nil {
			return false
		}
		code := r.StatusCode()
		return code >= 500 || code == 429 || code == 408
	})

	return &HTTPSnapshotFetcher{client: client}
}

// Fetch retrieves the current snapshot of a scope.
func (f *HTTPSnapshotFetcher) Fetch(ctx context.Context, scopeID string) (*Snapshot, error) {
	var snapshot Snapshot

	resp, err := f.client.R().
		SetContext(ctx).
		SetResult(&snapshot).
		Get(fmt.Sprintf("/scopes/%s/snapshot", scopeID))
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", scopeID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch snapshot %s: status %d", scopeID, resp.StatusCode())
	}

	return &snapshot, nil
}
