package poller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPFetcherConfig configures the REST status fetcher.
type HTTPFetcherConfig struct {
	// BaseURL is the API root, e.g. "http://localhost:8420/api".
	BaseURL string
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
	// Timeout bounds one status request; defaults to 10s.
	Timeout time.Duration
}

// HTTPFetcher fetches job status from `GET {base}/jobs/{id}` with bounded
// retries on transient failures.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher builds a fetcher whose Fetch method satisfies FetchFunc.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
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

	return &HTTPFetcher{client: client}
}

// Fetch retrieves the current status of a job.
func (f *HTTPFetcher) Fetch(ctx context.Context, jobID string) (*JobStatus, error) {
	var status JobStatus

	resp, err := f.client.R().
		SetContext(ctx).
		SetResult(&status).
		Get(fmt.Sprintf("/jobs/%s", jobID))
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", jobID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch job %s: status %d", jobID, resp.StatusCode())
	}

	return &status, nil
}
