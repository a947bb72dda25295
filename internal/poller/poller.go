// Package poller implements the pull-based job status tracker: a bounded,
// adaptive polling schedule around a caller-supplied status fetch, used where
// push is unavailable or as a correctness cross-check against it.
package poller

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"relay/internal/logging"
)

// JobState is the lifecycle state reported by the status endpoint.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
	JobCancelled JobState = "CANCELLED"
)

// Active reports whether the job is still being worked on. Only active
// statuses keep the polling schedule alive.
func (s JobState) Active() bool {
	return s == JobPending || s == JobRunning
}

// JobStatus is a point-in-time snapshot of one job.
type JobStatus struct {
	ID        string          `json:"id"`
	Status    JobState        `json:"status"`
	Progress  *float64        `json:"progress,omitempty"`
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// FetchFunc retrieves the current status of a job.
type FetchFunc func(ctx context.Context, jobID string) (*JobStatus, error)

// Options configures a Poller.
type Options struct {
	// PollInterval is the base schedule; defaults to 2s.
	PollInterval time.Duration
	// MaxPollTime is the hard ceiling on one poll session; defaults to 5m.
	// Once exceeded polling stops regardless of the last observed status,
	// which stays visible through JobStatus.
	MaxPollTime time.Duration
	// MaxInterval caps the adaptive stretch of the schedule; defaults to
	// 8x PollInterval.
	MaxInterval time.Duration

	Logger logging.Logger

	OnStatusChange func(*JobStatus)
	OnComplete     func(*JobStatus)
	OnError        func(*JobStatus)
	OnFetchError   func(error)
}

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxPollTime  = 5 * time.Minute
)

// Poller polls one job at a time. Changing the tracked job id resets the
// session counters.
type Poller struct {
	fetch FetchFunc
	opts  Options

	mu         sync.Mutex
	jobID      string
	startedAt  time.Time
	attempts   int
	last       *JobStatus
	completed  bool
	failed     bool
	cancel     context.CancelFunc
	done       chan struct{}
	refresh    chan struct{}
	lastSample time.Time
}

// New creates a Poller around the given fetch function.
func New(fetch FetchFunc, opts Options) *Poller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxPollTime <= 0 {
		opts.MaxPollTime = defaultMaxPollTime
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 8 * opts.PollInterval
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &Poller{fetch: fetch, opts: opts}
}

// Start begins (or restarts) polling the given job. Starting an already
// tracked job is a no-op; a different job id discards the previous session.
func (p *Poller) Start(jobID string) {
	p.mu.Lock()
	if p.cancel != nil && p.jobID == jobID {
		p.mu.Unlock()
		return
	}
	prevCancel := p.cancel
	prevDone := p.done

	ctx, cancel := context.WithCancel(context.Background())
	p.jobID = jobID
	p.startedAt = time.Now()
	p.attempts = 0
	p.last = nil
	p.completed = false
	p.failed = false
	p.cancel = cancel
	p.done = make(chan struct{})
	p.refresh = make(chan struct{}, 1)
	done := p.done
	refresh := p.refresh
	p.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	go p.loop(ctx, jobID, done, refresh)
}

// Stop disables polling. Idempotent; leaves the last known status in place.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// ForceRefresh triggers an immediate fetch outside the schedule.
func (p *Poller) ForceRefresh() {
	p.mu.Lock()
	refresh := p.refresh
	p.mu.Unlock()
	if refresh == nil {
		return
	}
	select {
	case refresh <- struct{}{}:
	default:
	}
}

// JobStatus returns the last fetched status, or nil before the first sample.
func (p *Poller) JobStatus() *JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil
	}
	snapshot := *p.last
	return &snapshot
}

// IsActive reports whether the last known status is an active one.
func (p *Poller) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last != nil && p.last.Status.Active()
}

// IsCompleted reports whether the job reached COMPLETED.
func (p *Poller) IsCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last != nil && p.last.Status == JobCompleted
}

// IsFailed reports whether the job reached FAILED.
func (p *Poller) IsFailed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last != nil && p.last.Status == JobFailed
}

// Attempts returns the number of fetches in the current session.
func (p *Poller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Elapsed returns the time since the current poll session started.
func (p *Poller) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		return 0
	}
	return time.Since(p.startedAt)
}

// EstimatedRemaining extrapolates completion time from the progress
// percentage: (100 - progress) / (progress / elapsed). Returns nil when no
// numeric progress is present, progress is zero, or no time has elapsed,
// rather than fabricating a number.
func (p *Poller) EstimatedRemaining() *time.Duration {
	p.mu.Lock()
	last := p.last
	started := p.startedAt
	p.mu.Unlock()

	if last == nil || last.Progress == nil || *last.Progress <= 0 {
		return nil
	}
	elapsed := time.Since(started)
	if elapsed <= 0 {
		return nil
	}
	progress := *last.Progress
	if progress >= 100 {
		zero := time.Duration(0)
		return &zero
	}
	rate := progress / float64(elapsed)
	remaining := time.Duration((100 - progress) / rate)
	return &remaining
}

// loop runs one poll session until the status goes terminal, the ceiling is
// hit, or Stop cancels it.
func (p *Poller) loop(ctx context.Context, jobID string, done chan struct{}, refresh <-chan struct{}) {
	defer close(done)

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = p.opts.PollInterval
	schedule.MaxInterval = p.opts.MaxInterval
	schedule.RandomizationFactor = 0
	schedule.Multiplier = 1.5

	wait := time.Duration(0) // first fetch is immediate
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-refresh:
			timer.Stop()
		case <-timer.C:
		}

		if p.sessionExpired() {
			p.opts.Logger.Warn("job %s: poll ceiling reached after %s, leaving schedule", jobID, p.opts.MaxPollTime)
			return
		}

		changed, terminal := p.sample(ctx, jobID)
		if terminal {
			return
		}
		if changed {
			schedule.Reset()
			wait = p.opts.PollInterval
		} else {
			wait = schedule.NextBackOff()
		}
	}
}

func (p *Poller) sessionExpired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.startedAt) >= p.opts.MaxPollTime
}

// sample performs one fetch and dispatches callbacks. A fetch error surfaces
// through OnFetchError but never stops the schedule; only the observed status
// value governs continuation.
func (p *Poller) sample(ctx context.Context, jobID string) (changed bool, terminal bool) {
	p.mu.Lock()
	p.attempts++
	p.mu.Unlock()

	status, err := p.fetch(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return false, true
		}
		p.opts.Logger.Warn("job %s: status fetch failed: %v", jobID, err)
		if p.opts.OnFetchError != nil {
			p.opts.OnFetchError(err)
		}
		return false, false
	}
	if status == nil {
		return false, false
	}
	if ctx.Err() != nil {
		// Session was cancelled mid-fetch; a stale sample must not leak
		// into a newer session's state.
		return false, true
	}

	p.mu.Lock()
	prev := p.last
	p.last = status
	changed = prev == nil || prev.Status != status.Status
	completeNow := status.Status == JobCompleted && !p.completed && len(status.Result) > 0
	if completeNow {
		p.completed = true
	}
	failNow := status.Status == JobFailed && !p.failed && status.Error != ""
	if failNow {
		p.failed = true
	}
	p.mu.Unlock()

	if changed && p.opts.OnStatusChange != nil {
		p.opts.OnStatusChange(status)
	}
	if completeNow && p.opts.OnComplete != nil {
		p.opts.OnComplete(status)
	}
	if failNow && p.opts.OnError != nil {
		p.opts.OnError(status)
	}

	return changed, !status.Status.Active()
}
