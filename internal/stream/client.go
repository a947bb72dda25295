// Package stream implements the reconnecting push-event consumer. A Client
// keeps at most one live subscription per scope, parses raw frames into task
// events, enforces per-scope timestamp monotonicity, and survives transport
// drops with exponential backoff.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"relay/internal/logging"
	"relay/internal/taskevent"
)

// Transport opens one long-lived subscription for a scope and delivers raw
// frames until the connection drops, at which point the channel is closed.
type Transport interface {
	Open(ctx context.Context, scopeID string) (<-chan []byte, error)
}

// EventHandler receives task events that passed the ordering check.
type EventHandler func(taskevent.Event)

// ConnectionHandler fires true on every successful (re)connection of a scope
// and false on every disconnect.
type ConnectionHandler func(scopeID string, connected bool)

// ReconcileHandler fires when the server acknowledges a (re)connection, so the
// caller can fetch a fresh snapshot of anything missed while disconnected.
type ReconcileHandler func(scopeID string)

// Options configures a Client.
type Options struct {
	Transport Transport
	Logger    logging.Logger

	// InitialBackoff and MaxBackoff bound the reconnect schedule.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// Client is the reconnecting event stream consumer.
type Client struct {
	transport      Transport
	logger         logging.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu         sync.Mutex
	subs       map[string]*subscription
	watermarks map[string]string

	onEvent      EventHandler
	onConnection ConnectionHandler
	onReconcile  ReconcileHandler
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	state  State
}

// NewClient creates a Client. The transport is required.
func NewClient(opts Options) *Client {
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	max := opts.MaxBackoff
	if max <= 0 {
		max = defaultMaxBackoff
	}
	return &Client{
		transport:      opts.Transport,
		logger:         logging.OrNop(opts.Logger),
		initialBackoff: initial,
		maxBackoff:     max,
		subs:           make(map[string]*subscription),
		watermarks:     make(map[string]string),
	}
}

// OnEvent registers the sole event callback. Must be set before Connect.
func (c *Client) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = handler
}

// OnConnectionChange registers the connection state callback.
func (c *Client) OnConnectionChange(handler ConnectionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnection = handler
}

// OnReconcile registers the state-reconciliation callback.
func (c *Client) OnReconcile(handler ReconcileHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconcile = handler
}

// Connect establishes a subscription for the scope. It is idempotent: a
// second call while a subscription is pending or live is a no-op. Transport
// failures never surface here; the client keeps retrying with backoff until
// Disconnect is called.
func (c *Client) Connect(scopeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.subs[scopeID]; ok && existing.state != StateClosed {
		c.logger.Debug("connect(%s) ignored: subscription already %s", scopeID, existing.state)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateConnecting,
	}
	c.subs[scopeID] = sub

	go c.run(ctx, scopeID, sub)
}

// Disconnect tears down the scope's subscription: the live connection is
// closed exactly once and any pending reconnect timer is cleared. Safe to
// call multiple times and for unknown scopes.
func (c *Client) Disconnect(scopeID string) {
	c.mu.Lock()
	sub, ok := c.subs[scopeID]
	if ok {
		delete(c.subs, scopeID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	sub.cancel()
	<-sub.done
}

// Close disconnects every scope.
func (c *Client) Close() {
	c.mu.Lock()
	scopes := make([]string, 0, len(c.subs))
	for scopeID := range c.subs {
		scopes = append(scopes, scopeID)
	}
	c.mu.Unlock()

	for _, scopeID := range scopes {
		c.Disconnect(scopeID)
	}
}

// ScopeState reports the lifecycle state of a scope's subscription.
func (c *Client) ScopeState(scopeID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[scopeID]; ok {
		return sub.state
	}
	return StateIdle
}

// Watermark returns the last accepted event timestamp for the scope.
func (c *Client) Watermark(scopeID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermarks[scopeID]
}

// run owns the connect/read/reconnect loop for one scope until cancelled.
func (c *Client) run(ctx context.Context, scopeID string, sub *subscription) {
	defer close(sub.done)
	defer c.setState(scopeID, sub, StateClosed)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = c.initialBackoff
	retry.MaxInterval = c.maxBackoff

	for {
		c.setState(scopeID, sub, StateConnecting)

		frames, err := c.transport.Open(ctx, scopeID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("open stream for scope %s failed: %v", scopeID, err)
			c.setState(scopeID, sub, StateReconnecting)
			if !sleepCtx(ctx, retry.NextBackOff()) {
				return
			}
			continue
		}

		c.readFrames(ctx, scopeID, sub, frames, retry)

		if ctx.Err() != nil {
			return
		}
		c.setState(scopeID, sub, StateReconnecting)
		if !sleepCtx(ctx, retry.NextBackOff()) {
			return
		}
	}
}

// readFrames consumes one live connection until it drops. The connection
// counts as established only once the ack frame arrives; the backoff schedule
// resets at that point.
func (c *Client) readFrames(ctx context.Context, scopeID string, sub *subscription, frames <-chan []byte, retry *backoff.ExponentialBackOff) {
	connected := false
	defer func() {
		if connected {
			c.setState(scopeID, sub, StateDisconnected)
			c.notifyConnection(scopeID, false)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-frames:
			if !ok {
				c.logger.Info("stream for scope %s dropped", scopeID)
				return
			}

			frame, err := taskevent.ParseFrame(raw)
			if err != nil {
				c.logger.Warn("scope %s: dropping frame: %v", scopeID, err)
				continue
			}

			switch frame.Kind {
			case taskevent.FrameAck:
				connected = true
				retry.Reset()
				c.setState(scopeID, sub, StateConnected)
				c.notifyConnection(scopeID, true)
				c.notifyReconcile(scopeID)

			case taskevent.FrameDiagnostic:
				c.logger.Warn("scope %s: transport diagnostic %s: %s", scopeID, frame.DiagnosticType, frame.Message)

			case taskevent.FrameDone:
				c.logger.Debug("scope %s: stream signalled done", scopeID)

			case taskevent.FrameEvent:
				c.dispatch(scopeID, frame.Event)
			}
		}
	}
}

// dispatch forwards the event iff its timestamp is strictly greater than the
// scope's watermark; duplicates and out-of-order arrivals are dropped, never
// queued.
func (c *Client) dispatch(scopeID string, event taskevent.Event) {
	c.mu.Lock()
	last := c.watermarks[scopeID]
	if event.TS <= last {
		c.mu.Unlock()
		c.logger.Debug("scope %s: dropping stale event %s (watermark %s)", scopeID, event, last)
		return
	}
	c.watermarks[scopeID] = event.TS
	handler := c.onEvent
	c.mu.Unlock()

	if handler != nil {
		handler(event)
	}
}

func (c *Client) setState(scopeID string, sub *subscription, state State) {
	c.mu.Lock()
	sub.state = state
	c.mu.Unlock()
	c.logger.Debug("scope %s: %s", scopeID, state)
}

func (c *Client) notifyConnection(scopeID string, connected bool) {
	c.mu.Lock()
	handler := c.onConnection
	c.mu.Unlock()
	if handler != nil {
		handler(scopeID, connected)
	}
}

func (c *Client) notifyReconcile(scopeID string) {
	c.mu.Lock()
	handler := c.onReconcile
	c.mu.Unlock()
	if handler != nil {
		handler(scopeID)
	}
}

// sleepCtx waits for d or until ctx is cancelled. Returns false on cancel so
// callers can unwind without leaving a dangling timer.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
