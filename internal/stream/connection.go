// Package stream wraps a push-stream subscription with lifecycle callbacks,
// a bounded retry budget, and terminal-state tracking.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buildline/exportstream/internal/metrics"
	"github.com/buildline/exportstream/internal/transport"
)

// State is the lifecycle state of a Connection.
type State int

// Connection states. StateComplete and StateFailed are terminal; no callback
// fires after either is entered.
const (
	StateConnecting State = iota
	StateOpen
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateComplete:
		return "closed-complete"
	case StateFailed:
		return "closed-error"
	default:
		return "unknown"
	}
}

// ErrClosed reports a connection that ended before the server signaled
// completion, typically through Close or context cancellation.
var ErrClosed = errors.New("stream closed before completion")

// RetryPolicy bounds reconnection of one connection. The transport performs
// the reconnects at Interval; the policy decides when to stop allowing them.
type RetryPolicy struct {
	Interval   time.Duration
	MaxRetries int
}

// Callbacks receive connection lifecycle notifications. OnError fires for
// every transport error, including ones a retry follows, so callers may log
// but must not treat it as termination; only OnComplete or the connection
// entering StateFailed signals the end.
type Callbacks struct {
	OnOpen     func()
	OnEvent    func(name, payload string)
	OnError    func(err error)
	OnComplete func()
}

// Connection supervises one subscription. All callbacks are invoked from a
// single goroutine, so events are observed in arrival order.
type Connection struct {
	name   string
	sub    transport.Subscription
	cb     Callbacks
	policy RetryPolicy
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	retries int
	err     error

	done chan struct{}
}

// Open subscribes to url, listening only for the named events, and
// supervises the stream until it completes, fails permanently, or ctx ends.
// name labels the connection in logs and metrics.
func Open(
	ctx context.Context,
	tr transport.Transport,
	name string,
	url string,
	eventNames []string,
	cb Callbacks,
	policy RetryPolicy,
	logger *zap.Logger,
) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sub, err := tr.Subscribe(ctx, transport.SubscribeOptions{
		URL:            url,
		EventNames:     eventNames,
		ReconnectDelay: policy.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", url, err)
	}
	c := &Connection{
		name:   name,
		sub:    sub,
		cb:     cb,
		policy: policy,
		state:  StateConnecting,
		done:   make(chan struct{}),
	}
	c.logger = logger.With(
		zap.String("stream", name),
		zap.String("conn_id", uuid.NewString()),
		zap.String("url", url),
	)
	go c.run()
	return c, nil
}

// Done is closed once the connection reaches a terminal state.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the terminal error, or nil for a clean completion.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the connection down. The connection ends in StateFailed with
// ErrClosed unless it already reached a terminal state.
func (c *Connection) Close() {
	c.sub.Close()
}

func (c *Connection) run() {
	defer c.finish()
	for notice := range c.sub.Notices() {
		switch notice.Kind {
		case transport.KindOpen:
			c.handleOpen()
		case transport.KindEvent:
			if c.cb.OnEvent != nil {
				c.cb.OnEvent(notice.Event.Name, notice.Event.Data)
			}
		case transport.KindError:
			if c.handleError(notice.Err) {
				return
			}
		case transport.KindComplete:
			c.handleComplete()
			return
		}
	}
}

func (c *Connection) handleOpen() {
	c.mu.Lock()
	c.state = StateOpen
	c.retries = 0
	c.mu.Unlock()
	c.logger.Debug("stream open")
	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}
}

// handleError forwards every error to OnError, counts the ones carrying
// status information against the retry budget, and reports whether the
// budget is now exhausted. Statusless errors are forwarded but never
// counted: transports surface those for mid-stream interruptions whose
// following reconnect attempt produces the countable error.
func (c *Connection) handleError(err error) bool {
	metrics.ObserveStreamError(c.name)
	counted := false
	exhausted := false
	if transport.HasStatus(err) {
		counted = true
		c.mu.Lock()
		c.retries++
		exhausted = c.retries >= c.policy.MaxRetries
		c.mu.Unlock()
		metrics.ObserveStreamRetry(c.name)
	}
	c.logger.Warn("stream error",
		zap.Error(err),
		zap.Bool("counted", counted),
		zap.Int("retries", c.retryCount()),
		zap.Int("max_retries", c.policy.MaxRetries),
	)
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
	if !exhausted {
		return false
	}
	c.mu.Lock()
	c.state = StateFailed
	c.err = fmt.Errorf("retry budget exhausted after %d attempts: %w", c.policy.MaxRetries, err)
	c.mu.Unlock()
	c.logger.Error("stream failed permanently", zap.Error(err))
	c.sub.Close()
	return true
}

func (c *Connection) handleComplete() {
	c.mu.Lock()
	c.state = StateComplete
	c.mu.Unlock()
	c.logger.Debug("stream complete")
	if c.cb.OnComplete != nil {
		c.cb.OnComplete()
	}
	c.sub.Close()
}

func (c *Connection) retryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// finish records a terminal state for subscriptions that ended without one
// (Close or context cancellation) and releases waiters.
func (c *Connection) finish() {
	c.mu.Lock()
	if c.state != StateComplete && c.state != StateFailed {
		c.state = StateFailed
		c.err = ErrClosed
	}
	c.mu.Unlock()
	close(c.done)
}
