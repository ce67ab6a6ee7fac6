// Package transport defines the push-stream contract the engine consumes: a
// long-lived subscription that yields named text events and terminates with
// either a clean no-more-data signal or an error.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Event is one named server-pushed message.
type Event struct {
	Name string
	Data string
}

// Kind classifies a Notice.
type Kind int

// Notice kinds, in rough lifecycle order.
const (
	KindOpen Kind = iota
	KindEvent
	KindError
	KindComplete
)

// Notice is a single notification from a subscription. Exactly one of Event
// and Err is meaningful, depending on Kind.
type Notice struct {
	Kind  Kind
	Event Event
	Err   error
}

// SubscribeOptions configure one subscription.
type SubscribeOptions struct {
	URL string
	// EventNames restricts delivery to the named events. Empty means all.
	EventNames []string
	// ReconnectDelay is the wait between the transport's own reconnection
	// attempts. Zero selects the transport default.
	ReconnectDelay time.Duration
}

// Subscription is a live push stream. The transport reconnects on its own
// after transient failures, emitting a KindError notice for each one; it
// stops only on Close, context cancellation, or a clean completion. The
// notices channel is closed once the subscription ends, and producers must
// stop emitting promptly after Close.
type Subscription interface {
	Notices() <-chan Notice
	Close()
}

// Transport opens push-stream subscriptions.
type Transport interface {
	Subscribe(ctx context.Context, opts SubscribeOptions) (Subscription, error)
}

// StatusNoMoreData is the fixed status code a server uses to signal that a
// stream has no further data, as opposed to a genuine error status.
const StatusNoMoreData = 204

// StatusError reports a connection attempt rejected with a protocol status.
// Only errors of this type count toward a retry budget; errors without
// status information (for example a mid-stream disconnect) are reported but
// never counted, since the reconnect attempt that follows produces the
// countable one.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("stream status %d: %s", e.Code, e.Status)
	}
	return fmt.Sprintf("stream status %d", e.Code)
}

// HasStatus reports whether err carries status information.
func HasStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
