// Package listener subscribes to the top-level feed of newly published
// builds and feeds each one into the scheduler.
package listener

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/buildline/exportstream/internal/export"
	"github.com/buildline/exportstream/internal/metrics"
	"github.com/buildline/exportstream/internal/stream"
	"github.com/buildline/exportstream/internal/transport"
)

// streamName labels the top-level connection in logs and metrics.
const streamName = "listener"

// Enqueuer receives discovered builds; the scheduler implements it.
type Enqueuer interface {
	Enqueue(build export.Build)
}

// Listener is a thin composition of one resilient stream connection over
// the build feed.
type Listener struct {
	transport transport.Transport
	baseURL   string
	cursor    string
	queue     Enqueuer
	policy    stream.RetryPolicy
	clock     export.Clock
	logger    *zap.Logger
}

// New constructs a Listener starting at cursor. The retry policy here is
// deliberately the least tolerant one in the process: repeated failure of
// the build feed is operationally significant and must not retry forever.
func New(
	tr transport.Transport,
	baseURL string,
	cursor string,
	queue Enqueuer,
	policy stream.RetryPolicy,
	clk export.Clock,
	logger *zap.Logger,
) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		transport: tr,
		baseURL:   baseURL,
		cursor:    cursor,
		queue:     queue,
		policy:    policy,
		clock:     clk,
		logger:    logger,
	}
}

// Run subscribes to the build feed and blocks until the stream terminates
// or ctx ends. A permanent failure means no further builds can ever be
// discovered, so the error is returned for the caller to treat as fatal;
// already-admitted builds are unaffected.
func (l *Listener) Run(ctx context.Context) error {
	url := export.BuildStreamURL(l.baseURL, l.cursor)
	l.logger.Info("subscribing to build feed", zap.String("url", url), zap.String("cursor", l.cursor))

	conn, err := stream.Open(ctx, l.transport, streamName, url,
		[]string{export.EventNameBuild},
		stream.Callbacks{OnEvent: l.handleEvent},
		l.policy, l.logger)
	if err != nil {
		return fmt.Errorf("open build stream: %w", err)
	}

	<-conn.Done()
	if err := ctx.Err(); err != nil {
		return err
	}
	if conn.State() != stream.StateComplete {
		return fmt.Errorf("build stream terminated: %w", conn.Err())
	}
	l.logger.Info("build feed ended cleanly")
	return nil
}

func (l *Listener) handleEvent(_, payload string) {
	build, err := export.ParseBuild(payload)
	if err != nil {
		l.logger.Warn("discarding undecodable build notification", zap.Error(err))
		return
	}
	build.ArrivedAt = l.clock.Now()
	metrics.ObserveBuildDiscovered()
	l.logger.Debug("build discovered", zap.String("build_id", build.ID))
	l.queue.Enqueue(build)
}
