// Package processor runs the per-build event pipeline: one resilient stream
// per admitted build, routed through the build's handler map.
package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/buildline/exportstream/internal/export"
	"github.com/buildline/exportstream/internal/metrics"
	"github.com/buildline/exportstream/internal/registry"
	"github.com/buildline/exportstream/internal/stream"
	"github.com/buildline/exportstream/internal/transport"
)

// streamName labels per-build connections in logs and metrics.
const streamName = "build"

// Processor opens one event stream per admitted build and dispatches each
// event to the interested observer instances.
type Processor struct {
	transport     transport.Transport
	baseURL       string
	registrations []export.Registration
	policy        stream.RetryPolicy
	logger        *zap.Logger
}

// New constructs a Processor. The per-build retry policy is typically more
// tolerant than the listener's: transient per-build failures are cheap to
// retry and must not be mistaken for the end of the stream.
func New(
	tr transport.Transport,
	baseURL string,
	regs []export.Registration,
	policy stream.RetryPolicy,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		transport:     tr,
		baseURL:       baseURL,
		registrations: regs,
		policy:        policy,
		logger:        logger,
	}
}

// Process streams the build's events, requesting exactly the event types
// the handler map declares, and blocks until the stream ends. On clean
// completion every finalize-capable observer runs exactly once, in
// registration order. A permanently failed stream returns an error and
// skips finalize; the failure is scoped to this build only.
func (p *Processor) Process(ctx context.Context, build export.Build) error {
	handlers := registry.NewHandlerMap(build, p.registrations)
	eventTypes := handlers.EventTypes()
	logger := p.logger.With(zap.String("build_id", build.ID))
	if len(eventTypes) == 0 {
		logger.Debug("no observer wants any event type, skipping stream")
		return nil
	}

	url := export.EventStreamURL(p.baseURL, build.ID, eventTypes)
	conn, err := stream.Open(ctx, p.transport, streamName, url,
		[]string{export.EventNameBuildEvent},
		stream.Callbacks{
			OnEvent: func(_, payload string) {
				p.handleEvent(logger, handlers, payload)
			},
		},
		p.policy, logger)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}

	<-conn.Done()
	if err := ctx.Err(); err != nil {
		return err
	}
	if conn.State() != stream.StateComplete {
		return fmt.Errorf("build %s event stream: %w", build.ID, conn.Err())
	}

	handlers.Finalize()
	logger.Info("build stream complete", zap.Int("finalizers", handlers.Finalizers()))
	return nil
}

// handleEvent deserializes one payload and routes it by the event-type
// identifier it carries. Event types no observer asked for can still arrive
// when the transport over-delivers; they are dropped silently.
func (p *Processor) handleEvent(logger *zap.Logger, handlers *registry.HandlerMap, payload string) {
	ev, err := export.ParseBuildEvent(payload)
	if err != nil {
		logger.Warn("discarding undecodable build event", zap.Error(err))
		return
	}
	if !handlers.Dispatch(ev.Type.EventType, ev) {
		logger.Debug("ignoring unrequested event type", zap.String("event_type", ev.Type.EventType))
		return
	}
	metrics.ObserveEventDispatched(ev.Type.EventType)
}
