package observers

import (
	"context"

	"go.uber.org/zap"

	"github.com/buildline/exportstream/internal/export"
)

// BuildSummary is the payload published for each cleanly completed build.
type BuildSummary struct {
	BuildID     string         `json:"buildId"`
	StartedAt   int64          `json:"startedAt,omitempty"`
	FinishedAt  int64          `json:"finishedAt,omitempty"`
	EventCounts map[string]int `json:"eventCounts"`
}

// Summary accumulates per-event-type counts and the build's endpoints, then
// publishes the result downstream when the stream completes.
type Summary struct {
	ctx    context.Context
	pub    export.Publisher
	topic  string
	logger *zap.Logger

	summary BuildSummary
}

// NewSummaryRegistration declares the Summary observer type. ctx bounds the
// publish call issued at finalize time.
func NewSummaryRegistration(ctx context.Context, pub export.Publisher, topic string, logger *zap.Logger) export.Registration {
	if logger == nil {
		logger = zap.NewNop()
	}
	return export.Registration{
		Name:       "summary",
		EventTypes: []string{EventBuildStarted, EventBuildFinished, EventTaskFinished},
		New: func(build export.Build) export.Observer {
			return &Summary{
				ctx:    ctx,
				pub:    pub,
				topic:  topic,
				logger: logger,
				summary: BuildSummary{
					BuildID:     build.ID,
					EventCounts: make(map[string]int),
				},
			}
		},
	}
}

// HandleEvent tallies one event and captures the build's endpoints.
func (o *Summary) HandleEvent(ev export.BuildEvent) {
	o.summary.EventCounts[ev.Type.EventType]++
	switch ev.Type.EventType {
	case EventBuildStarted:
		o.summary.StartedAt = ev.Timestamp
	case EventBuildFinished:
		o.summary.FinishedAt = ev.Timestamp
	}
}

// Finalize publishes the accumulated summary. Publish failures are logged,
// not propagated; the build itself already completed.
func (o *Summary) Finalize() {
	id, err := o.pub.Publish(o.ctx, o.topic, o.summary)
	if err != nil {
		o.logger.Error("publishing build summary failed",
			zap.String("build_id", o.summary.BuildID), zap.Error(err))
		return
	}
	o.logger.Info("build summary published",
		zap.String("build_id", o.summary.BuildID),
		zap.String("message_id", id),
	)
}
