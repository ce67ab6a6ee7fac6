// Package observers ships the built-in observer types registered by the
// application: per-build duration, cacheable task counting, and summary
// publishing.
package observers

import (
	"go.uber.org/zap"

	"github.com/buildline/exportstream/internal/export"
)

// Event-type identifiers the built-in observers consume.
const (
	EventBuildStarted  = "BuildStarted"
	EventBuildFinished = "BuildFinished"
	EventTaskFinished  = "TaskFinished"
)

// BuildDuration tracks the wall-clock span between a build's started and
// finished events and logs it when the build finishes.
type BuildDuration struct {
	build  export.Build
	logger *zap.Logger

	startedAt  int64
	haveStart  bool
	durationMs int64
	haveResult bool
}

// NewBuildDurationRegistration declares the BuildDuration observer type.
func NewBuildDurationRegistration(logger *zap.Logger) export.Registration {
	if logger == nil {
		logger = zap.NewNop()
	}
	return export.Registration{
		Name:       "build-duration",
		EventTypes: []string{EventBuildStarted, EventBuildFinished},
		New: func(build export.Build) export.Observer {
			return &BuildDuration{build: build, logger: logger}
		},
	}
}

// HandleEvent records the start timestamp and computes the duration once
// the finished event arrives.
func (o *BuildDuration) HandleEvent(ev export.BuildEvent) {
	switch ev.Type.EventType {
	case EventBuildStarted:
		o.startedAt = ev.Timestamp
		o.haveStart = true
	case EventBuildFinished:
		if !o.haveStart {
			o.logger.Warn("build finished without a start event", zap.String("build_id", o.build.ID))
			return
		}
		o.durationMs = ev.Timestamp - o.startedAt
		o.haveResult = true
		o.logger.Info("build duration",
			zap.String("build_id", o.build.ID),
			zap.Int64("duration_ms", o.durationMs),
		)
	}
}

// DurationMillis returns the computed duration and whether both endpoints
// were observed.
func (o *BuildDuration) DurationMillis() (int64, bool) {
	return o.durationMs, o.haveResult
}
