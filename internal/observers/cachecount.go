package observers

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/buildline/exportstream/internal/export"
)

// CacheableTasks counts finished tasks and how many of them were cacheable,
// reporting the totals when the build stream completes.
type CacheableTasks struct {
	build  export.Build
	logger *zap.Logger

	total     int
	cacheable int
}

// NewCacheableTasksRegistration declares the CacheableTasks observer type.
func NewCacheableTasksRegistration(logger *zap.Logger) export.Registration {
	if logger == nil {
		logger = zap.NewNop()
	}
	return export.Registration{
		Name:       "cacheable-tasks",
		EventTypes: []string{EventTaskFinished},
		New: func(build export.Build) export.Observer {
			return &CacheableTasks{build: build, logger: logger}
		},
	}
}

// HandleEvent tallies one finished task.
func (o *CacheableTasks) HandleEvent(ev export.BuildEvent) {
	var data struct {
		Cacheable bool `json:"cacheable"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		o.logger.Warn("discarding undecodable task event",
			zap.String("build_id", o.build.ID), zap.Error(err))
		return
	}
	o.total++
	if data.Cacheable {
		o.cacheable++
	}
}

// Finalize logs the tallies once the build's stream has completed cleanly.
func (o *CacheableTasks) Finalize() {
	o.logger.Info("cacheable task count",
		zap.String("build_id", o.build.ID),
		zap.Int("tasks_total", o.total),
		zap.Int("tasks_cacheable", o.cacheable),
	)
}

// Count returns the cacheable and total task tallies.
func (o *CacheableTasks) Count() (cacheable, total int) {
	return o.cacheable, o.total
}
