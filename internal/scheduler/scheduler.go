// Package scheduler admits queued builds into per-build processing, bounded
// by a fixed concurrency limit.
package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/buildline/exportstream/internal/export"
	"github.com/buildline/exportstream/internal/metrics"
)

// ProcessFunc processes one admitted build to completion. A non-nil error
// marks the build failed; either way its slot is released.
type ProcessFunc func(ctx context.Context, build export.Build) error

// Scheduler owns the FIFO pending queue and the admitted count. Admission
// always happens on the Run goroutine: Enqueue and release only signal it,
// which keeps slot-freeing bursts from recursing and serializes all queue
// mutations.
type Scheduler struct {
	limit   int
	process ProcessFunc
	logger  *zap.Logger

	mu       sync.Mutex
	pending  []export.Build
	admitted int

	kick      chan struct{}
	drain     chan struct{}
	drainOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a Scheduler admitting at most limit builds concurrently.
func New(limit int, process ProcessFunc, logger *zap.Logger) *Scheduler {
	if limit <= 0 {
		limit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		limit:   limit,
		process: process,
		logger:  logger,
		kick:    make(chan struct{}, 1),
		drain:   make(chan struct{}),
	}
}

// Enqueue appends build to the pending queue and schedules an admission
// pass. Builds are admitted in enqueue order; none is skipped while an
// earlier one waits.
func (s *Scheduler) Enqueue(build export.Build) {
	s.mu.Lock()
	s.pending = append(s.pending, build)
	depth := len(s.pending)
	s.mu.Unlock()
	metrics.SetQueueDepth(depth)
	s.logger.Debug("build queued", zap.String("build_id", build.ID), zap.Int("queue_depth", depth))
	s.signal()
}

// Run serves admission passes until ctx ends or, after Drain, the last
// queued and in-flight build has finished. Cancelling ctx aborts in-flight
// processing; Drain lets it run to completion.
func (s *Scheduler) Run(ctx context.Context) error {
	drain := s.drain
	draining := false
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-drain:
			drain = nil
			draining = true
		case <-s.kick:
			s.admit(ctx)
		}
		if draining && s.idle() {
			s.wg.Wait()
			return nil
		}
	}
}

// Drain makes Run return once every queued and admitted build has been
// processed. Callers stop the producer first; builds enqueued after Drain
// are still admitted.
func (s *Scheduler) Drain() {
	s.drainOnce.Do(func() { close(s.drain) })
}

// QueueDepth returns the number of builds waiting for a slot.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// InFlight returns the number of builds currently admitted.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitted
}

// Limit returns the concurrency limit.
func (s *Scheduler) Limit() int {
	return s.limit
}

func (s *Scheduler) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0 && s.admitted == 0
}

func (s *Scheduler) signal() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// admit moves builds from the queue head into processing while free slots
// remain.
func (s *Scheduler) admit(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.admitted >= s.limit || len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		build := s.pending[0]
		s.pending = s.pending[1:]
		s.admitted++
		admitted := s.admitted
		depth := len(s.pending)
		s.mu.Unlock()

		metrics.SetQueueDepth(depth)
		metrics.IncBuildsInFlight()
		s.logger.Info("build admitted",
			zap.String("build_id", build.ID),
			zap.Int("in_flight", admitted),
			zap.Int("queue_depth", depth),
		)
		s.wg.Add(1)
		go s.runBuild(ctx, build)
	}
}

func (s *Scheduler) runBuild(ctx context.Context, build export.Build) {
	defer s.wg.Done()
	defer s.release()
	if err := s.process(ctx, build); err != nil {
		metrics.ObserveBuildCompleted("failed")
		s.logger.Warn("build processing failed", zap.String("build_id", build.ID), zap.Error(err))
		return
	}
	metrics.ObserveBuildCompleted("completed")
	s.logger.Debug("build processing finished", zap.String("build_id", build.ID))
}

// release frees the finished build's slot and defers the next admission
// pass to the Run goroutine rather than admitting inline.
func (s *Scheduler) release() {
	s.mu.Lock()
	s.admitted--
	s.mu.Unlock()
	metrics.DecBuildsInFlight()
	s.signal()
}
