// Package app initializes and holds the long-lived application services,
// acting as the composition root.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/buildline/exportstream/internal/api"
	"github.com/buildline/exportstream/internal/clock/system"
	"github.com/buildline/exportstream/internal/config"
	"github.com/buildline/exportstream/internal/export"
	"github.com/buildline/exportstream/internal/listener"
	"github.com/buildline/exportstream/internal/logging"
	"github.com/buildline/exportstream/internal/metrics"
	"github.com/buildline/exportstream/internal/observers"
	"github.com/buildline/exportstream/internal/processor"
	"github.com/buildline/exportstream/internal/publisher/memory"
	"github.com/buildline/exportstream/internal/publisher/pubsub"
	"github.com/buildline/exportstream/internal/scheduler"
	"github.com/buildline/exportstream/internal/stream"
	"github.com/buildline/exportstream/internal/transport/sse"
)

// App holds the assembled services for one run of the stream processor.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	listener  *listener.Listener
	scheduler *scheduler.Scheduler
	server    *api.Server
	publisher export.Publisher
	pubsub    *pubsub.Publisher
}

// New assembles the service graph from cfg. It fails fast if any service
// cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	metrics.Init()

	tr := sse.NewClient(sse.Config{
		AccessToken: cfg.Server.AccessToken,
		Logger:      logger.Named("sse"),
	})

	regs := []export.Registration{
		observers.NewBuildDurationRegistration(logger),
		observers.NewCacheableTasksRegistration(logger),
	}

	var pub export.Publisher
	var pubsubClient *pubsub.Publisher
	if cfg.PubSub.Enabled {
		pubsubClient, err = pubsub.New(ctx, cfg.PubSub.ProjectID, logger.Named("pubsub"))
		if err != nil {
			return nil, fmt.Errorf("initialize publisher: %w", err)
		}
		pub = pubsubClient
	} else {
		pub = memory.New()
	}
	regs = append(regs, observers.NewSummaryRegistration(ctx, pub, cfg.PubSub.TopicName, logger))

	proc := processor.New(tr, cfg.Server.BaseURL, regs,
		stream.RetryPolicy{
			Interval:   cfg.Processor.Retry.Interval,
			MaxRetries: cfg.Processor.Retry.MaxRetries,
		},
		logger.Named("processor"))

	sched := scheduler.New(cfg.Processor.MaxConcurrentBuilds, proc.Process, logger.Named("scheduler"))

	lst := listener.New(tr, cfg.Server.BaseURL, cfg.Listener.Cursor, sched,
		stream.RetryPolicy{
			Interval:   cfg.Listener.Retry.Interval,
			MaxRetries: cfg.Listener.Retry.MaxRetries,
		},
		system.Clock{}, logger.Named("listener"))

	server := api.NewServer(sched, cfg.Ops.Port, logger.Named("api"))

	return &App{
		cfg:       cfg,
		logger:    logger,
		listener:  lst,
		scheduler: sched,
		server:    server,
		publisher: pub,
		pubsub:    pubsubClient,
	}, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Publisher returns the summary publisher in use.
func (a *App) Publisher() export.Publisher {
	return a.publisher
}

// Run drives the scheduler, listener, and ops server until one of them
// fails or ctx ends. A cleanly completed build feed stops admission but
// lets every queued and in-flight build finish before the group winds
// down; a listener failure or ctx cancellation aborts in-flight work.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		err := a.scheduler.Run(gctx)
		stopServer()
		if err != nil && gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := a.listener.Run(gctx)
		if err != nil {
			return err
		}
		// Feed exhaustion is a normal exit: drain the builds already
		// discovered, then let the scheduler stop the rest.
		a.scheduler.Drain()
		return nil
	})
	g.Go(func() error {
		err := a.server.Serve(srvCtx)
		if err != nil && srvCtx.Err() != nil {
			return nil
		}
		return err
	})

	return g.Wait()
}

// Close releases external clients and flushes logs.
func (a *App) Close() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("closing publisher failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
