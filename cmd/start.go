package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vircadia/vircadia-world-sub011/internal/changefeed"
	"github.com/vircadia/vircadia-world-sub011/internal/config"
	"github.com/vircadia/vircadia-world-sub011/internal/frontend"
	"github.com/vircadia/vircadia-world-sub011/internal/lease"
	"github.com/vircadia/vircadia-world-sub011/internal/logger"
	"github.com/vircadia/vircadia-world-sub011/internal/logger/tag"
	"github.com/vircadia/vircadia-world-sub011/internal/models"
	"github.com/vircadia/vircadia-world-sub011/internal/persistence/memory"
	"github.com/vircadia/vircadia-world-sub011/internal/persistence/postgres"
	"github.com/vircadia/vircadia-world-sub011/internal/registry"
	"github.com/vircadia/vircadia-world-sub011/internal/scheduler"
	"github.com/vircadia/vircadia-world-sub011/internal/sweeper"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the tick scheduler, lease queue, retention sweeper and frontend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := logger.WithLogger(cmd.Context(), buildLogger(cfg))
			return runStart(ctx, cfg)
		},
	}
}

// engine bundles the store interfaces plus the notifier for one driver.
type engine struct {
	groups   models.GroupStore
	ticks    models.TickStore
	entities models.EntityStore
	actions  models.ActionStore
	notifier models.TickNotifier
	close    func()
}

func openEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	switch cfg.Database.Driver {
	case "memory":
		mem := memory.NewEngine()
		return &engine{
			groups:   mem,
			ticks:    mem,
			entities: mem,
			actions:  mem,
			notifier: mem,
			close:    mem.Close,
		}, nil
	case "postgres":
		if err := postgres.Migrate(ctx, cfg.Database.DSN); err != nil {
			return nil, err
		}
		store, err := postgres.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		return &engine{
			groups:   store,
			ticks:    store,
			entities: store,
			actions:  store,
			notifier: postgres.NewListener(cfg.Database.DSN),
			close:    store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func runStart(ctx context.Context, cfg *config.Config) error {
	for _, warning := range cfg.Warnings {
		logger.Warn(ctx, warning)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.close()

	reg := registry.New(eng.groups)
	if err := reg.Load(ctx, cfg.Groups); err != nil {
		return err
	}
	groups := reg.All()

	queue := lease.New(eng.actions)
	feed := changefeed.New(eng.ticks, eng.entities)

	sched := scheduler.New(eng.ticks, eng.notifier,
		scheduler.WithRetryInterval(cfg.Scheduler.CaptureRetryInterval))
	if err := sched.Start(ctx, groups); err != nil {
		return err
	}

	queue.Start(ctx, groups)

	sweep := sweeper.New(eng.ticks, eng.entities, queue)
	sweep.Start(ctx, groups)

	srv := frontend.NewServer(frontend.NewAPI(reg, sched, queue, feed), cfg)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx)
	}()

	logger.Info(ctx, "World sync service started",
		tag.Count(int64(len(groups))))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error(ctx, "Frontend server failed", tag.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownCtx = logger.WithLogger(shutdownCtx, logger.FromContext(ctx))

	srv.Shutdown(shutdownCtx)
	sched.Stop(shutdownCtx)
	queue.Stop()
	sweep.Stop()

	logger.Info(shutdownCtx, "World sync service stopped")
	return nil
}
