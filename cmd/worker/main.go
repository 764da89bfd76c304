// Package main is the entry point of the course progress background worker.
//
// The worker runs the scheduled jobs (overdue enrollment expiry and
// idempotency key purging) and, when events travel over Redis, advances
// enrollments after every recorded progress event. With SCHEDULER_ADMIN_PORT
// set it also serves health, metrics and the job admin routes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/course-progress/config"
	"github.com/alem-hub/course-progress/internal/app"
	"github.com/alem-hub/course-progress/internal/infrastructure/scheduler"
	httpserver "github.com/alem-hub/course-progress/internal/interface/http"
	"github.com/alem-hub/course-progress/internal/interface/http/handlers"
	"github.com/alem-hub/course-progress/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.StorageDriver == config.StorageMemory {
		return errors.New("the worker needs shared storage; with STORAGE_DRIVER=memory the API runs the jobs itself")
	}

	log := app.NewLogger(cfg).With(logger.Component("worker"))
	defer func() { _ = log.Sync() }()

	log.Info("starting course progress worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("event_bus", cfg.App.EventBus),
		logger.Bool("scheduler", cfg.Scheduler.Enabled),
	)

	container, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing connections")
		container.Close()
	}()

	if cfg.Database.MigrateOnStart {
		if err := container.Migrate(ctx); err != nil {
			return err
		}
	}

	h := container.NewHandlers()

	if cfg.App.EventBus == config.EventBusRedis {
		if err := container.SubscribeAutoAdvance(h); err != nil {
			return err
		}
		log.Info("auto-advance subscribed", logger.String("channel", cfg.Redis.Channel))
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		if sched, err = container.NewScheduler(h); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Scheduler.AdminPort > 0 {
		scfg := httpserver.ConfigFrom(cfg)
		scfg.Port = cfg.Scheduler.AdminPort
		scfg.RateLimitPerSecond = 0

		// learner routes stay closed: there is no Identity here
		admin := httpserver.NewServer(scfg, httpserver.Dependencies{
			AdminAuth:     handlers.NewAdminKeyAuth(cfg.Auth.AdminKeyHashes),
			HealthChecker: container.Health,
			Jobs:          sched,
			Features:      cfg.Features,
			Logger:        log,
		})
		g.Go(admin.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
			defer cancel()
			return admin.Shutdown(shutdownCtx)
		})
	}

	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			log.Info("stopping scheduler")
			return sched.Stop()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	log.Info("worker is running")
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown completed")
	return nil
}
