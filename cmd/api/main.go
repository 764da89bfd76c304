// Package main is the entry point of the course progress REST API.
//
// The API records module progress, manages enrollments and serves the
// course-level roll-ups. Background jobs run in cmd/worker, except with
// in-memory storage where the API runs them itself.
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
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg).With(logger.Component("api"))
	defer func() { _ = log.Sync() }()

	log.Info("starting course progress API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("storage", cfg.App.StorageDriver),
		logger.String("event_bus", cfg.App.EventBus),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. INFRASTRUCTURE
	// ─────────────────────────────────────────────────────────────────────────
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

	// ─────────────────────────────────────────────────────────────────────────
	// 3. APPLICATION
	// ─────────────────────────────────────────────────────────────────────────
	h := container.NewHandlers()

	// With a Redis bus the worker owns auto-advance; a local bus only reaches
	// subscribers in this process.
	if cfg.App.EventBus == config.EventBusMemory {
		if err := container.SubscribeAutoAdvance(h); err != nil {
			return err
		}
	}

	var sched *scheduler.Scheduler
	if cfg.App.StorageDriver == config.StorageMemory && cfg.Scheduler.Enabled {
		if sched, err = container.NewScheduler(h); err != nil {
			return err
		}
	}

	server := httpserver.NewServer(httpserver.ConfigFrom(cfg), httpserver.Dependencies{
		RecordProgress:        h.RecordProgress,
		CreateEnrollment:      h.CreateEnrollment,
		AdvanceEnrollment:     h.AdvanceEnrollment,
		StartEnrollment:       h.StartEnrollment,
		ExpireEnrollment:      h.ExpireEnrollment,
		OverrideEnrollment:    h.OverrideEnrollment,
		ComputeCourseProgress: h.ComputeCourseProgress,
		GetEnrollment:         h.GetEnrollment,
		ListCourseProgress:    h.ListCourseProgress,
		Identity:              handlers.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		AdminAuth:             handlers.NewAdminKeyAuth(cfg.Auth.AdminKeyHashes),
		HealthChecker:         container.Health,
		Jobs:                  sched,
		Features:              cfg.Features,
		Logger:                log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. RUN UNTIL SIGNAL
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return sched.Stop()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", logger.Duration("timeout", cfg.App.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown completed")
	return nil
}
