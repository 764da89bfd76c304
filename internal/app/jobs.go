package app

import (
	"fmt"
	"strings"

	"github.com/alem-hub/course-progress/config"
	"github.com/alem-hub/course-progress/internal/infrastructure/scheduler"
	"github.com/alem-hub/course-progress/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/course-progress/pkg/logger"
)

// NewLogger builds the process logger from configuration.
func NewLogger(cfg *config.Config) *logger.Logger {
	if strings.EqualFold(strings.TrimSpace(cfg.App.LogLevel), "off") && !cfg.App.Debug {
		return logger.Nop()
	}
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.App.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	opts.Format = cfg.App.LogFormat
	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
		logger.String("version", cfg.App.Version),
	)
}

// NewScheduler registers the background jobs. The scheduler is not started.
func (c *Container) NewScheduler(h *Handlers) (*scheduler.Scheduler, error) {
	sc := c.Config.Scheduler

	scfg := scheduler.DefaultConfig()
	scfg.Logger = c.Log
	if sc.MaxConcurrentJobs > 0 {
		scfg.MaxConcurrentJobs = sc.MaxConcurrentJobs
	}
	if sc.JobTimeout > 0 {
		scfg.JobTimeout = sc.JobTimeout
	}
	s := scheduler.New(scfg)

	var lease jobs.Lease
	if c.Cache != nil {
		lease = c.Cache
	}

	expireCfg := jobs.DefaultExpireOverdueConfig()
	if sc.ExpiryBatch > 0 {
		expireCfg.BatchSize = sc.ExpiryBatch
	}
	// the lease must expire before the next tick so a crashed holder does not block it
	if sc.ExpiryInterval > 0 && sc.ExpiryInterval < expireCfg.LeaseTTL*2 {
		expireCfg.LeaseTTL = sc.ExpiryInterval / 2
	}
	expire := jobs.NewExpireOverdueEnrollmentsJob(c.Enrollments, h.ExpireEnrollment, lease, c.Config.Features, c.Log, expireCfg)
	if err := s.Register(expire, scheduler.Every(sc.ExpiryInterval)); err != nil {
		return nil, fmt.Errorf("register %s: %w", expire.Name(), err)
	}

	var purgeSchedule scheduler.Schedule
	switch {
	case sc.KeyPurgeCron != "":
		cron, err := scheduler.ParseCron(sc.KeyPurgeCron)
		if err != nil {
			return nil, fmt.Errorf("SCHEDULER_KEY_PURGE_CRON: %w", err)
		}
		purgeSchedule = cron
	case sc.KeyPurgeInterval > 0:
		purgeSchedule = scheduler.Every(sc.KeyPurgeInterval)
	}
	if purgeSchedule != nil {
		purge := jobs.NewPurgeIdempotencyKeysJob(c.Ledger, sc.KeyRetention, c.Log)
		if err := s.Register(purge, purgeSchedule); err != nil {
			return nil, fmt.Errorf("register %s: %w", purge.Name(), err)
		}
	}

	return s, nil
}
