// Package jobs contains the scheduled jobs of the course progress service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/course-progress/config"
	"github.com/alem-hub/course-progress/internal/application/command"
	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/infrastructure/scheduler"
	"github.com/alem-hub/course-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE OVERDUE ENROLLMENTS JOB
// Feeds DeadlinePassed to every non-terminal enrollment whose deadline has
// passed. Runs through the same command as an administrator's expire call.
// ══════════════════════════════════════════════════════════════════════════════

// OverdueLister lists enrollments past their deadline.
type OverdueLister interface {
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*enrollment.Enrollment, error)
}

// Expirer expires one enrollment.
type Expirer interface {
	Handle(ctx context.Context, cmd command.ExpireEnrollmentCommand) (*command.TransitionResult, error)
}

// Lease lets only one worker instance run a job per tick.
type Lease interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// ExpireOverdueConfig contains configuration for the job.
type ExpireOverdueConfig struct {
	// BatchSize is how many enrollments are listed per round.
	BatchSize int

	// MaxRounds bounds the number of batches per run.
	MaxRounds int

	// LeaseKey and LeaseTTL configure the cross-instance lease. Ignored without a Lease.
	LeaseKey string
	LeaseTTL time.Duration
}

// DefaultExpireOverdueConfig returns sensible defaults.
func DefaultExpireOverdueConfig() ExpireOverdueConfig {
	return ExpireOverdueConfig{
		BatchSize: 500,
		MaxRounds: 20,
		LeaseKey:  "lock:expire_overdue_enrollments",
		LeaseTTL:  time.Minute,
	}
}

// ExpireStats contains statistics from one run.
type ExpireStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Scanned   int
	Expired   int
	Failed    int
}

// ExpireOverdueEnrollmentsJob implements scheduler.Job.
type ExpireOverdueEnrollmentsJob struct {
	lister     OverdueLister
	expirer    Expirer
	lease      Lease
	flags      *config.FeatureFlags
	log        *logger.Logger
	config     ExpireOverdueConfig
	instanceID string
	now        func() time.Time

	lastStats atomic.Pointer[ExpireStats]
}

// NewExpireOverdueEnrollmentsJob creates the job. lease and flags may be nil.
func NewExpireOverdueEnrollmentsJob(
	lister OverdueLister,
	expirer Expirer,
	lease Lease,
	flags *config.FeatureFlags,
	log *logger.Logger,
	cfg ExpireOverdueConfig,
) *ExpireOverdueEnrollmentsJob {
	if log == nil {
		log = logger.Default()
	}
	def := DefaultExpireOverdueConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = def.MaxRounds
	}
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = def.LeaseKey
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	return &ExpireOverdueEnrollmentsJob{
		lister:     lister,
		expirer:    expirer,
		lease:      lease,
		flags:      flags,
		log:        log.With(logger.Component("expire_overdue_enrollments")),
		config:     cfg,
		instanceID: uuid.NewString(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Name implements scheduler.Job.
func (j *ExpireOverdueEnrollmentsJob) Name() string { return "expire_overdue_enrollments" }

// Description implements scheduler.Job.
func (j *ExpireOverdueEnrollmentsJob) Description() string {
	return "Expires enrollments whose deadline has passed"
}

// LastStats returns the statistics of the previous run, or nil.
func (j *ExpireOverdueEnrollmentsJob) LastStats() *ExpireStats {
	return j.lastStats.Load()
}

// Run implements scheduler.Job.
func (j *ExpireOverdueEnrollmentsJob) Run(ctx context.Context) error {
	if j.flags != nil && !j.flags.IsEnabled(config.FeatureExpiryJob, nil) {
		return fmt.Errorf("%w: %s disabled", scheduler.ErrSkipped, config.FeatureExpiryJob)
	}

	if j.lease != nil {
		ok, err := j.lease.SetNX(ctx, j.config.LeaseKey, j.instanceID, j.config.LeaseTTL)
		if err != nil {
			return fmt.Errorf("expire_overdue_enrollments: failed to acquire lease: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: lease held by another instance", scheduler.ErrSkipped)
		}
	}

	stats := &ExpireStats{StartedAt: time.Now()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastStats.Store(stats)
	}()

	var errs []error
	for round := 0; round < j.config.MaxRounds; round++ {
		overdue, err := j.lister.ListOverdue(ctx, j.now(), j.config.BatchSize)
		if err != nil {
			return fmt.Errorf("expire_overdue_enrollments: failed to list overdue: %w", err)
		}
		stats.Scanned += len(overdue)

		expired := 0
		for _, e := range overdue {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := j.expirer.Handle(ctx, command.ExpireEnrollmentCommand{
				TenantID: string(e.TenantID),
				UserID:   string(e.UserID),
				CourseID: string(e.CourseID),
			})
			if err != nil {
				stats.Failed++
				errs = append(errs, fmt.Errorf("%s: %w", e.Key.String(), err))
				continue
			}
			if res.Outcome.Changed {
				expired++
			}
		}
		stats.Expired += expired

		// a short batch means the backlog is drained; a batch that expired
		// nothing would be listed again unchanged
		if len(overdue) < j.config.BatchSize || expired == 0 {
			break
		}
	}

	if stats.Expired > 0 || stats.Failed > 0 {
		j.log.Info("overdue enrollments processed",
			logger.Int("scanned", stats.Scanned),
			logger.Int("expired", stats.Expired),
			logger.Int("failed", stats.Failed),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("expire_overdue_enrollments: %d enrollments failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
