package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/course-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PURGE IDEMPOTENCY KEYS JOB
// Applied idempotency keys only need to outlive client retries.
// ══════════════════════════════════════════════════════════════════════════════

// KeyPurger deletes idempotency keys applied before cutoff.
type KeyPurger interface {
	PurgeEventKeys(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeIdempotencyKeysJob implements scheduler.Job.
type PurgeIdempotencyKeysJob struct {
	purger    KeyPurger
	retention time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// NewPurgeIdempotencyKeysJob creates the job.
func NewPurgeIdempotencyKeysJob(purger KeyPurger, retention time.Duration, log *logger.Logger) *PurgeIdempotencyKeysJob {
	if log == nil {
		log = logger.Default()
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &PurgeIdempotencyKeysJob{
		purger:    purger,
		retention: retention,
		log:       log.With(logger.Component("purge_idempotency_keys")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Name implements scheduler.Job.
func (j *PurgeIdempotencyKeysJob) Name() string { return "purge_idempotency_keys" }

// Description implements scheduler.Job.
func (j *PurgeIdempotencyKeysJob) Description() string {
	return "Deletes idempotency keys older than the retention window"
}

// Run implements scheduler.Job.
func (j *PurgeIdempotencyKeysJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.retention)
	n, err := j.purger.PurgeEventKeys(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge_idempotency_keys: %w", err)
	}
	j.log.Info("idempotency keys purged",
		logger.Int64("deleted", n),
		logger.Time("cutoff", cutoff),
	)
	return nil
}
