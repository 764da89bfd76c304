package command

import (
	"context"
	"time"

	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/internal/infrastructure/metrics"
	"github.com/alem-hub/course-progress/pkg/logger"
	"github.com/alem-hub/course-progress/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT TRANSITIONS
// Every enrollment command reads the record, feeds one trigger to the state
// machine and writes the result back with a version check. A lost race is
// retried from the read.
// ══════════════════════════════════════════════════════════════════════════════

// TransitionResult is returned by every enrollment trigger command.
type TransitionResult struct {
	Enrollment *enrollment.Enrollment
	Outcome    enrollment.Outcome

	// Progress is the aggregate the trigger was computed from, when there was one.
	Progress *progress.CourseProgress
}

// TransitionConfig contains configuration shared by the trigger handlers.
type TransitionConfig struct {
	Logger *logger.Logger

	// Retrier retries version conflicts. Defaults to ConflictRetrier.
	Retrier *retry.Retrier

	// Clock is used for transition timestamps. Defaults to time.Now in UTC.
	Clock func() time.Time
}

// DefaultTransitionConfig returns default configuration.
func DefaultTransitionConfig() TransitionConfig {
	return TransitionConfig{}
}

type transitioner struct {
	repo      enrollment.Repository
	publisher shared.EventPublisher
	retrier   *retry.Retrier
	log       *logger.Logger
	now       func() time.Time
}

func newTransitioner(repo enrollment.Repository, publisher shared.EventPublisher, component string, config TransitionConfig) *transitioner {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	log := config.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component(component))
	if config.Retrier == nil {
		config.Retrier = newConflictRetrier(log)
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &transitioner{
		repo:      repo,
		publisher: publisher,
		retrier:   config.Retrier,
		log:       log,
		now:       config.Clock,
	}
}

// run applies the trigger built by next to the enrollment stored under key.
// next is called once per attempt so it sees fresh inputs after a conflict.
func (t *transitioner) run(
	ctx context.Context,
	op string,
	key enrollment.Key,
	next func(ctx context.Context) (enrollment.Trigger, *progress.CourseProgress, error),
) (*TransitionResult, error) {
	var result *TransitionResult

	err := t.retrier.Do(ctx, func(ctx context.Context) error {
		e, err := t.repo.Get(ctx, key)
		if err != nil {
			return err
		}

		trigger, agg, err := next(ctx)
		if err != nil {
			return err
		}

		out, err := e.Apply(trigger, t.now())
		if err != nil {
			return err
		}
		if out.Dirty {
			if err := t.repo.Update(ctx, e); err != nil {
				return err
			}
		}

		result = &TransitionResult{Enrollment: e, Outcome: out, Progress: agg}
		return nil
	})
	if err != nil {
		if !shared.IsNotFound(err) && !shared.IsInvalidArgument(err) && !shared.IsInvalidTransition(err) {
			t.log.Warn("enrollment transition failed",
				logger.Operation(op),
				logger.TenantID(string(key.TenantID)),
				logger.UserID(string(key.UserID)),
				logger.CourseID(string(key.CourseID)),
				logger.Err(err),
			)
		}
		return nil, exhausted("enrollment", op, err)
	}

	out := result.Outcome
	if out.Changed {
		metrics.RecordTransition(out.From.String(), out.To.String())

		e := result.Enrollment
		publish(t.publisher, t.log, shared.NewEnrollmentTransitionedEvent(
			e.ID,
			string(key.TenantID),
			string(key.UserID),
			string(key.CourseID),
			out.From.String(),
			out.To.String(),
			string(out.Trigger),
			e.ProgressPct,
		))

		t.log.Info("enrollment transitioned",
			logger.TenantID(string(key.TenantID)),
			logger.UserID(string(key.UserID)),
			logger.CourseID(string(key.CourseID)),
			logger.Transition(out.From.String(), out.To.String()),
			logger.String("trigger", string(out.Trigger)),
		)
	}

	return result, nil
}
