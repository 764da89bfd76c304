// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/internal/infrastructure/metrics"
	"github.com/alem-hub/course-progress/pkg/logger"
	"github.com/alem-hub/course-progress/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD PROGRESS COMMAND
// Applies one progress event to the ledger: status, time spent and score for a
// single module of a course.
// ══════════════════════════════════════════════════════════════════════════════

// RecordProgressCommand contains the data of one progress event.
type RecordProgressCommand struct {
	TenantID string
	UserID   string
	CourseID string
	ModuleID string

	// Status is the reported module status. Empty leaves it unchanged.
	Status string

	// TimeSpentDelta is added to the accumulated time. Must be >= 0.
	TimeSpentDelta *int64

	// Score overwrites the stored score. Must be within 0..100.
	Score *int

	// IdempotencyKey deduplicates client retries of the same event.
	IdempotencyKey string
}

// parsed is the validated form of the command.
type parsedProgress struct {
	key      progress.Key
	courseID shared.CourseID
	update   progress.Update
}

func (c RecordProgressCommand) parse() (parsedProgress, error) {
	var p parsedProgress

	tenant, err := shared.NewTenantID(c.TenantID)
	if err != nil {
		return p, err
	}
	user, err := shared.NewUserID(c.UserID)
	if err != nil {
		return p, err
	}
	course, err := shared.NewCourseID(c.CourseID)
	if err != nil {
		return p, err
	}
	module, err := shared.NewModuleID(c.ModuleID)
	if err != nil {
		return p, err
	}

	p.key = progress.Key{TenantID: tenant, UserID: user, ModuleID: module}
	p.courseID = course
	p.update = progress.Update{
		TimeSpentDelta: c.TimeSpentDelta,
		Score:          c.Score,
		IdempotencyKey: c.IdempotencyKey,
	}
	if c.Status != "" {
		st, err := progress.ParseStatus(c.Status)
		if err != nil {
			return p, err
		}
		p.update.Status = &st
	}
	if err := p.update.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate validates the command.
func (c RecordProgressCommand) Validate() error {
	_, err := c.parse()
	return err
}

// RecordProgressResult contains the result of recording progress.
type RecordProgressResult struct {
	Record *progress.Record

	// Created is true when this event created the record.
	Created bool

	// Duplicate is true when the idempotency key had already been applied.
	Duplicate bool

	// BecameCompleted is true when this event completed the module.
	BecameCompleted bool
}

// RecordProgressHandler handles the RecordProgress command.
type RecordProgressHandler struct {
	repo      progress.Repository
	publisher shared.EventPublisher
	retrier   *retry.Retrier
	log       *logger.Logger
}

// RecordProgressHandlerConfig contains configuration for the handler.
type RecordProgressHandlerConfig struct {
	Logger *logger.Logger

	// Retrier retries Conflict errors from the store. Defaults to ConflictRetrier.
	Retrier *retry.Retrier
}

// DefaultRecordProgressHandlerConfig returns default configuration.
func DefaultRecordProgressHandlerConfig() RecordProgressHandlerConfig {
	return RecordProgressHandlerConfig{}
}

// NewRecordProgressHandler creates a new RecordProgressHandler.
func NewRecordProgressHandler(
	repo progress.Repository,
	publisher shared.EventPublisher,
	config RecordProgressHandlerConfig,
) *RecordProgressHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	log := config.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("record_progress"))
	if config.Retrier == nil {
		config.Retrier = newConflictRetrier(log)
	}
	return &RecordProgressHandler{
		repo:      repo,
		publisher: publisher,
		retrier:   config.Retrier,
		log:       log,
	}
}

// Handle executes the record progress command.
func (h *RecordProgressHandler) Handle(ctx context.Context, cmd RecordProgressCommand) (*RecordProgressResult, error) {
	start := time.Now()

	p, err := cmd.parse()
	if err != nil {
		metrics.RecordProgress(metrics.ResultRejected)
		return nil, err
	}

	var res *progress.UpsertResult
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		var upsertErr error
		res, upsertErr = h.repo.Upsert(ctx, p.key, p.courseID, p.update)
		return upsertErr
	})
	if err != nil {
		if shared.IsInvalidArgument(err) {
			metrics.RecordProgress(metrics.ResultRejected)
			return nil, err
		}
		metrics.RecordProgress(metrics.ResultError)
		h.log.Error("ledger upsert failed",
			logger.TenantID(string(p.key.TenantID)),
			logger.UserID(string(p.key.UserID)),
			logger.ModuleID(string(p.key.ModuleID)),
			logger.Err(err),
		)
		return nil, fmt.Errorf("record_progress: failed to upsert: %w", exhausted("progress", "Record", err))
	}

	switch {
	case res.Duplicate:
		metrics.RecordProgress(metrics.ResultDuplicate)
	case res.Created:
		metrics.RecordProgress(metrics.ResultCreated)
	default:
		metrics.RecordProgress(metrics.ResultUpdated)
	}

	if !res.Duplicate {
		publish(h.publisher, h.log, shared.NewProgressRecordedEvent(
			string(p.key.TenantID),
			string(p.key.UserID),
			string(p.courseID),
			string(p.key.ModuleID),
			res.Record.Status.String(),
		))
	}

	h.log.Debug("progress recorded",
		logger.TenantID(string(p.key.TenantID)),
		logger.UserID(string(p.key.UserID)),
		logger.CourseID(string(p.courseID)),
		logger.ModuleID(string(p.key.ModuleID)),
		logger.IdempotencyKey(p.update.IdempotencyKey),
		logger.Bool("duplicate", res.Duplicate),
		logger.Latency(time.Since(start)),
	)

	return &RecordProgressResult{
		Record:          res.Record,
		Created:         res.Created,
		Duplicate:       res.Duplicate,
		BecameCompleted: res.BecameCompleted,
	}, nil
}
