// Package eventhandler contains handlers for domain events.
package eventhandler

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/course-progress/config"
	"github.com/alem-hub/course-progress/internal/application/command"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS RECORDED HANDLER
// Re-evaluates the learner's enrollment after every applied ledger write so
// that finishing the last module completes the course without a separate
// advance call. The module count comes from the catalog.
// ═══════════════════════════════════════════════════════════════════════════

// Advancer advances an enrollment from the ledger.
type Advancer interface {
	Handle(ctx context.Context, cmd command.AdvanceEnrollmentCommand) (*command.TransitionResult, error)
}

// OnProgressRecordedHandler handles ProgressRecordedEvent.
type OnProgressRecordedHandler struct {
	advancer Advancer
	flags    *config.FeatureFlags
	log      *logger.Logger
	config   ProgressRecordedConfig
}

// ProgressRecordedConfig contains configuration for the handler.
type ProgressRecordedConfig struct {
	// Timeout bounds one re-evaluation, catalog call included.
	Timeout time.Duration
}

// DefaultProgressRecordedConfig returns default configuration.
func DefaultProgressRecordedConfig() ProgressRecordedConfig {
	return ProgressRecordedConfig{Timeout: 10 * time.Second}
}

// NewOnProgressRecordedHandler creates a new handler. flags may be nil, in
// which case auto-advance is always on.
func NewOnProgressRecordedHandler(
	advancer Advancer,
	flags *config.FeatureFlags,
	log *logger.Logger,
	cfg ProgressRecordedConfig,
) *OnProgressRecordedHandler {
	if log == nil {
		log = logger.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProgressRecordedConfig().Timeout
	}
	return &OnProgressRecordedHandler{
		advancer: advancer,
		flags:    flags,
		log:      log.With(logger.Component("on_progress_recorded")),
		config:   cfg,
	}
}

// Handle implements shared.EventHandler.
func (h *OnProgressRecordedHandler) Handle(event shared.Event) error {
	var ev shared.ProgressRecordedEvent
	switch e := event.(type) {
	case shared.ProgressRecordedEvent:
		ev = e
	case *shared.ProgressRecordedEvent:
		ev = *e
	default:
		h.log.Warn("received unexpected event", logger.String("event_type", event.EventType().String()))
		return nil
	}

	if !h.enabled(ev) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	res, err := h.advancer.Handle(ctx, command.AdvanceEnrollmentCommand{
		TenantID: ev.TenantID,
		UserID:   ev.UserID,
		CourseID: ev.CourseID,
	})
	switch {
	case err == nil:
	case shared.IsNotFound(err):
		// learners may record progress on courses they are not enrolled in
		return nil
	case errors.Is(err, shared.ErrCourseNotInCatalog):
		h.log.Warn("course missing from catalog, auto-advance skipped",
			logger.TenantID(ev.TenantID),
			logger.CourseID(ev.CourseID),
		)
		return nil
	case shared.IsInvalidArgument(err):
		h.log.Debug("skipping auto-advance",
			logger.TenantID(ev.TenantID),
			logger.CourseID(ev.CourseID),
			logger.Err(err),
		)
		return nil
	default:
		return err
	}

	if res.Outcome.Changed {
		h.log.Debug("enrollment advanced from ledger write",
			logger.TenantID(ev.TenantID),
			logger.UserID(ev.UserID),
			logger.CourseID(ev.CourseID),
			logger.Transition(res.Outcome.From.String(), res.Outcome.To.String()),
		)
	}
	return nil
}

func (h *OnProgressRecordedHandler) enabled(ev shared.ProgressRecordedEvent) bool {
	if h.flags == nil {
		return true
	}
	fc := &config.FeatureContext{TenantID: ev.TenantID, UserID: ev.UserID}
	return h.flags.IsEnabled(config.FeatureAutoAdvance, fc) && h.flags.IsEnabled(config.FeatureCatalogLookup, fc)
}
