package command

import (
	"context"

	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADVANCE ENROLLMENT COMMAND
// Recomputes course progress from the ledger and feeds it to the enrollment
// state machine.
// ══════════════════════════════════════════════════════════════════════════════

// AdvanceEnrollmentCommand contains the data to advance an enrollment.
type AdvanceEnrollmentCommand struct {
	TenantID string
	UserID   string
	CourseID string

	// TotalModules is the module count of the course. When nil the catalog is asked.
	TotalModules *int
}

// Validate validates the command.
func (c AdvanceEnrollmentCommand) Validate() error {
	if _, err := parseEnrollmentKey(c.TenantID, c.UserID, c.CourseID); err != nil {
		return err
	}
	if c.TotalModules != nil && *c.TotalModules < 0 {
		return shared.ErrNegativeModules
	}
	return nil
}

// AdvanceEnrollmentHandler handles the AdvanceEnrollment command.
type AdvanceEnrollmentHandler struct {
	*transitioner
	ledger  progress.CourseProgressReader
	catalog progress.ModuleCatalog
}

// NewAdvanceEnrollmentHandler creates a new AdvanceEnrollmentHandler.
// catalog may be nil, in which case TotalModules is required.
func NewAdvanceEnrollmentHandler(
	repo enrollment.Repository,
	ledger progress.CourseProgressReader,
	catalog progress.ModuleCatalog,
	publisher shared.EventPublisher,
	config TransitionConfig,
) *AdvanceEnrollmentHandler {
	return &AdvanceEnrollmentHandler{
		transitioner: newTransitioner(repo, publisher, "advance_enrollment", config),
		ledger:       ledger,
		catalog:      catalog,
	}
}

// Handle executes the advance enrollment command.
func (h *AdvanceEnrollmentHandler) Handle(ctx context.Context, cmd AdvanceEnrollmentCommand) (*TransitionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	key, _ := parseEnrollmentKey(cmd.TenantID, cmd.UserID, cmd.CourseID)

	total, err := h.totalModules(ctx, key, cmd.TotalModules)
	if err != nil {
		return nil, err
	}

	return h.run(ctx, "Advance", key, func(ctx context.Context) (enrollment.Trigger, *progress.CourseProgress, error) {
		records, err := h.ledger.ListByCourse(ctx, key.TenantID, key.UserID, key.CourseID)
		if err != nil {
			return nil, nil, err
		}
		agg, err := progress.Aggregate(records, total)
		if err != nil {
			return nil, nil, err
		}
		return enrollment.ProgressUpdated{Pct: agg.ProgressPct, Started: progress.Started(records)}, &agg, nil
	})
}

func (h *AdvanceEnrollmentHandler) totalModules(ctx context.Context, key enrollment.Key, given *int) (int, error) {
	if given != nil {
		return *given, nil
	}
	if h.catalog == nil {
		return 0, shared.InvalidArgument("enrollment", "Advance", "total modules is required")
	}
	return h.catalog.ModuleCount(ctx, key.TenantID, key.CourseID)
}
