// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPUTE COURSE PROGRESS QUERY
// Rolls a learner's module records up into a course percentage. Reads never
// wait on writers: the ledger is read once and aggregated in memory.
// ══════════════════════════════════════════════════════════════════════════════

// ComputeCourseProgressQuery contains the parameters of the query.
type ComputeCourseProgressQuery struct {
	TenantID string
	UserID   string
	CourseID string

	// TotalModules is the module count of the course. When nil the catalog is asked.
	TotalModules *int
}

// Validate validates the query.
func (q ComputeCourseProgressQuery) Validate() error {
	if _, _, _, err := parseLearnerCourse(q.TenantID, q.UserID, q.CourseID); err != nil {
		return err
	}
	if q.TotalModules != nil && *q.TotalModules < 0 {
		return shared.ErrNegativeModules
	}
	return nil
}

// CourseProgressDTO is the course-level roll-up.
type CourseProgressDTO struct {
	CourseID       string `json:"courseId"`
	ProgressPct    int    `json:"progressPct"`
	CompletedCount int    `json:"completedCount"`
	TotalModules   int    `json:"totalModules"`
	Started        bool   `json:"started"`
}

// ComputeCourseProgressHandler handles the ComputeCourseProgress query.
type ComputeCourseProgressHandler struct {
	ledger  progress.CourseProgressReader
	catalog progress.ModuleCatalog
}

// NewComputeCourseProgressHandler creates a new handler. catalog may be nil,
// in which case TotalModules is required.
func NewComputeCourseProgressHandler(ledger progress.CourseProgressReader, catalog progress.ModuleCatalog) *ComputeCourseProgressHandler {
	return &ComputeCourseProgressHandler{ledger: ledger, catalog: catalog}
}

// Handle executes the query.
func (h *ComputeCourseProgressHandler) Handle(ctx context.Context, q ComputeCourseProgressQuery) (*CourseProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	tenant, user, course, _ := parseLearnerCourse(q.TenantID, q.UserID, q.CourseID)

	total := 0
	switch {
	case q.TotalModules != nil:
		total = *q.TotalModules
	case h.catalog != nil:
		n, err := h.catalog.ModuleCount(ctx, tenant, course)
		if err != nil {
			return nil, err
		}
		total = n
	default:
		return nil, shared.InvalidArgument("progress", "Compute", "total modules is required")
	}

	records, err := h.ledger.ListByCourse(ctx, tenant, user, course)
	if err != nil {
		return nil, fmt.Errorf("compute_course_progress: failed to read ledger: %w", err)
	}

	agg, err := progress.Aggregate(records, total)
	if err != nil {
		return nil, err
	}

	return &CourseProgressDTO{
		CourseID:       string(course),
		ProgressPct:    agg.ProgressPct,
		CompletedCount: agg.CompletedCount,
		TotalModules:   agg.TotalModules,
		Started:        progress.Started(records),
	}, nil
}

func parseLearnerCourse(tenantID, userID, courseID string) (shared.TenantID, shared.UserID, shared.CourseID, error) {
	tenant, err := shared.NewTenantID(tenantID)
	if err != nil {
		return "", "", "", err
	}
	user, err := shared.NewUserID(userID)
	if err != nil {
		return "", "", "", err
	}
	course, err := shared.NewCourseID(courseID)
	if err != nil {
		return "", "", "", err
	}
	return tenant, user, course, nil
}
