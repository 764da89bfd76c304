package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/course-progress/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST COURSE PROGRESS QUERY
// Lists a learner's module records for one course, ordered by module id.
// ══════════════════════════════════════════════════════════════════════════════

// ListCourseProgressQuery contains the parameters of the query.
type ListCourseProgressQuery struct {
	TenantID string
	UserID   string
	CourseID string
}

// ProgressRecordDTO is the wire view of a ledger record.
type ProgressRecordDTO struct {
	TenantID         string     `json:"tenantId"`
	UserID           string     `json:"userId"`
	CourseID         string     `json:"courseId"`
	ModuleID         string     `json:"moduleId"`
	Status           string     `json:"status"`
	TimeSpentSeconds int64      `json:"timeSpentSeconds"`
	Score            *int       `json:"score,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// NewProgressRecordDTO converts a ledger record into its wire view.
func NewProgressRecordDTO(r *progress.Record) *ProgressRecordDTO {
	return &ProgressRecordDTO{
		TenantID:         string(r.TenantID),
		UserID:           string(r.UserID),
		CourseID:         string(r.CourseID),
		ModuleID:         string(r.ModuleID),
		Status:           r.Status.String(),
		TimeSpentSeconds: r.TimeSpentSeconds,
		Score:            r.Score,
		CompletedAt:      r.CompletedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// ListCourseProgressHandler handles the ListCourseProgress query.
type ListCourseProgressHandler struct {
	ledger progress.CourseProgressReader
}

// NewListCourseProgressHandler creates a new ListCourseProgressHandler.
func NewListCourseProgressHandler(ledger progress.CourseProgressReader) *ListCourseProgressHandler {
	return &ListCourseProgressHandler{ledger: ledger}
}

// Handle executes the query. A course without records yields an empty list.
func (h *ListCourseProgressHandler) Handle(ctx context.Context, q ListCourseProgressQuery) ([]*ProgressRecordDTO, error) {
	tenant, user, course, err := parseLearnerCourse(q.TenantID, q.UserID, q.CourseID)
	if err != nil {
		return nil, err
	}

	records, err := h.ledger.ListByCourse(ctx, tenant, user, course)
	if err != nil {
		return nil, fmt.Errorf("list_course_progress: failed to read ledger: %w", err)
	}

	out := make([]*ProgressRecordDTO, 0, len(records))
	for _, r := range records {
		out = append(out, NewProgressRecordDTO(r))
	}
	return out, nil
}
