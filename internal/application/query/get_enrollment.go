package query

import (
	"context"
	"time"

	"github.com/alem-hub/course-progress/internal/domain/enrollment"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ENROLLMENT QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetEnrollmentQuery addresses one enrollment.
type GetEnrollmentQuery struct {
	TenantID string
	UserID   string
	CourseID string
}

// EnrollmentDTO is the wire view of an enrollment.
type EnrollmentDTO struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	UserID      string     `json:"userId"`
	CourseID    string     `json:"courseId"`
	CohortID    string     `json:"cohortId,omitempty"`
	Status      string     `json:"status"`
	ProgressPct int        `json:"progressPct"`
	AssignedAt  time.Time  `json:"assignedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ExpiredAt   *time.Time `json:"expiredAt,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Version     int64      `json:"version"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewEnrollmentDTO converts an enrollment into its wire view.
func NewEnrollmentDTO(e *enrollment.Enrollment) *EnrollmentDTO {
	return &EnrollmentDTO{
		ID:          e.ID,
		TenantID:    string(e.TenantID),
		UserID:      string(e.UserID),
		CourseID:    string(e.CourseID),
		CohortID:    string(e.CohortID),
		Status:      e.Status.String(),
		ProgressPct: e.ProgressPct,
		AssignedAt:  e.AssignedAt,
		CompletedAt: e.CompletedAt,
		ExpiredAt:   e.ExpiredAt,
		Deadline:    e.Deadline,
		Version:     e.Version,
		UpdatedAt:   e.UpdatedAt,
	}
}

// GetEnrollmentHandler handles the GetEnrollment query.
type GetEnrollmentHandler struct {
	repo enrollment.Repository
}

// NewGetEnrollmentHandler creates a new GetEnrollmentHandler.
func NewGetEnrollmentHandler(repo enrollment.Repository) *GetEnrollmentHandler {
	return &GetEnrollmentHandler{repo: repo}
}

// Handle returns the enrollment or a NotFound error.
func (h *GetEnrollmentHandler) Handle(ctx context.Context, q GetEnrollmentQuery) (*EnrollmentDTO, error) {
	tenant, user, course, err := parseLearnerCourse(q.TenantID, q.UserID, q.CourseID)
	if err != nil {
		return nil, err
	}
	e, err := h.repo.Get(ctx, enrollment.Key{TenantID: tenant, UserID: user, CourseID: course})
	if err != nil {
		return nil, err
	}
	return NewEnrollmentDTO(e), nil
}
