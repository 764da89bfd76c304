package http

import (
	"net/http"
	"time"

	"github.com/alem-hub/course-progress/internal/application/command"
	"github.com/alem-hub/course-progress/internal/application/query"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE TYPES
// ══════════════════════════════════════════════════════════════════════════════

type recordProgressRequest struct {
	CourseID              string `json:"courseId" validate:"required,max=128"`
	ModuleID              string `json:"moduleId" validate:"required,max=128"`
	Status                string `json:"status,omitempty" validate:"omitempty,oneof=not_started in_progress completed"`
	TimeSpentSecondsDelta *int64 `json:"timeSpentSecondsDelta,omitempty" validate:"omitempty,min=0"`
	Score                 *int   `json:"score,omitempty" validate:"omitempty,min=0,max=100"`
	IdempotencyKey        string `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
}

type createEnrollmentRequest struct {
	CourseID string     `json:"courseId" validate:"required,max=128"`
	CohortID string     `json:"cohortId,omitempty" validate:"omitempty,max=128"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

type overrideRequest struct {
	Status string `json:"status" validate:"required,oneof=assigned in_progress completed expired"`
}

// TransitionResponse is returned by every enrollment trigger endpoint.
type TransitionResponse struct {
	Enrollment *query.EnrollmentDTO `json:"enrollment"`
	Changed    bool                 `json:"changed"`
	From       string               `json:"from"`
	To         string               `json:"to"`
	Trigger    string               `json:"trigger"`
	Progress   *ProgressSummary     `json:"progress,omitempty"`
}

// ProgressSummary is the aggregate an advance was computed from.
type ProgressSummary struct {
	ProgressPct    int `json:"progressPct"`
	CompletedCount int `json:"completedCount"`
	TotalModules   int `json:"totalModules"`
}

func newTransitionResponse(res *command.TransitionResult) TransitionResponse {
	out := TransitionResponse{
		Enrollment: query.NewEnrollmentDTO(res.Enrollment),
		Changed:    res.Outcome.Changed,
		From:       res.Outcome.From.String(),
		To:         res.Outcome.To.String(),
		Trigger:    string(res.Outcome.Trigger),
	}
	if p := res.Progress; p != nil {
		out.Progress = &ProgressSummary{
			ProgressPct:    p.ProgressPct,
			CompletedCount: p.CompletedCount,
			TotalModules:   p.TotalModules,
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot returns API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "course-progress",
		"version": s.config.Version,
		"uptime":  s.Uptime().Round(time.Second).String(),
	})
}

// handleLive answers as long as the process serves requests.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReady runs the dependency checks.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, handlers.HealthStatus{Ready: true, Timestamp: time.Now().UTC(), Version: s.config.Version})
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// identity returns the caller resolved by the identity middleware.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	id, ok := handlers.IdentityFromContext(r.Context())
	if !ok {
		s.writeError(w, r, shared.ErrMissingIdentity)
	}
	return id, ok
}

// handleRecordProgress handles POST /api/v1/progress.
func (s *Server) handleRecordProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req recordProgressRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.RecordProgress.Handle(r.Context(), command.RecordProgressCommand{
		TenantID:       string(id.TenantID),
		UserID:         string(id.UserID),
		CourseID:       req.CourseID,
		ModuleID:       req.ModuleID,
		Status:         req.Status,
		TimeSpentDelta: req.TimeSpentSecondsDelta,
		Score:          req.Score,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	if res.Duplicate {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeJSON(w, r, status, query.NewProgressRecordDTO(res.Record))
}

// handleCourseProgress handles GET /api/v1/courses/{courseId}/progress.
func (s *Server) handleCourseProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	total, err := optionalIntParam(r, "total_modules")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	dto, err := s.deps.ComputeCourseProgress.Handle(r.Context(), query.ComputeCourseProgressQuery{
		TenantID:     string(id.TenantID),
		UserID:       string(id.UserID),
		CourseID:     r.PathValue("courseId"),
		TotalModules: total,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// handleListModules handles GET /api/v1/courses/{courseId}/modules.
func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	records, err := s.deps.ListCourseProgress.Handle(r.Context(), query.ListCourseProgressQuery{
		TenantID: string(id.TenantID),
		UserID:   string(id.UserID),
		CourseID: r.PathValue("courseId"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, records, &ResponseMeta{TotalCount: len(records)})
}

// handleCreateEnrollment handles POST /api/v1/enrollments.
func (s *Server) handleCreateEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req createEnrollmentRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	e, err := s.deps.CreateEnrollment.Handle(r.Context(), command.CreateEnrollmentCommand{
		TenantID: string(id.TenantID),
		UserID:   string(id.UserID),
		CourseID: req.CourseID,
		CohortID: req.CohortID,
		Deadline: req.Deadline,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.NewEnrollmentDTO(e))
}

// handleGetEnrollment handles GET /api/v1/enrollments/{courseId}.
func (s *Server) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	dto, err := s.deps.GetEnrollment.Handle(r.Context(), query.GetEnrollmentQuery{
		TenantID: string(id.TenantID),
		UserID:   string(id.UserID),
		CourseID: r.PathValue("courseId"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// handleAdvanceEnrollment handles POST /api/v1/enrollments/{courseId}/advance.
func (s *Server) handleAdvanceEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	total, err := optionalIntParam(r, "total_modules")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.AdvanceEnrollment.Handle(r.Context(), command.AdvanceEnrollmentCommand{
		TenantID:     string(id.TenantID),
		UserID:       string(id.UserID),
		CourseID:     r.PathValue("courseId"),
		TotalModules: total,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newTransitionResponse(res))
}

// handleStartEnrollment handles POST /api/v1/enrollments/{courseId}/start.
func (s *Server) handleStartEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	res, err := s.deps.StartEnrollment.Handle(r.Context(), command.StartEnrollmentCommand{
		TenantID: string(id.TenantID),
		UserID:   string(id.UserID),
		CourseID: r.PathValue("courseId"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newTransitionResponse(res))
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleAdminExpire expires one enrollment.
func (s *Server) handleAdminExpire(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.ExpireEnrollment.Handle(r.Context(), command.ExpireEnrollmentCommand{
		TenantID: r.PathValue("tenantId"),
		UserID:   r.PathValue("userId"),
		CourseID: r.PathValue("courseId"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newTransitionResponse(res))
}

// handleAdminOverride moves one enrollment to an explicit status.
func (s *Server) handleAdminOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.OverrideEnrollment.Handle(r.Context(), command.OverrideEnrollmentCommand{
		TenantID: r.PathValue("tenantId"),
		UserID:   r.PathValue("userId"),
		CourseID: r.PathValue("courseId"),
		Target:   req.Status,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newTransitionResponse(res))
}
