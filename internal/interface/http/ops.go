package http

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/alem-hub/course-progress/config"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/internal/infrastructure/scheduler"
	"github.com/alem-hub/course-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONS ADMIN
// Jobs and feature flags are process-local: each process serves the
// scheduler and the flag set it runs with.
// ══════════════════════════════════════════════════════════════════════════════

// JobDTO describes one registered background job.
type JobDTO struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Enabled     bool          `json:"enabled"`
	Schedule    string        `json:"schedule"`
	LastRun     *time.Time    `json:"lastRun,omitempty"`
	NextRun     *time.Time    `json:"nextRun,omitempty"`
	RunCount    int64         `json:"runCount"`
	FailCount   int64         `json:"failCount"`
	LastResult  *JobResultDTO `json:"lastResult,omitempty"`
}

// JobResultDTO is the outcome of one job run.
type JobResultDTO struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	Success    bool      `json:"success"`
	Skipped    bool      `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}

// FeatureDTO describes one feature flag.
type FeatureDTO struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Enabled        bool     `json:"enabled"`
	RolloutPercent int      `json:"rolloutPercent"`
	TargetTenants  []string `json:"targetTenants,omitempty"`
}

type featureUpdateRequest struct {
	Enabled        *bool `json:"enabled,omitempty"`
	RolloutPercent *int  `json:"rolloutPercent,omitempty" validate:"omitempty,min=0,max=100"`
}

type tenantOverrideRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func newJobResultDTO(r *scheduler.JobResult) *JobResultDTO {
	if r == nil {
		return nil
	}
	out := &JobResultDTO{
		Job:        r.JobName,
		StartedAt:  r.StartedAt.UTC(),
		DurationMs: r.Duration.Milliseconds(),
		Success:    r.Success,
		Skipped:    r.Skipped,
	}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return out
}

func newJobDTO(info *scheduler.JobInfo) JobDTO {
	out := JobDTO{
		Name:        info.Name,
		Description: info.Description,
		Enabled:     info.Enabled,
		Schedule:    info.Schedule,
		RunCount:    info.RunCount,
		FailCount:   info.FailCount,
		LastResult:  newJobResultDTO(info.LastResult),
	}
	if !info.LastRun.IsZero() {
		t := info.LastRun.UTC()
		out.LastRun = &t
	}
	if info.Enabled && !info.NextRun.IsZero() {
		t := info.NextRun.UTC()
		out.NextRun = &t
	}
	return out
}

func newFeatureDTO(f *config.Feature) FeatureDTO {
	return FeatureDTO{
		Name:           f.Name,
		Description:    f.Description,
		Enabled:        f.Enabled,
		RolloutPercent: f.RolloutPercent,
		TargetTenants:  f.TargetTenants,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) jobScheduler(w http.ResponseWriter, r *http.Request) (*scheduler.Scheduler, bool) {
	if s.deps.Jobs == nil {
		s.writeError(w, r, shared.NewDomainError("admin", "Jobs", shared.ErrUnavailable, "no scheduler runs in this process"))
		return nil, false
	}
	return s.deps.Jobs, true
}

func jobError(op string, err error) error {
	if errors.Is(err, scheduler.ErrJobNotFound) {
		return shared.WrapError("admin", op, shared.ErrNotFound, "job not found", err)
	}
	return err
}

// handleListJobs handles GET /admin/v1/jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	sched, ok := s.jobScheduler(w, r)
	if !ok {
		return
	}
	infos := sched.ListJobs()
	out := make([]JobDTO, 0, len(infos))
	for _, info := range infos {
		out = append(out, newJobDTO(info))
	}
	writeJSONWithMeta(w, r, http.StatusOK, out, &ResponseMeta{TotalCount: len(out)})
}

// handleJobHistory handles GET /admin/v1/jobs/history?limit=N, oldest first.
func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	sched, ok := s.jobScheduler(w, r)
	if !ok {
		return
	}
	limit, err := optionalIntParam(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n := 50
	if limit != nil {
		n = *limit
	}

	history := sched.GetHistory(n)
	out := make([]*JobResultDTO, 0, len(history))
	for i := range history {
		out = append(out, newJobResultDTO(&history[i]))
	}
	writeJSONWithMeta(w, r, http.StatusOK, out, &ResponseMeta{TotalCount: len(out)})
}

// handleRunJob handles POST /admin/v1/jobs/{name}/run. A failed run is still
// a 200: the failure is part of the reported result.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	sched, ok := s.jobScheduler(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")
	res, err := sched.RunNow(r.Context(), name)
	if res == nil {
		s.writeError(w, r, jobError("RunJob", err))
		return
	}
	logger.FromContext(r.Context()).Info("job run by admin",
		logger.String("job", name),
		logger.Bool("success", res.Success),
	)
	writeJSON(w, r, http.StatusOK, newJobResultDTO(res))
}

// handleSetJobEnabled handles POST /admin/v1/jobs/{name}/enable and /disable.
func (s *Server) handleSetJobEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sched, ok := s.jobScheduler(w, r)
		if !ok {
			return
		}
		name := r.PathValue("name")
		toggle := sched.DisableJob
		if enabled {
			toggle = sched.EnableJob
		}
		if err := toggle(name); err != nil {
			s.writeError(w, r, jobError("SetJobEnabled", err))
			return
		}
		info, err := sched.GetJobInfo(name)
		if err != nil {
			s.writeError(w, r, jobError("SetJobEnabled", err))
			return
		}
		logger.FromContext(r.Context()).Info("job toggled by admin",
			logger.String("job", name),
			logger.Bool("enabled", enabled),
		)
		writeJSON(w, r, http.StatusOK, newJobDTO(info))
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Feature flags
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) features(w http.ResponseWriter, r *http.Request) (*config.FeatureFlags, bool) {
	if s.deps.Features == nil {
		s.writeError(w, r, shared.NewDomainError("admin", "Features", shared.ErrUnavailable, "feature flags are not configured"))
		return nil, false
	}
	return s.deps.Features, true
}

func featureError(op string, err error) error {
	switch {
	case errors.Is(err, config.ErrFeatureNotFound):
		return shared.WrapError("admin", op, shared.ErrNotFound, "feature not found", err)
	case errors.Is(err, config.ErrInvalidRolloutPercent):
		return shared.WrapError("admin", op, shared.ErrInvalidArgument, err.Error(), err)
	default:
		return err
	}
}

// handleListFeatures handles GET /admin/v1/features.
func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	ff, ok := s.features(w, r)
	if !ok {
		return
	}
	all := ff.GetAllFeatures()
	out := make([]FeatureDTO, 0, len(all))
	for _, f := range all {
		out = append(out, newFeatureDTO(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSONWithMeta(w, r, http.StatusOK, out, &ResponseMeta{TotalCount: len(out)})
}

// handleUpdateFeature handles PATCH /admin/v1/features/{name}. A rollout
// percent wins over the enabled switch when both are sent.
func (s *Server) handleUpdateFeature(w http.ResponseWriter, r *http.Request) {
	ff, ok := s.features(w, r)
	if !ok {
		return
	}
	var req featureUpdateRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	name := r.PathValue("name")
	var err error
	switch {
	case req.RolloutPercent != nil:
		err = ff.SetRolloutPercent(name, *req.RolloutPercent)
	case req.Enabled != nil && *req.Enabled:
		err = ff.EnableFeature(name)
	case req.Enabled != nil:
		err = ff.DisableFeature(name)
	default:
		err = shared.InvalidArgument("admin", "UpdateFeature", "enabled or rolloutPercent is required")
	}
	if err != nil {
		s.writeError(w, r, featureError("UpdateFeature", err))
		return
	}

	f := ff.GetAllFeatures()[name]
	logger.FromContext(r.Context()).Info("feature updated by admin",
		logger.String("feature", name),
		logger.Bool("enabled", f.Enabled),
		logger.Int("rollout_percent", f.RolloutPercent),
	)
	writeJSON(w, r, http.StatusOK, newFeatureDTO(f))
}

// handleSetTenantOverride handles PUT /admin/v1/tenants/{tenantId}/features/{name}.
func (s *Server) handleSetTenantOverride(w http.ResponseWriter, r *http.Request) {
	ff, ok := s.features(w, r)
	if !ok {
		return
	}
	var req tenantOverrideRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	tenant, err := shared.NewTenantID(r.PathValue("tenantId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := r.PathValue("name")
	if _, known := ff.GetAllFeatures()[name]; !known {
		s.writeError(w, r, featureError("SetTenantOverride", config.ErrFeatureNotFound))
		return
	}

	ff.SetTenantOverride(string(tenant), name, *req.Enabled)
	logger.FromContext(r.Context()).Info("tenant feature override set",
		logger.TenantID(string(tenant)),
		logger.String("feature", name),
		logger.Bool("enabled", *req.Enabled),
	)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"tenantId": tenant,
		"feature":  name,
		"enabled":  *req.Enabled,
	})
}

// handleClearTenantOverrides handles DELETE /admin/v1/tenants/{tenantId}/features.
func (s *Server) handleClearTenantOverrides(w http.ResponseWriter, r *http.Request) {
	ff, ok := s.features(w, r)
	if !ok {
		return
	}
	tenant, err := shared.NewTenantID(r.PathValue("tenantId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ff.ClearTenantOverrides(string(tenant))
	w.WriteHeader(http.StatusNoContent)
}
