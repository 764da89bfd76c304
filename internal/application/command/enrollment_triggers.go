package command

import (
	"context"

	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// EnrollmentKeyCommand addresses one enrollment.
type EnrollmentKeyCommand struct {
	TenantID string
	UserID   string
	CourseID string
}

// Validate validates the command.
func (c EnrollmentKeyCommand) Validate() error {
	_, err := parseEnrollmentKey(c.TenantID, c.UserID, c.CourseID)
	return err
}

// fixed returns a trigger builder that always yields t.
func fixed(t enrollment.Trigger) func(context.Context) (enrollment.Trigger, *progress.CourseProgress, error) {
	return func(context.Context) (enrollment.Trigger, *progress.CourseProgress, error) {
		return t, nil, nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// START ENROLLMENT
// ══════════════════════════════════════════════════════════════════════════════

// StartEnrollmentCommand marks the learner as having opened the course.
type StartEnrollmentCommand = EnrollmentKeyCommand

// StartEnrollmentHandler handles the StartEnrollment command.
type StartEnrollmentHandler struct {
	*transitioner
}

// NewStartEnrollmentHandler creates a new StartEnrollmentHandler.
func NewStartEnrollmentHandler(repo enrollment.Repository, publisher shared.EventPublisher, config TransitionConfig) *StartEnrollmentHandler {
	return &StartEnrollmentHandler{transitioner: newTransitioner(repo, publisher, "start_enrollment", config)}
}

// Handle moves an assigned enrollment to in_progress. Other states are left as they are.
func (h *StartEnrollmentHandler) Handle(ctx context.Context, cmd StartEnrollmentCommand) (*TransitionResult, error) {
	key, err := parseEnrollmentKey(cmd.TenantID, cmd.UserID, cmd.CourseID)
	if err != nil {
		return nil, err
	}
	return h.run(ctx, "Start", key, fixed(enrollment.Started{}))
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE ENROLLMENT
// Used by administrators and by the overdue sweep.
// ══════════════════════════════════════════════════════════════════════════════

// ExpireEnrollmentCommand expires an enrollment.
type ExpireEnrollmentCommand = EnrollmentKeyCommand

// ExpireEnrollmentHandler handles the ExpireEnrollment command.
type ExpireEnrollmentHandler struct {
	*transitioner
}

// NewExpireEnrollmentHandler creates a new ExpireEnrollmentHandler.
func NewExpireEnrollmentHandler(repo enrollment.Repository, publisher shared.EventPublisher, config TransitionConfig) *ExpireEnrollmentHandler {
	return &ExpireEnrollmentHandler{transitioner: newTransitioner(repo, publisher, "expire_enrollment", config)}
}

// Handle expires a non-terminal enrollment. Terminal enrollments are left untouched.
func (h *ExpireEnrollmentHandler) Handle(ctx context.Context, cmd ExpireEnrollmentCommand) (*TransitionResult, error) {
	key, err := parseEnrollmentKey(cmd.TenantID, cmd.UserID, cmd.CourseID)
	if err != nil {
		return nil, err
	}
	return h.run(ctx, "Expire", key, fixed(enrollment.DeadlinePassed{}))
}

// ══════════════════════════════════════════════════════════════════════════════
// OVERRIDE ENROLLMENT
// ══════════════════════════════════════════════════════════════════════════════

// OverrideEnrollmentCommand asks for an explicit target status.
type OverrideEnrollmentCommand struct {
	TenantID string
	UserID   string
	CourseID string
	Target   string
}

// Validate validates the command.
func (c OverrideEnrollmentCommand) Validate() error {
	if _, err := parseEnrollmentKey(c.TenantID, c.UserID, c.CourseID); err != nil {
		return err
	}
	_, err := enrollment.ParseStatus(c.Target)
	return err
}

// OverrideEnrollmentHandler handles the OverrideEnrollment command.
type OverrideEnrollmentHandler struct {
	*transitioner
}

// NewOverrideEnrollmentHandler creates a new OverrideEnrollmentHandler.
func NewOverrideEnrollmentHandler(repo enrollment.Repository, publisher shared.EventPublisher, config TransitionConfig) *OverrideEnrollmentHandler {
	return &OverrideEnrollmentHandler{transitioner: newTransitioner(repo, publisher, "override_enrollment", config)}
}

// Handle moves the enrollment along one direct edge of the state machine.
// Asking for the current status is a no-op; any other target fails with
// InvalidTransition.
func (h *OverrideEnrollmentHandler) Handle(ctx context.Context, cmd OverrideEnrollmentCommand) (*TransitionResult, error) {
	key, err := parseEnrollmentKey(cmd.TenantID, cmd.UserID, cmd.CourseID)
	if err != nil {
		return nil, err
	}
	target, err := enrollment.ParseStatus(cmd.Target)
	if err != nil {
		return nil, err
	}
	return h.run(ctx, "Override", key, fixed(enrollment.ManualOverride{Target: target}))
}
