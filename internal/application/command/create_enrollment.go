package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE ENROLLMENT COMMAND
// Assigns a learner to a course. One enrollment per (tenant, user, course).
// ══════════════════════════════════════════════════════════════════════════════

// CreateEnrollmentCommand contains the data to create an enrollment.
type CreateEnrollmentCommand struct {
	TenantID string
	UserID   string
	CourseID string

	// CohortID is optional.
	CohortID string

	// Deadline is optional and must be in the future.
	Deadline *time.Time
}

func (c CreateEnrollmentCommand) key() (enrollment.Key, error) {
	return parseEnrollmentKey(c.TenantID, c.UserID, c.CourseID)
}

// Validate validates the command.
func (c CreateEnrollmentCommand) Validate() error {
	if _, err := c.key(); err != nil {
		return err
	}
	_, err := shared.NewCohortID(c.CohortID)
	return err
}

// CreateEnrollmentHandler handles the CreateEnrollment command.
type CreateEnrollmentHandler struct {
	repo      enrollment.Repository
	publisher shared.EventPublisher
	log       *logger.Logger
	now       func() time.Time
}

// NewCreateEnrollmentHandler creates a new CreateEnrollmentHandler.
func NewCreateEnrollmentHandler(repo enrollment.Repository, publisher shared.EventPublisher, log *logger.Logger) *CreateEnrollmentHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &CreateEnrollmentHandler{
		repo:      repo,
		publisher: publisher,
		log:       log.With(logger.Component("create_enrollment")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the create enrollment command.
func (h *CreateEnrollmentHandler) Handle(ctx context.Context, cmd CreateEnrollmentCommand) (*enrollment.Enrollment, error) {
	key, err := cmd.key()
	if err != nil {
		return nil, err
	}
	cohort, err := shared.NewCohortID(cmd.CohortID)
	if err != nil {
		return nil, err
	}

	e, err := enrollment.New(key, cohort, cmd.Deadline, h.now())
	if err != nil {
		return nil, err
	}

	if err := h.repo.Create(ctx, e); err != nil {
		if shared.IsAlreadyExists(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create_enrollment: failed to create: %w", err)
	}

	publish(h.publisher, h.log, shared.NewEnrollmentCreatedEvent(
		e.ID,
		string(key.TenantID),
		string(key.UserID),
		string(key.CourseID),
		string(e.CohortID),
	))

	h.log.Info("enrollment created",
		logger.TenantID(string(key.TenantID)),
		logger.UserID(string(key.UserID)),
		logger.CourseID(string(key.CourseID)),
		logger.String("enrollment_id", e.ID),
	)

	return e, nil
}

func parseEnrollmentKey(tenantID, userID, courseID string) (enrollment.Key, error) {
	tenant, err := shared.NewTenantID(tenantID)
	if err != nil {
		return enrollment.Key{}, err
	}
	user, err := shared.NewUserID(userID)
	if err != nil {
		return enrollment.Key{}, err
	}
	course, err := shared.NewCourseID(courseID)
	if err != nil {
		return enrollment.Key{}, err
	}
	return enrollment.Key{TenantID: tenant, UserID: user, CourseID: course}, nil
}
