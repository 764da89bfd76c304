// Package enrollment contains the enrollment registry domain: the
// EnrollmentRecord entity and the state machine that advances it.
//
// State diagram:
//
//	assigned ──► in_progress ──► completed
//	    │              │
//	    └──────┬───────┘
//	           ▼
//	        expired
//
// completed and expired are terminal.
package enrollment

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// Status is the lifecycle state of an enrollment.
type Status string

const (
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
)

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusAssigned, StatusInProgress, StatusCompleted, StatusExpired:
		return st, nil
	default:
		return "", shared.WrapError("enrollment", "ParseStatus", shared.ErrInvalidArgument, "unknown status "+s, shared.ErrUnknownEnrollmentStatus)
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

func (s Status) String() string { return string(s) }

// Key is the unique identity of an enrollment.
type Key struct {
	TenantID shared.TenantID
	UserID   shared.UserID
	CourseID shared.CourseID
}

// String renders the key for logs and event aggregate ids.
func (k Key) String() string {
	return string(k.TenantID) + "/" + string(k.UserID) + "/" + string(k.CourseID)
}

// Validate checks every identifier of the key.
func (k Key) Validate() error {
	if !k.TenantID.IsValid() {
		return shared.InvalidArgument("enrollment", "Validate", "malformed tenant id %q", k.TenantID)
	}
	if !k.UserID.IsValid() {
		return shared.InvalidArgument("enrollment", "Validate", "malformed user id %q", k.UserID)
	}
	if !k.CourseID.IsValid() {
		return shared.InvalidArgument("enrollment", "Validate", "malformed course id %q", k.CourseID)
	}
	return nil
}

// Enrollment is a learner's assignment to a course.
type Enrollment struct {
	ID string
	Key
	CohortID    shared.CohortID
	Status      Status
	ProgressPct int
	AssignedAt  time.Time
	CompletedAt *time.Time
	ExpiredAt   *time.Time
	Deadline    *time.Time
	// Version is bumped on every write and guards compare-and-swap updates.
	Version   int64
	UpdatedAt time.Time
}

// New creates an enrollment in the assigned state.
func New(key Key, cohort shared.CohortID, deadline *time.Time, now time.Time) (*Enrollment, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if deadline != nil && !deadline.After(now) {
		return nil, shared.InvalidArgument("enrollment", "Create", "deadline must be in the future")
	}
	var dl *time.Time
	if deadline != nil {
		d := deadline.UTC()
		dl = &d
	}
	return &Enrollment{
		ID:         uuid.NewString(),
		Key:        key,
		CohortID:   cohort,
		Status:     StatusAssigned,
		AssignedAt: now,
		Deadline:   dl,
		Version:    1,
		UpdatedAt:  now,
	}, nil
}

// Clone returns a deep copy.
func (e *Enrollment) Clone() *Enrollment {
	c := *e
	c.CompletedAt = cloneTime(e.CompletedAt)
	c.ExpiredAt = cloneTime(e.ExpiredAt)
	c.Deadline = cloneTime(e.Deadline)
	return &c
}

// IsOverdue reports whether the deadline has passed for a non-terminal enrollment.
func (e *Enrollment) IsOverdue(now time.Time) bool {
	return !e.Status.IsTerminal() && e.Deadline != nil && now.After(*e.Deadline)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
