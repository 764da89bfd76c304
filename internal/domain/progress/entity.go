// Package progress contains the per-module progress ledger domain: the
// ProgressRecord entity, its merge rules and the course-level aggregator.
package progress

import (
	"strings"
	"time"

	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// Status
// ═══════════════════════════════════════════════════════════════════════════

// Status is the completion state of one module for one learner.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return st, nil
	default:
		return "", shared.WrapError("progress", "ParseStatus", shared.ErrInvalidArgument, "unknown status "+s, shared.ErrUnknownStatus)
	}
}

// IsValid reports whether the status is one of the known values.
func (s Status) IsValid() bool {
	return s == StatusNotStarted || s == StatusInProgress || s == StatusCompleted
}

func (s Status) String() string { return string(s) }

// ═══════════════════════════════════════════════════════════════════════════
// Record
// ═══════════════════════════════════════════════════════════════════════════

const (
	MinScore = 0
	MaxScore = 100

	// MaxIdempotencyKeyLen bounds client supplied idempotency tokens.
	MaxIdempotencyKeyLen = 128
)

// Key is the unique identity of a ProgressRecord.
type Key struct {
	TenantID shared.TenantID
	UserID   shared.UserID
	ModuleID shared.ModuleID
}

// String renders the key for logs and event aggregate ids.
func (k Key) String() string {
	return string(k.TenantID) + "/" + string(k.UserID) + "/" + string(k.ModuleID)
}

// Validate checks every identifier of the key.
func (k Key) Validate() error {
	if !k.TenantID.IsValid() {
		return shared.InvalidArgument("progress", "Validate", "malformed tenant id %q", k.TenantID)
	}
	if !k.UserID.IsValid() {
		return shared.InvalidArgument("progress", "Validate", "malformed user id %q", k.UserID)
	}
	if !k.ModuleID.IsValid() {
		return shared.InvalidArgument("progress", "Validate", "malformed module id %q", k.ModuleID)
	}
	return nil
}

// Record is one learner's progress on one module.
//
// Invariants:
//   - CourseID never changes after creation.
//   - TimeSpentSeconds never decreases.
//   - Once Status is completed it stays completed.
//   - CompletedAt is stamped once, on the first transition into completed.
type Record struct {
	Key
	CourseID         shared.CourseID
	Status           Status
	TimeSpentSeconds int64
	Score            *int
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewRecord returns a record with the ledger defaults: in_progress, no time, no score.
func NewRecord(key Key, courseID shared.CourseID, now time.Time) *Record {
	return &Record{
		Key:       key,
		CourseID:  courseID,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsCompleted reports whether the module is completed.
func (r *Record) IsCompleted() bool {
	return r.Status == StatusCompleted
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	if r.Score != nil {
		s := *r.Score
		c.Score = &s
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Apply merges an already validated update into the record.
// The SQL upsert in the postgres repository encodes the same rules.
func (r *Record) Apply(u Update, now time.Time) {
	if u.Status != nil {
		next := *u.Status
		switch {
		case r.Status == StatusCompleted:
			// completed is sticky; regressions from replays are ignored
		case next == StatusCompleted:
			r.Status = StatusCompleted
			if r.CompletedAt == nil {
				t := now
				r.CompletedAt = &t
			}
		default:
			r.Status = next
		}
	}
	if u.TimeSpentDelta != nil {
		r.TimeSpentSeconds += *u.TimeSpentDelta
	}
	if u.Score != nil {
		s := *u.Score
		r.Score = &s
	}
	r.UpdatedAt = now
}

// ═══════════════════════════════════════════════════════════════════════════
// Update
// ═══════════════════════════════════════════════════════════════════════════

// Update is one progress event. Every field is optional.
type Update struct {
	Status         *Status
	TimeSpentDelta *int64
	Score          *int
	// IdempotencyKey deduplicates replays of the same event. Empty disables dedup.
	IdempotencyKey string
}

// Validate rejects negative deltas, out-of-range scores and unknown statuses.
func (u Update) Validate() error {
	if u.Status != nil && !u.Status.IsValid() {
		return shared.ErrUnknownStatus
	}
	if u.TimeSpentDelta != nil && *u.TimeSpentDelta < 0 {
		return shared.ErrNegativeTimeDelta
	}
	if u.Score != nil && (*u.Score < MinScore || *u.Score > MaxScore) {
		return shared.ErrScoreOutOfRange
	}
	if len(u.IdempotencyKey) > MaxIdempotencyKeyLen {
		return shared.InvalidArgument("progress", "Validate", "idempotency key longer than %d", MaxIdempotencyKeyLen)
	}
	return nil
}

// StatusPtr, DeltaPtr and ScorePtr build optional update fields.
func StatusPtr(s Status) *Status { return &s }
func DeltaPtr(d int64) *int64    { return &d }
func ScorePtr(s int) *int        { return &s }

// UpsertResult is what the ledger returns after a write.
type UpsertResult struct {
	Record *Record
	// Created is true when the write inserted a new record.
	Created bool
	// Duplicate is true when the idempotency key had already been applied
	// and the record was returned untouched.
	Duplicate bool
	// BecameCompleted is true when this write moved the module into completed.
	BecameCompleted bool
}
