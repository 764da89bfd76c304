package enrollment

import (
	"context"
	"time"
)

// Repository is the durable enrollment registry.
type Repository interface {
	// Create inserts a new enrollment. A second enrollment for the same key
	// fails with AlreadyExists and leaves the first untouched.
	Create(ctx context.Context, e *Enrollment) error

	// Get returns the enrollment for key or a NotFound error.
	Get(ctx context.Context, key Key) (*Enrollment, error)

	// Update writes e if the stored version still equals e.Version and bumps
	// e.Version on success. A version mismatch fails with Conflict.
	Update(ctx context.Context, e *Enrollment) error

	// ListOverdue returns up to limit non-terminal enrollments whose deadline is before now.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Enrollment, error)
}
