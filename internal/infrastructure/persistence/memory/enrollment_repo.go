package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// EnrollmentRepository implements enrollment.Repository in memory.
type EnrollmentRepository struct {
	mu    sync.RWMutex
	items map[enrollment.Key]*enrollment.Enrollment
}

// NewEnrollmentRepository creates an empty registry.
func NewEnrollmentRepository() *EnrollmentRepository {
	return &EnrollmentRepository{items: make(map[enrollment.Key]*enrollment.Enrollment)}
}

// Create inserts a new enrollment.
func (r *EnrollmentRepository) Create(ctx context.Context, e *enrollment.Enrollment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[e.Key]; ok {
		return shared.ErrEnrollmentAlreadyExists
	}
	r.items[e.Key] = e.Clone()
	return nil
}

// Get returns the enrollment for key.
func (r *EnrollmentRepository) Get(ctx context.Context, key enrollment.Key) (*enrollment.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.items[key]
	if !ok {
		return nil, shared.ErrEnrollmentNotFound
	}
	return e.Clone(), nil
}

// Update writes e when the stored version still equals e.Version.
func (r *EnrollmentRepository) Update(ctx context.Context, e *enrollment.Enrollment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[e.Key]
	if !ok {
		return shared.ErrEnrollmentNotFound
	}
	if stored.Version != e.Version {
		return shared.ErrEnrollmentVersionStale
	}

	next := e.Clone()
	next.ID = stored.ID
	next.CohortID = stored.CohortID
	next.AssignedAt = stored.AssignedAt
	next.Deadline = stored.Deadline
	next.Version = stored.Version + 1
	r.items[e.Key] = next

	e.Version = next.Version
	return nil
}

// ListOverdue returns open enrollments whose deadline is before now, earliest first.
func (r *EnrollmentRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*enrollment.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*enrollment.Enrollment, 0)
	for _, e := range r.items {
		if e.IsOverdue(now) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(*out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
