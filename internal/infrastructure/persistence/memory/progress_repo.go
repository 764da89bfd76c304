// Package memory provides in-process implementations of the ledger and
// registry repositories. They follow the same semantics as the postgres
// implementations and back STORAGE_DRIVER=memory and the unit tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
)

type courseKey struct {
	tenant shared.TenantID
	user   shared.UserID
	course shared.CourseID
}

type eventKey struct {
	progress.Key
	token string
}

// ProgressRepository implements progress.Repository in memory.
// One mutex serializes writers, which gives every key linearizable upserts.
type ProgressRepository struct {
	mu       sync.RWMutex
	records  map[progress.Key]*progress.Record
	byCourse map[courseKey]map[shared.ModuleID]struct{}
	applied  map[eventKey]time.Time
	now      func() time.Time
}

// NewProgressRepository creates an empty ledger.
func NewProgressRepository() *ProgressRepository {
	return &ProgressRepository{
		records:  make(map[progress.Key]*progress.Record),
		byCourse: make(map[courseKey]map[shared.ModuleID]struct{}),
		applied:  make(map[eventKey]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (r *ProgressRepository) WithClock(now func() time.Time) *ProgressRepository {
	r.now = now
	return r
}

// Upsert creates or merges the record for key.
func (r *ProgressRepository) Upsert(ctx context.Context, key progress.Key, courseID shared.CourseID, u progress.Update) (*progress.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, exists := r.records[key]

	// checked before dedup so a replay under another course is rejected too
	if exists && rec.CourseID != courseID {
		return nil, shared.WrapError("progress", "Upsert", shared.ErrInvalidArgument,
			"module "+string(key.ModuleID)+" is recorded under course "+string(rec.CourseID), shared.ErrCourseMismatch)
	}

	if u.IdempotencyKey != "" {
		if _, seen := r.applied[eventKey{Key: key, token: u.IdempotencyKey}]; seen && exists {
			return &progress.UpsertResult{Record: rec.Clone(), Duplicate: true}, nil
		}
	}

	res := &progress.UpsertResult{}
	if !exists {
		rec = progress.NewRecord(key, courseID, now)
		r.records[key] = rec
		ck := courseKey{tenant: key.TenantID, user: key.UserID, course: courseID}
		if r.byCourse[ck] == nil {
			r.byCourse[ck] = make(map[shared.ModuleID]struct{})
		}
		r.byCourse[ck][key.ModuleID] = struct{}{}
		res.Created = true
	}

	wasCompleted := rec.IsCompleted()
	rec.Apply(u, now)
	res.BecameCompleted = !wasCompleted && rec.IsCompleted()

	if u.IdempotencyKey != "" {
		r.applied[eventKey{Key: key, token: u.IdempotencyKey}] = now
	}

	res.Record = rec.Clone()
	return res, nil
}

// Get returns the record for key.
func (r *ProgressRepository) Get(ctx context.Context, key progress.Key) (*progress.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[key]
	if !ok {
		return nil, shared.NewDomainError("progress", "Get", shared.ErrNotFound, "progress record not found")
	}
	return rec.Clone(), nil
}

// ListByCourse returns all records of a learner for one course ordered by module id.
func (r *ProgressRepository) ListByCourse(ctx context.Context, tenantID shared.TenantID, userID shared.UserID, courseID shared.CourseID) ([]*progress.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modules := r.byCourse[courseKey{tenant: tenantID, user: userID, course: courseID}]
	out := make([]*progress.Record, 0, len(modules))
	for m := range modules {
		out = append(out, r.records[progress.Key{TenantID: tenantID, UserID: userID, ModuleID: m}].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out, nil
}

// PurgeEventKeys forgets idempotency keys applied before cutoff.
func (r *ProgressRepository) PurgeEventKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, at := range r.applied {
		if at.Before(cutoff) {
			delete(r.applied, k)
			n++
		}
	}
	return n, nil
}
