package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-progress/config"
	"github.com/alem-hub/course-progress/internal/application/command"
	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/course-progress/internal/infrastructure/scheduler"
	"github.com/alem-hub/course-progress/pkg/logger"
)

func seedEnrollment(t *testing.T, repo *memory.EnrollmentRepository, course string, assignedAt time.Time, deadline time.Duration) {
	t.Helper()
	dl := assignedAt.Add(deadline)
	e, err := enrollment.New(enrollment.Key{TenantID: "t1", UserID: "u1", CourseID: shared.CourseID(course)}, "", &dl, assignedAt)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), e))
}

func newExpireJob(repo *memory.EnrollmentRepository, lease Lease, flags *config.FeatureFlags, batch int) *ExpireOverdueEnrollmentsJob {
	expirer := command.NewExpireEnrollmentHandler(repo, nil, command.TransitionConfig{Logger: logger.Nop()})
	return NewExpireOverdueEnrollmentsJob(repo, expirer, lease, flags, logger.Nop(), ExpireOverdueConfig{BatchSize: batch})
}

func TestExpireOverdue_ExpiresOnlyPastDeadline(t *testing.T) {
	repo := memory.NewEnrollmentRepository()
	past := time.Now().Add(-48 * time.Hour)
	seedEnrollment(t, repo, "c1", past, time.Hour)
	seedEnrollment(t, repo, "c2", past, time.Hour)
	seedEnrollment(t, repo, "c3", past, 30*24*time.Hour)
	seedEnrollment(t, repo, "c4", past, time.Hour)

	job := newExpireJob(repo, nil, nil, 2)
	require.NoError(t, job.Run(context.Background()))

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Expired)
	assert.Zero(t, stats.Failed)

	for course, want := range map[string]enrollment.Status{
		"c1": enrollment.StatusExpired,
		"c2": enrollment.StatusExpired,
		"c3": enrollment.StatusAssigned,
		"c4": enrollment.StatusExpired,
	} {
		e, err := repo.Get(context.Background(), enrollment.Key{TenantID: "t1", UserID: "u1", CourseID: shared.CourseID(course)})
		require.NoError(t, err)
		assert.Equal(t, want, e.Status, course)
	}

	// nothing left on the second run
	require.NoError(t, job.Run(context.Background()))
	assert.Zero(t, job.LastStats().Scanned)
}

type fakeLease struct {
	held bool
	err  error
	keys []string
}

func (l *fakeLease) SetNX(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func TestExpireOverdue_Lease(t *testing.T) {
	repo := memory.NewEnrollmentRepository()
	seedEnrollment(t, repo, "c1", time.Now().Add(-48*time.Hour), time.Hour)
	lease := &fakeLease{}

	first := newExpireJob(repo, lease, nil, 10)
	second := newExpireJob(repo, lease, nil, 10)

	require.NoError(t, first.Run(context.Background()))
	assert.ErrorIs(t, second.Run(context.Background()), scheduler.ErrSkipped)
	assert.Equal(t, []string{"lock:expire_overdue_enrollments", "lock:expire_overdue_enrollments"}, lease.keys)

	broken := newExpireJob(repo, &fakeLease{err: errors.New("redis down")}, nil, 10)
	err := broken.Run(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, scheduler.ErrSkipped)
}

func TestExpireOverdue_FeatureFlagSkips(t *testing.T) {
	repo := memory.NewEnrollmentRepository()
	seedEnrollment(t, repo, "c1", time.Now().Add(-48*time.Hour), time.Hour)
	flags := config.LoadFeatureFlags()
	require.NoError(t, flags.DisableFeature(config.FeatureExpiryJob))

	job := newExpireJob(repo, nil, flags, 10)
	assert.ErrorIs(t, job.Run(context.Background()), scheduler.ErrSkipped)

	e, err := repo.Get(context.Background(), enrollment.Key{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusAssigned, e.Status)
}

type fakePurger struct {
	cutoff time.Time
	err    error
}

func (p *fakePurger) PurgeEventKeys(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return 3, p.err
}

func TestPurgeIdempotencyKeys(t *testing.T) {
	p := &fakePurger{}
	job := NewPurgeIdempotencyKeysJob(p, 24*time.Hour, logger.Nop())
	fixed := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, fixed.Add(-24*time.Hour), p.cutoff)
	assert.Equal(t, "purge_idempotency_keys", job.Name())

	p.err = errors.New("db down")
	assert.Error(t, job.Run(context.Background()))
}
