package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
)

func TestErrorHelpers(t *testing.T) {
	wrapped := func(code string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code})
	}

	assert.True(t, IsUniqueViolation(wrapped("23505")))
	assert.False(t, IsUniqueViolation(wrapped("23514")))
	assert.True(t, IsCheckViolation(wrapped("23514")))
	assert.True(t, IsSerializationFailure(wrapped("40001")))
	assert.True(t, IsSerializationFailure(wrapped("40P01")))
	assert.False(t, IsSerializationFailure(wrapped("23505")))
	assert.True(t, IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)))
	assert.False(t, IsNoRows(nil))
	assert.False(t, IsUniqueViolation(fmt.Errorf("plain")))
}

func TestPoolConfig(t *testing.T) {
	cfg := DefaultConfig("postgres://u:p@localhost:5432/db?sslmode=disable")
	cfg.MaxConns = 7

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)

	_, err = Config{URL: "postgres://%zz"}.PoolConfig()
	assert.Error(t, err)
}

func TestGetMigrations_Ordered(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRATION (TEST_DATABASE_URL)
// ══════════════════════════════════════════════════════════════════════════════

var (
	dbOnce sync.Once
	dbConn *Connection
	dbErr  error
)

func testConnection(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	dbOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		dbConn, dbErr = NewConnection(ctx, DefaultConfig(url))
		if dbErr != nil {
			return
		}
		_, dbErr = NewMigrator(dbConn).Migrate(ctx)
	})
	require.NoError(t, dbErr)
	return dbConn
}

// uniqueTenant keeps tests independent without truncating shared tables.
func uniqueTenant() shared.TenantID {
	return shared.TenantID("t-" + uuid.NewString())
}

func TestIntegration_ProgressUpsert(t *testing.T) {
	conn := testConnection(t)
	repo := NewProgressRepository(conn)
	ctx := context.Background()
	key := progress.Key{TenantID: uniqueTenant(), UserID: "u1", ModuleID: "m1"}

	res, err := repo.Upsert(ctx, key, "c1", progress.Update{TimeSpentDelta: progress.DeltaPtr(30), IdempotencyKey: "evt-1"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Duplicate)
	assert.Equal(t, progress.StatusInProgress, res.Record.Status)

	res, err = repo.Upsert(ctx, key, "c1", progress.Update{TimeSpentDelta: progress.DeltaPtr(30), IdempotencyKey: "evt-1"})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(30), res.Record.TimeSpentSeconds)

	res, err = repo.Upsert(ctx, key, "c1", progress.Update{
		Status:         progress.StatusPtr(progress.StatusCompleted),
		Score:          progress.ScorePtr(90),
		TimeSpentDelta: progress.DeltaPtr(10),
	})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.BecameCompleted)
	assert.Equal(t, int64(40), res.Record.TimeSpentSeconds)
	require.NotNil(t, res.Record.CompletedAt)

	// completed never regresses
	res, err = repo.Upsert(ctx, key, "c1", progress.Update{Status: progress.StatusPtr(progress.StatusInProgress)})
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, res.Record.Status)
	assert.False(t, res.BecameCompleted)
	require.NotNil(t, res.Record.Score)
	assert.Equal(t, 90, *res.Record.Score)
}

func TestIntegration_ProgressConcurrentDeltas(t *testing.T) {
	conn := testConnection(t)
	repo := NewProgressRepository(conn)
	ctx := context.Background()
	key := progress.Key{TenantID: uniqueTenant(), UserID: "u1", ModuleID: "m1"}

	// create the row first so concurrent writers only contend on the update path
	_, err := repo.Upsert(ctx, key, "c1", progress.Update{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Upsert(ctx, key, "c1", progress.Update{TimeSpentDelta: progress.DeltaPtr(5)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.TimeSpentSeconds)
}

func TestIntegration_ProgressCourseMismatch(t *testing.T) {
	conn := testConnection(t)
	repo := NewProgressRepository(conn)
	ctx := context.Background()
	key := progress.Key{TenantID: uniqueTenant(), UserID: "u1", ModuleID: "m1"}

	_, err := repo.Upsert(ctx, key, "c1", progress.Update{})
	require.NoError(t, err)

	_, err = repo.Upsert(ctx, key, "c2", progress.Update{IdempotencyKey: "k"})
	assert.True(t, shared.IsInvalidArgument(err))

	res, err := repo.Upsert(ctx, key, "c1", progress.Update{IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	// a replay of an applied key under another course is still a mismatch
	_, err = repo.Upsert(ctx, key, "c2", progress.Update{IdempotencyKey: "k"})
	assert.ErrorIs(t, err, shared.ErrCourseMismatch)
}

func TestIntegration_ProgressListAndPurge(t *testing.T) {
	conn := testConnection(t)
	repo := NewProgressRepository(conn)
	ctx := context.Background()
	tenant := uniqueTenant()

	for _, m := range []shared.ModuleID{"m2", "m1"} {
		_, err := repo.Upsert(ctx, progress.Key{TenantID: tenant, UserID: "u1", ModuleID: m}, "c1", progress.Update{IdempotencyKey: "k-" + string(m)})
		require.NoError(t, err)
	}

	list, err := repo.ListByCourse(ctx, tenant, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, shared.ModuleID("m1"), list[0].ModuleID)

	_, err = repo.Get(ctx, progress.Key{TenantID: tenant, UserID: "u1", ModuleID: "missing"})
	assert.True(t, shared.IsNotFound(err))

	n, err := repo.PurgeEventKeys(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))
}

func TestIntegration_EnrollmentLifecycle(t *testing.T) {
	conn := testConnection(t)
	repo := NewEnrollmentRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	deadline := now.Add(-time.Minute)

	key := enrollment.Key{TenantID: uniqueTenant(), UserID: "u1", CourseID: "c1"}
	e, err := enrollment.New(key, "cohort-a", &deadline, now.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, e))

	err = repo.Create(ctx, e)
	assert.True(t, shared.IsAlreadyExists(err))

	a, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, e.ID, a.ID)
	assert.Equal(t, shared.CohortID("cohort-a"), a.CohortID)
	b, err := repo.Get(ctx, key)
	require.NoError(t, err)

	a.Status = enrollment.StatusInProgress
	a.UpdatedAt = now
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, e.Version+1, a.Version)

	b.Status = enrollment.StatusExpired
	err = repo.Update(ctx, b)
	assert.True(t, shared.IsConflict(err))

	overdue, err := repo.ListOverdue(ctx, now, 1000)
	require.NoError(t, err)
	found := false
	for _, o := range overdue {
		if o.Key == key {
			found = true
		}
	}
	assert.True(t, found)

	_, err = repo.Get(ctx, enrollment.Key{TenantID: key.TenantID, UserID: "u1", CourseID: "missing"})
	assert.True(t, shared.IsNotFound(err))
}
