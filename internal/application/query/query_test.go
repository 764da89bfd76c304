package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/internal/infrastructure/external/catalog"
	"github.com/alem-hub/course-progress/internal/infrastructure/persistence/memory"
)

func seed(t *testing.T, ledger *memory.ProgressRepository, course, module string, st progress.Status) {
	t.Helper()
	_, err := ledger.Upsert(context.Background(),
		progress.Key{TenantID: "t1", UserID: "u1", ModuleID: shared.ModuleID(module)},
		shared.CourseID(course),
		progress.Update{Status: progress.StatusPtr(st)},
	)
	require.NoError(t, err)
}

func intPtr(v int) *int { return &v }

func TestComputeCourseProgress(t *testing.T) {
	ledger := memory.NewProgressRepository()
	h := NewComputeCourseProgressHandler(ledger, nil)
	ctx := context.Background()
	q := ComputeCourseProgressQuery{TenantID: "t1", UserID: "u1", CourseID: "c1", TotalModules: intPtr(2)}

	seed(t, ledger, "c1", "m1", progress.StatusCompleted)
	got, err := h.Handle(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 50, got.ProgressPct)
	assert.Equal(t, 1, got.CompletedCount)
	assert.True(t, got.Started)

	again, err := h.Handle(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	seed(t, ledger, "c1", "m2", progress.StatusCompleted)
	got, err = h.Handle(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 100, got.ProgressPct)
	assert.Equal(t, 2, got.CompletedCount)
}

func TestComputeCourseProgress_ZeroAndNegativeTotals(t *testing.T) {
	ledger := memory.NewProgressRepository()
	h := NewComputeCourseProgressHandler(ledger, nil)
	ctx := context.Background()
	seed(t, ledger, "c1", "m1", progress.StatusCompleted)

	got, err := h.Handle(ctx, ComputeCourseProgressQuery{TenantID: "t1", UserID: "u1", CourseID: "c1", TotalModules: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, got.ProgressPct)

	_, err = h.Handle(ctx, ComputeCourseProgressQuery{TenantID: "t1", UserID: "u1", CourseID: "c1", TotalModules: intPtr(-1)})
	assert.True(t, shared.IsInvalidArgument(err))

	_, err = h.Handle(ctx, ComputeCourseProgressQuery{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	assert.True(t, shared.IsInvalidArgument(err), "no catalog configured")
}

func TestComputeCourseProgress_FromCatalog(t *testing.T) {
	ledger := memory.NewProgressRepository()
	cat := catalog.NewStaticCatalog(map[shared.CourseID]int{"c1": 3})
	h := NewComputeCourseProgressHandler(ledger, cat)
	ctx := context.Background()
	seed(t, ledger, "c1", "m1", progress.StatusCompleted)
	seed(t, ledger, "c1", "m2", progress.StatusCompleted)

	got, err := h.Handle(ctx, ComputeCourseProgressQuery{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 67, got.ProgressPct)
	assert.Equal(t, 3, got.TotalModules)

	_, err = h.Handle(ctx, ComputeCourseProgressQuery{TenantID: "t1", UserID: "u1", CourseID: "unknown"})
	assert.True(t, shared.IsNotFound(err))
}

func TestGetEnrollment(t *testing.T) {
	repo := memory.NewEnrollmentRepository()
	h := NewGetEnrollmentHandler(repo)
	ctx := context.Background()

	_, err := h.Handle(ctx, GetEnrollmentQuery{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(ctx, GetEnrollmentQuery{TenantID: "t1", UserID: "", CourseID: "c1"})
	assert.True(t, shared.IsInvalidArgument(err))

	e, err := enrollment.New(enrollment.Key{TenantID: "t1", UserID: "u1", CourseID: "c1"}, "spring", nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, e))

	got, err := h.Handle(ctx, GetEnrollmentQuery{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "assigned", got.Status)
	assert.Equal(t, "spring", got.CohortID)
}

func TestListCourseProgress(t *testing.T) {
	ledger := memory.NewProgressRepository()
	h := NewListCourseProgressHandler(ledger)
	ctx := context.Background()

	empty, err := h.Handle(ctx, ListCourseProgressQuery{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, empty)

	seed(t, ledger, "c1", "m2", progress.StatusInProgress)
	seed(t, ledger, "c1", "m1", progress.StatusCompleted)
	seed(t, ledger, "c2", "m9", progress.StatusCompleted)

	got, err := h.Handle(ctx, ListCourseProgressQuery{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ModuleID)
	assert.Equal(t, "completed", got[0].Status)
	assert.NotNil(t, got[0].CompletedAt)
	assert.Equal(t, "m2", got[1].ModuleID)
}
