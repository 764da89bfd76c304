package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/internal/infrastructure/external/catalog"
	"github.com/alem-hub/course-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/course-progress/pkg/logger"
	"github.com/alem-hub/course-progress/pkg/retry"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
	err    error
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

func fastRetrier() *retry.Retrier {
	return retry.New(retry.Policy{
		Attempts:    3,
		Base:        time.Millisecond,
		Cap:         2 * time.Millisecond,
		ShouldRetry: shared.IsConflict,
	})
}

type fixture struct {
	ledger      *memory.ProgressRepository
	enrollments *memory.EnrollmentRepository
	pub         *recordingPublisher
	record      *RecordProgressHandler
	create      *CreateEnrollmentHandler
	advance     *AdvanceEnrollmentHandler
	start       *StartEnrollmentHandler
	expire      *ExpireEnrollmentHandler
	override    *OverrideEnrollmentHandler
}

func newFixture(t *testing.T, moduleCatalog progress.ModuleCatalog) *fixture {
	t.Helper()
	f := &fixture{
		ledger:      memory.NewProgressRepository(),
		enrollments: memory.NewEnrollmentRepository(),
		pub:         &recordingPublisher{},
	}
	cfg := TransitionConfig{Logger: logger.Nop(), Retrier: fastRetrier()}
	f.record = NewRecordProgressHandler(f.ledger, f.pub, RecordProgressHandlerConfig{Logger: logger.Nop(), Retrier: fastRetrier()})
	f.create = NewCreateEnrollmentHandler(f.enrollments, f.pub, logger.Nop())
	f.advance = NewAdvanceEnrollmentHandler(f.enrollments, f.ledger, moduleCatalog, f.pub, cfg)
	f.start = NewStartEnrollmentHandler(f.enrollments, f.pub, cfg)
	f.expire = NewExpireEnrollmentHandler(f.enrollments, f.pub, cfg)
	f.override = NewOverrideEnrollmentHandler(f.enrollments, f.pub, cfg)
	return f
}

func (f *fixture) complete(t *testing.T, module string) {
	t.Helper()
	_, err := f.record.Handle(context.Background(), RecordProgressCommand{
		TenantID: "t1", UserID: "u1", CourseID: "c1", ModuleID: module, Status: "completed",
	})
	require.NoError(t, err)
}

func (f *fixture) enroll(t *testing.T) *enrollment.Enrollment {
	t.Helper()
	e, err := f.create.Handle(context.Background(), CreateEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)
	return e
}

func intPtr(v int) *int { return &v }

var learnerCourse = EnrollmentKeyCommand{TenantID: "t1", UserID: "u1", CourseID: "c1"}

// ══════════════════════════════════════════════════════════════════════════════
// RecordProgress
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordProgress_CreatesAndPublishes(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.record.Handle(context.Background(), RecordProgressCommand{
		TenantID: "t1", UserID: "u1", CourseID: "c1", ModuleID: "m1",
		TimeSpentDelta: progress.DeltaPtr(30), Score: progress.ScorePtr(80),
	})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, progress.StatusInProgress, res.Record.Status)
	assert.Equal(t, int64(30), res.Record.TimeSpentSeconds)
	require.NotNil(t, res.Record.Score)
	assert.Equal(t, 80, *res.Record.Score)
	assert.Len(t, f.pub.ofType(shared.EventProgressRecorded), 1)
}

func TestRecordProgress_NegativeDeltaLeavesTotalUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.record.Handle(ctx, RecordProgressCommand{
		TenantID: "t1", UserID: "u1", CourseID: "c1", ModuleID: "m1", TimeSpentDelta: progress.DeltaPtr(10),
	})
	require.NoError(t, err)

	_, err = f.record.Handle(ctx, RecordProgressCommand{
		TenantID: "t1", UserID: "u1", CourseID: "c1", ModuleID: "m1", TimeSpentDelta: progress.DeltaPtr(-5),
	})
	assert.True(t, shared.IsInvalidArgument(err))

	rec, err := f.ledger.Get(ctx, progress.Key{TenantID: "t1", UserID: "u1", ModuleID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.TimeSpentSeconds)
}

func TestRecordProgress_RejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := []RecordProgressCommand{
		{TenantID: "", UserID: "u1", CourseID: "c1", ModuleID: "m1"},
		{TenantID: "t1", UserID: "u1", CourseID: "c1", ModuleID: "m1", Status: "finished"},
		{TenantID: "t1", UserID: "u1", CourseID: "c1", ModuleID: "m1", Score: progress.ScorePtr(101)},
	}
	for _, cmd := range cases {
		assert.Error(t, cmd.Validate())
		_, err := f.record.Handle(ctx, cmd)
		assert.True(t, shared.IsInvalidArgument(err), "%+v", cmd)
	}
	assert.Empty(t, f.pub.events)
}

func TestRecordProgress_DuplicateIsNotPublished(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cmd := RecordProgressCommand{
		TenantID: "t1", UserID: "u1", CourseID: "c1", ModuleID: "m1",
		TimeSpentDelta: progress.DeltaPtr(15), IdempotencyKey: "evt-1",
	}

	_, err := f.record.Handle(ctx, cmd)
	require.NoError(t, err)
	res, err := f.record.Handle(ctx, cmd)
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(15), res.Record.TimeSpentSeconds)
	assert.Len(t, f.pub.ofType(shared.EventProgressRecorded), 1)
}

func TestRecordProgress_CompletedAtStampedOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cmd := RecordProgressCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", ModuleID: "m1", Status: "completed"}

	first, err := f.record.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, first.BecameCompleted)
	stamp := *first.Record.CompletedAt

	second, err := f.record.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, second.BecameCompleted)
	assert.Equal(t, stamp, *second.Record.CompletedAt)
}

func TestRecordProgress_CourseMismatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.record.Handle(ctx, RecordProgressCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", ModuleID: "m1"})
	require.NoError(t, err)

	_, err = f.record.Handle(ctx, RecordProgressCommand{TenantID: "t1", UserID: "u1", CourseID: "c2", ModuleID: "m1"})
	assert.True(t, shared.IsInvalidArgument(err))
	assert.ErrorIs(t, err, shared.ErrCourseMismatch)
}

func TestRecordProgress_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture(t, nil)
	f.pub.err = errors.New("bus down")

	_, err := f.record.Handle(context.Background(), RecordProgressCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", ModuleID: "m1"})
	assert.NoError(t, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// Enrollments
// ══════════════════════════════════════════════════════════════════════════════

func TestCreateEnrollment_DuplicateKeepsFirst(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.create.Handle(ctx, CreateEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", CohortID: "spring"})
	require.NoError(t, err)

	_, err = f.create.Handle(ctx, CreateEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", CohortID: "autumn"})
	assert.True(t, shared.IsAlreadyExists(err))

	stored, err := f.enrollments.Get(ctx, first.Key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, shared.CohortID("spring"), stored.CohortID)
	assert.Len(t, f.pub.ofType(shared.EventEnrollmentCreated), 1)
}

func TestCreateEnrollment_RejectsPastDeadline(t *testing.T) {
	f := newFixture(t, nil)
	past := time.Now().Add(-time.Hour)

	_, err := f.create.Handle(context.Background(), CreateEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", Deadline: &past})
	assert.True(t, shared.IsInvalidArgument(err))
}

func TestAdvanceEnrollment_TwoModuleScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.enroll(t)

	f.complete(t, "m1")
	res, err := f.advance.Handle(ctx, AdvanceEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", TotalModules: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusInProgress, res.Enrollment.Status)
	assert.Equal(t, 50, res.Enrollment.ProgressPct)
	require.NotNil(t, res.Progress)
	assert.Equal(t, 1, res.Progress.CompletedCount)

	f.complete(t, "m2")
	res, err = f.advance.Handle(ctx, AdvanceEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", TotalModules: intPtr(2)})
	require.NoError(t, err)
	assert.True(t, res.Outcome.Changed)
	assert.Equal(t, enrollment.StatusInProgress, res.Outcome.From)
	assert.Equal(t, enrollment.StatusCompleted, res.Enrollment.Status)
	require.NotNil(t, res.Enrollment.CompletedAt)
	stamp := *res.Enrollment.CompletedAt

	// late advance with a grown catalog changes nothing
	res, err = f.advance.Handle(ctx, AdvanceEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", TotalModules: intPtr(3)})
	require.NoError(t, err)
	assert.False(t, res.Outcome.Changed)
	assert.Equal(t, enrollment.StatusCompleted, res.Enrollment.Status)
	assert.Equal(t, stamp, *res.Enrollment.CompletedAt)

	assert.Len(t, f.pub.ofType(shared.EventEnrollmentTransitioned), 2)
}

func TestAdvanceEnrollment_UsesCatalogWhenTotalOmitted(t *testing.T) {
	f := newFixture(t, catalog.NewStaticCatalog(map[shared.CourseID]int{"c1": 4}))
	f.enroll(t)
	f.complete(t, "m1")

	res, err := f.advance.Handle(context.Background(), AdvanceEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 25, res.Enrollment.ProgressPct)
	assert.Equal(t, 4, res.Progress.TotalModules)
}

func TestAdvanceEnrollment_UnknownCourseIsNotMissingEnrollment(t *testing.T) {
	f := newFixture(t, catalog.NewStaticCatalog(map[shared.CourseID]int{"c1": 4}))
	f.enroll(t)

	_, err := f.advance.Handle(context.Background(), AdvanceEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)

	other := AdvanceEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "gone"}
	_, err = f.advance.Handle(context.Background(), other)
	assert.ErrorIs(t, err, shared.ErrCourseNotInCatalog)
	assert.True(t, shared.IsInvalidArgument(err))
	assert.False(t, shared.IsNotFound(err))
}

func TestAdvanceEnrollment_Errors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.advance.Handle(ctx, AdvanceEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", TotalModules: intPtr(2)})
	assert.True(t, shared.IsNotFound(err))

	f.enroll(t)
	_, err = f.advance.Handle(ctx, AdvanceEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	assert.True(t, shared.IsInvalidArgument(err), "no catalog and no total")

	_, err = f.advance.Handle(ctx, AdvanceEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", TotalModules: intPtr(-1)})
	assert.True(t, shared.IsInvalidArgument(err))
}

func TestAdvanceEnrollment_ZeroModulesStaysAssigned(t *testing.T) {
	f := newFixture(t, nil)
	f.enroll(t)

	res, err := f.advance.Handle(context.Background(), AdvanceEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", TotalModules: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusAssigned, res.Enrollment.Status)
	assert.False(t, res.Outcome.Dirty)
}

func TestStartEnrollment(t *testing.T) {
	f := newFixture(t, nil)
	f.enroll(t)

	res, err := f.start.Handle(context.Background(), learnerCourse)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusInProgress, res.Enrollment.Status)
	assert.Equal(t, enrollment.TriggerStarted, res.Outcome.Trigger)

	res, err = f.start.Handle(context.Background(), learnerCourse)
	require.NoError(t, err)
	assert.False(t, res.Outcome.Changed)
}

func TestExpireEnrollment_TerminalIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.enroll(t)
	f.complete(t, "m1")

	_, err := f.advance.Handle(ctx, AdvanceEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", TotalModules: intPtr(1)})
	require.NoError(t, err)

	res, err := f.expire.Handle(ctx, learnerCourse)
	require.NoError(t, err)
	assert.False(t, res.Outcome.Changed)
	assert.Equal(t, enrollment.StatusCompleted, res.Enrollment.Status)
	assert.Nil(t, res.Enrollment.ExpiredAt)
}

func TestExpireEnrollment_FromAssigned(t *testing.T) {
	f := newFixture(t, nil)
	f.enroll(t)

	res, err := f.expire.Handle(context.Background(), learnerCourse)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusExpired, res.Enrollment.Status)
	assert.NotNil(t, res.Enrollment.ExpiredAt)
}

func TestOverrideEnrollment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.enroll(t)

	cmd := func(target string) OverrideEnrollmentCommand {
		return OverrideEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1", Target: target}
	}

	_, err := f.override.Handle(ctx, cmd("completed"))
	assert.True(t, shared.IsInvalidTransition(err), "assigned cannot skip to completed")

	_, err = f.override.Handle(ctx, cmd("archived"))
	assert.True(t, shared.IsInvalidArgument(err))
	assert.Error(t, cmd("archived").Validate())

	res, err := f.override.Handle(ctx, cmd("assigned"))
	require.NoError(t, err)
	assert.False(t, res.Outcome.Changed)

	res, err = f.override.Handle(ctx, cmd("in_progress"))
	require.NoError(t, err)
	assert.True(t, res.Outcome.Changed)

	res, err = f.override.Handle(ctx, cmd("completed"))
	require.NoError(t, err)
	assert.Zero(t, res.Enrollment.ProgressPct, "override does not invent progress")
	assert.NotNil(t, res.Enrollment.CompletedAt)

	_, err = f.override.Handle(ctx, cmd("expired"))
	assert.True(t, shared.IsInvalidTransition(err))
}

// flakyEnrollments loses the compare-and-swap a fixed number of times.
type flakyEnrollments struct {
	*memory.EnrollmentRepository
	failures atomic.Int32
}

func (r *flakyEnrollments) Update(ctx context.Context, e *enrollment.Enrollment) error {
	if r.failures.Add(-1) >= 0 {
		return shared.ErrEnrollmentVersionStale
	}
	return r.EnrollmentRepository.Update(ctx, e)
}

func TestTransition_RetriesConflicts(t *testing.T) {
	repo := &flakyEnrollments{EnrollmentRepository: memory.NewEnrollmentRepository()}
	repo.failures.Store(2)
	create := NewCreateEnrollmentHandler(repo, nil, logger.Nop())
	_, err := create.Handle(context.Background(), CreateEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)

	start := NewStartEnrollmentHandler(repo, nil, TransitionConfig{Logger: logger.Nop(), Retrier: fastRetrier()})
	res, err := start.Handle(context.Background(), learnerCourse)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusInProgress, res.Enrollment.Status)
	assert.Equal(t, int64(2), res.Enrollment.Version)
}

func TestTransition_ExhaustedConflictIsInternal(t *testing.T) {
	repo := &flakyEnrollments{EnrollmentRepository: memory.NewEnrollmentRepository()}
	repo.failures.Store(100)
	create := NewCreateEnrollmentHandler(repo, nil, logger.Nop())
	_, err := create.Handle(context.Background(), CreateEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)

	start := NewStartEnrollmentHandler(repo, nil, TransitionConfig{Logger: logger.Nop(), Retrier: fastRetrier()})
	_, err = start.Handle(context.Background(), learnerCourse)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInternal)
	assert.False(t, shared.IsConflict(err))
}
