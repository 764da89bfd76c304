package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/pkg/circuitbreaker"
	"github.com/alem-hub/course-progress/pkg/logger"
	"github.com/alem-hub/course-progress/pkg/retry"
)

func newTestClient(baseURL string) *Client {
	cfg := DefaultClientConfig(baseURL)
	cfg.Logger = logger.Nop()
	cfg.Retrier = retry.New(retry.Policy{Attempts: 3, Base: time.Millisecond, Cap: 2 * time.Millisecond})
	cfg.Breaker = circuitbreaker.New("catalog-test",
		circuitbreaker.WithFailureThreshold(2),
		circuitbreaker.WithTimeout(time.Hour),
		circuitbreaker.WithIsFailure(shared.IsUnavailable),
	)
	return NewClient(cfg)
}

func TestModuleCount_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/courses/go-101/module-count", r.URL.Path)
		assert.Equal(t, "t1", r.Header.Get("X-Tenant-ID"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"courseId":"go-101","moduleCount":12}`))
	}))
	defer srv.Close()

	n, err := newTestClient(srv.URL+"/").ModuleCount(context.Background(), "t1", "go-101")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestModuleCount_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.ModuleCount(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, shared.ErrCourseNotInCatalog)
	assert.True(t, shared.IsInvalidArgument(err))
	assert.False(t, shared.IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, c.Breaker().State())
}

func TestModuleCount_BadRequestCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad_course","message":"course id malformed"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ModuleCount(context.Background(), "t1", "x")
	assert.True(t, shared.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "course id malformed")
}

func TestModuleCount_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"moduleCount":4}`))
	}))
	defer srv.Close()

	n, err := newTestClient(srv.URL).ModuleCount(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int32(3), calls.Load())
}

func TestModuleCount_OpensBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for i := 0; i < 2; i++ {
		_, err := c.ModuleCount(context.Background(), "t1", "c1")
		assert.True(t, shared.IsUnavailable(err))
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.Breaker().State())

	before := calls.Load()
	_, err := c.ModuleCount(context.Background(), "t1", "c1")
	assert.True(t, shared.IsUnavailable(err))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, before, calls.Load())
}

func TestModuleCount_RejectsNegativeCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"moduleCount":-1}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ModuleCount(context.Background(), "t1", "c1")
	assert.True(t, shared.IsUnavailable(err))
}

type fakeCountCache struct {
	data    map[shared.CourseID]int
	readErr error
	sets    int
}

func (f *fakeCountCache) Get(_ context.Context, _ shared.TenantID, c shared.CourseID) (int, bool, error) {
	if f.readErr != nil {
		return 0, false, f.readErr
	}
	n, ok := f.data[c]
	return n, ok, nil
}

func (f *fakeCountCache) Set(_ context.Context, _ shared.TenantID, c shared.CourseID, n int) error {
	f.sets++
	f.data[c] = n
	return nil
}

type countingCatalog struct {
	*StaticCatalog
	calls int
}

func (c *countingCatalog) ModuleCount(ctx context.Context, tenantID shared.TenantID, courseID shared.CourseID) (int, error) {
	c.calls++
	return c.StaticCatalog.ModuleCount(ctx, tenantID, courseID)
}

func TestCachedCatalog(t *testing.T) {
	origin := &countingCatalog{StaticCatalog: NewStaticCatalog(map[shared.CourseID]int{"c1": 8})}
	cache := &fakeCountCache{data: map[shared.CourseID]int{}}
	cc := NewCachedCatalog(origin, cache, logger.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n, err := cc.ModuleCount(ctx, "t1", "c1")
		require.NoError(t, err)
		assert.Equal(t, 8, n)
	}
	assert.Equal(t, 1, origin.calls)
	assert.Equal(t, 1, cache.sets)

	_, err := cc.ModuleCount(ctx, "t1", "unknown")
	assert.ErrorIs(t, err, shared.ErrCourseNotInCatalog)
	assert.Equal(t, 1, cache.sets)
}

func TestCachedCatalog_CacheFailureFallsThrough(t *testing.T) {
	origin := NewStaticCatalog(map[shared.CourseID]int{"c1": 3})
	cache := &fakeCountCache{data: map[shared.CourseID]int{}, readErr: errors.New("redis down")}

	n, err := NewCachedCatalog(origin, cache, logger.Nop()).ModuleCount(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
