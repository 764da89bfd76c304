package catalog

import (
	"context"
	"sync"

	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/pkg/logger"
)

// CountCache is the storage used by CachedCatalog. The Redis ModuleCountCache
// implements it.
type CountCache interface {
	Get(ctx context.Context, tenantID shared.TenantID, courseID shared.CourseID) (int, bool, error)
	Set(ctx context.Context, tenantID shared.TenantID, courseID shared.CourseID, count int) error
}

// CachedCatalog serves module counts from a cache and falls back to next on a
// miss. Cache failures are logged and never fail the lookup.
type CachedCatalog struct {
	next  progress.ModuleCatalog
	cache CountCache
	log   *logger.Logger
}

// NewCachedCatalog wraps next with cache.
func NewCachedCatalog(next progress.ModuleCatalog, cache CountCache, log *logger.Logger) *CachedCatalog {
	if log == nil {
		log = logger.Default()
	}
	return &CachedCatalog{next: next, cache: cache, log: log.With(logger.Component("catalog_cache"))}
}

// ModuleCount implements progress.ModuleCatalog.
func (c *CachedCatalog) ModuleCount(ctx context.Context, tenantID shared.TenantID, courseID shared.CourseID) (int, error) {
	n, ok, err := c.cache.Get(ctx, tenantID, courseID)
	if err != nil {
		c.log.Warn("module count cache read failed", logger.CourseID(string(courseID)), logger.Err(err))
	} else if ok {
		return n, nil
	}

	n, err = c.next.ModuleCount(ctx, tenantID, courseID)
	if err != nil {
		return 0, err
	}

	if err := c.cache.Set(ctx, tenantID, courseID, n); err != nil {
		c.log.Warn("module count cache write failed", logger.CourseID(string(courseID)), logger.Err(err))
	}
	return n, nil
}

// StaticCatalog is an in-memory catalog, used when CATALOG_BASE_URL is not
// configured and in tests.
type StaticCatalog struct {
	mu     sync.RWMutex
	counts map[shared.CourseID]int
}

// NewStaticCatalog creates a catalog seeded with counts.
func NewStaticCatalog(counts map[shared.CourseID]int) *StaticCatalog {
	s := &StaticCatalog{counts: make(map[shared.CourseID]int, len(counts))}
	for k, v := range counts {
		s.counts[k] = v
	}
	return s
}

// Set records the module count for a course.
func (s *StaticCatalog) Set(courseID shared.CourseID, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[courseID] = count
}

// ModuleCount implements progress.ModuleCatalog.
func (s *StaticCatalog) ModuleCount(_ context.Context, _ shared.TenantID, courseID shared.CourseID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.counts[courseID]
	if !ok {
		return 0, shared.ErrCourseNotInCatalog
	}
	return n, nil
}
