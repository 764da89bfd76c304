package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/course-progress/internal/domain/shared"
)

// ModuleCountCache stores catalog module counts keyed by tenant and course.
type ModuleCountCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewModuleCountCache creates a new ModuleCountCache.
func NewModuleCountCache(cache *Cache, ttl time.Duration) *ModuleCountCache {
	return &ModuleCountCache{cache: cache, ttl: ttl}
}

// ModuleCountKey builds the cache key for a course.
func ModuleCountKey(tenantID shared.TenantID, courseID shared.CourseID) string {
	return PrefixModuleCount + string(tenantID) + ":" + string(courseID)
}

// Get returns the cached count. ok is false on a miss.
func (m *ModuleCountCache) Get(ctx context.Context, tenantID shared.TenantID, courseID shared.CourseID) (count int, ok bool, err error) {
	err = m.cache.Get(ctx, ModuleCountKey(tenantID, courseID), &count)
	if errors.Is(err, ErrCacheMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

// Set caches count for the configured TTL.
func (m *ModuleCountCache) Set(ctx context.Context, tenantID shared.TenantID, courseID shared.CourseID, count int) error {
	return m.cache.Set(ctx, ModuleCountKey(tenantID, courseID), count, m.ttl)
}

// Invalidate drops the cached count for a course.
func (m *ModuleCountCache) Invalidate(ctx context.Context, tenantID shared.TenantID, courseID shared.CourseID) error {
	return m.cache.Delete(ctx, ModuleCountKey(tenantID, courseID))
}
