package handlers

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TenantRateLimiter keeps one token bucket per tenant. Buckets idle for
// longer than idleTTL are dropped on the next sweep.
type TenantRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTenantRateLimiter creates a limiter allowing perSecond requests per
// tenant with the given burst. It returns nil when perSecond <= 0.
func NewTenantRateLimiter(perSecond float64, burst int) *TenantRateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond) + 1
	}
	return &TenantRateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow spends one token from the tenant's bucket.
func (l *TenantRateLimiter) Allow(tenant string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.idleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[tenant]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[tenant] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Middleware limits requests by the tenant of the resolved identity. It must
// run after the identity middleware.
func (l *TenantRateLimiter) Middleware(respond ErrorResponder) MiddlewareFunc {
	if l == nil {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := ""
			if id, ok := IdentityFromContext(r.Context()); ok {
				tenant = string(id.TenantID)
			}
			if !l.Allow(tenant) {
				w.Header().Set("Retry-After", "1")
				respond(w, r, ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
