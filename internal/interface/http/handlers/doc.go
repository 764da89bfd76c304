// Package handlers contains the building blocks the HTTP server composes:
// health checks, identity resolution and the middleware around the API.
//
// # Health Checks
//
// Readiness is a set of named checks run in parallel:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("postgres", handlers.PingCheck(conn))
//	checker.AddCheck("redis", handlers.PingCheck(cache))
//
// # Identity
//
// Learner routes require an HS256 bearer token whose tenant_id and sub claims
// name the caller. The resolved shared.Identity is available to handlers via
// IdentityFromContext.
//
// Admin routes require an X-Admin-Key header matching one of the configured
// bcrypt hashes.
//
// # Rate Limiting
//
// TenantRateLimiter keeps a token bucket per tenant so that one tenant cannot
// starve the others.
package handlers
