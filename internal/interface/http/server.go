// Package http implements the REST surface of the course progress service:
// learner and admin APIs, health endpoints and the Prometheus scrape target.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/course-progress/config"
	"github.com/alem-hub/course-progress/internal/application/command"
	"github.com/alem-hub/course-progress/internal/application/query"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/internal/infrastructure/metrics"
	"github.com/alem-hub/course-progress/internal/infrastructure/scheduler"
	"github.com/alem-hub/course-progress/internal/interface/http/handlers"
	"github.com/alem-hub/course-progress/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of request bodies.
	MaxBodyBytes int64

	// RateLimitPerSecond - requests per second per tenant (0 = disabled).
	RateLimitPerSecond float64
	RateLimitBurst     int

	// MetricsEnabled exposes the Prometheus registry at MetricsPath.
	MetricsEnabled bool
	MetricsPath    string

	// Version is reported by the root and readiness endpoints.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20, // 1 MB
		MaxBodyBytes:       64 << 10,
		RateLimitPerSecond: 50,
		RateLimitBurst:     100,
		MetricsEnabled:     true,
		MetricsPath:        "/metrics",
	}
}

// ConfigFrom derives the server configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.Host = cfg.HTTP.Host
	c.Port = cfg.HTTP.Port
	if cfg.HTTP.ReadTimeout > 0 {
		c.ReadTimeout = cfg.HTTP.ReadTimeout
	}
	if cfg.HTTP.WriteTimeout > 0 {
		c.WriteTimeout = cfg.HTTP.WriteTimeout
	}
	if cfg.HTTP.IdleTimeout > 0 {
		c.IdleTimeout = cfg.HTTP.IdleTimeout
	}
	c.RateLimitPerSecond = cfg.HTTP.RateLimitPerSecond
	c.RateLimitBurst = cfg.HTTP.RateLimitBurst
	c.MetricsEnabled = cfg.Metrics.Enabled
	if cfg.Metrics.Path != "" {
		c.MetricsPath = cfg.Metrics.Path
	}
	c.Version = cfg.App.Version
	return c
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Command Handlers (CQRS Write Side)
	RecordProgress     *command.RecordProgressHandler
	CreateEnrollment   *command.CreateEnrollmentHandler
	AdvanceEnrollment  *command.AdvanceEnrollmentHandler
	StartEnrollment    *command.StartEnrollmentHandler
	ExpireEnrollment   *command.ExpireEnrollmentHandler
	OverrideEnrollment *command.OverrideEnrollmentHandler

	// Query Handlers (CQRS Read Side)
	ComputeCourseProgress *query.ComputeCourseProgressHandler
	GetEnrollment         *query.GetEnrollmentHandler
	ListCourseProgress    *query.ListCourseProgressHandler

	// Identity verifies learner bearer tokens; AdminAuth verifies admin keys.
	// Without them the corresponding routes reject every request.
	Identity  *handlers.JWTAuthenticator
	AdminAuth *handlers.AdminKeyAuth

	// HealthChecker backs /health/ready. Nil reports ready.
	HealthChecker handlers.HealthChecker

	// Jobs and Features back the operations admin routes, which answer 503
	// while they are nil.
	Jobs     *scheduler.Scheduler
	Features *config.FeatureFlags

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *logger.Logger
	validate   *validator.Validate
	limiter    *handlers.TenantRateLimiter

	// Server state
	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config:    config,
		deps:      deps,
		router:    http.NewServeMux(),
		logger:    deps.Logger,
		validate:  newValidator(),
		limiter:   handlers.NewTenantRateLimiter(config.RateLimitPerSecond, config.RateLimitBurst),
		startedAt: time.Now(),
	}

	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.logger = s.logger.With(logger.Component("http"))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.buildMiddlewareChain(s.router),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health/live", s.handleLive)
	s.router.HandleFunc("GET /health/ready", s.handleReady)
	s.router.HandleFunc("GET /{$}", s.handleRoot)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Learner Endpoints (bearer token)
	// ─────────────────────────────────────────────────────────────────────────
	learner := handlers.Chain(
		s.deps.Identity.Middleware(s.writeError),
		s.limiter.Middleware(s.writeError),
	)
	s.router.Handle("POST /api/v1/progress", learner(http.HandlerFunc(s.handleRecordProgress)))
	s.router.Handle("GET /api/v1/courses/{courseId}/progress", learner(http.HandlerFunc(s.handleCourseProgress)))
	s.router.Handle("GET /api/v1/courses/{courseId}/modules", learner(http.HandlerFunc(s.handleListModules)))
	s.router.Handle("POST /api/v1/enrollments", learner(http.HandlerFunc(s.handleCreateEnrollment)))
	s.router.Handle("GET /api/v1/enrollments/{courseId}", learner(http.HandlerFunc(s.handleGetEnrollment)))
	s.router.Handle("POST /api/v1/enrollments/{courseId}/advance", learner(http.HandlerFunc(s.handleAdvanceEnrollment)))
	s.router.Handle("POST /api/v1/enrollments/{courseId}/start", learner(http.HandlerFunc(s.handleStartEnrollment)))

	// ─────────────────────────────────────────────────────────────────────────
	// Admin v1 (X-Admin-Key)
	// ─────────────────────────────────────────────────────────────────────────
	admin := s.deps.AdminAuth.Middleware(s.writeError)
	const enrollmentPath = "/admin/v1/tenants/{tenantId}/users/{userId}/enrollments/{courseId}"
	s.router.Handle("POST "+enrollmentPath+"/expire", admin(http.HandlerFunc(s.handleAdminExpire)))
	s.router.Handle("POST "+enrollmentPath+"/override", admin(http.HandlerFunc(s.handleAdminOverride)))

	s.router.Handle("GET /admin/v1/jobs", admin(http.HandlerFunc(s.handleListJobs)))
	s.router.Handle("GET /admin/v1/jobs/history", admin(http.HandlerFunc(s.handleJobHistory)))
	s.router.Handle("POST /admin/v1/jobs/{name}/run", admin(http.HandlerFunc(s.handleRunJob)))
	s.router.Handle("POST /admin/v1/jobs/{name}/enable", admin(s.handleSetJobEnabled(true)))
	s.router.Handle("POST /admin/v1/jobs/{name}/disable", admin(s.handleSetJobEnabled(false)))

	s.router.Handle("GET /admin/v1/features", admin(http.HandlerFunc(s.handleListFeatures)))
	s.router.Handle("PATCH /admin/v1/features/{name}", admin(http.HandlerFunc(s.handleUpdateFeature)))
	s.router.Handle("PUT /admin/v1/tenants/{tenantId}/features/{name}", admin(http.HandlerFunc(s.handleSetTenantOverride)))
	s.router.Handle("DELETE /admin/v1/tenants/{tenantId}/features", admin(http.HandlerFunc(s.handleClearTenantOverrides)))

	// ─────────────────────────────────────────────────────────────────────────
	// Metrics (if enabled)
	// ─────────────────────────────────────────────────────────────────────────
	if s.config.MetricsEnabled {
		s.router.Handle("GET "+s.config.MetricsPath, promhttp.Handler())
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN
// ══════════════════════════════════════════════════════════════════════════════

// buildMiddlewareChain wraps the router. The request id runs first so every
// later layer can log it; metrics run last so they see the matched pattern.
func (s *Server) buildMiddlewareChain(router http.Handler) http.Handler {
	var size handlers.MiddlewareFunc
	if s.config.MaxBodyBytes > 0 {
		size = handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes)
	}
	return handlers.Chain(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		handlers.SecurityHeadersMiddleware,
		size,
		s.metricsMiddleware,
	)(router)
}

// requestIDMiddleware adds a unique request ID to each request.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		ctx = logger.WithContext(ctx, s.logger.WithRequestID(requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs one line per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.String("route", routeOf(r)),
			logger.Int("status", rw.statusCode),
			logger.Latency(time.Since(start)),
			logger.String("ip", getClientIP(r)),
		}
		log := logger.FromContext(r.Context())
		if rw.statusCode >= http.StatusInternalServerError {
			log.Warn("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context()).Error("panic recovered",
					logger.Any("panic", rec),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
				)
				writeJSONError(w, r, http.StatusInternalServerError, "internal", "An unexpected error occurred", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware observes request latency labelled by the matched route.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		metrics.ObserveHTTPRequest(r.Method, routeOf(r), strconv.Itoa(rw.statusCode), time.Since(start).Seconds())
	})
}

// routeOf returns the mux pattern that served r. The mux records it on the
// request it was handed, so it is only set once the router has run.
func routeOf(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the time since the server was created or last started.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"totalCount,omitempty"`
}

// writeJSON writes a successful JSON response.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSONWithMeta(w, r, status, data, nil)
}

// writeJSONWithMeta writes a JSON response with custom metadata.
func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	encode(w, status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: getRequestID(r.Context()),
	})
}

// writeJSONError writes an error JSON response.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	encode(w, status, JSONResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: getRequestID(r.Context()),
	})
}

func encode(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err onto a status code and writes it. Server errors are
// logged and their text is not sent to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			logger.String("route", routeOf(r)),
			logger.Err(err),
		)
		writeJSONError(w, r, status, code, http.StatusText(status), "")
		return
	}
	writeJSONError(w, r, status, code, errorMessage(err), "")
}

// errorStatus maps error kinds onto HTTP status codes. Identity failures are
// checked first because they may wrap an InvalidArgument cause.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, handlers.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case shared.IsUnauthorized(err):
		return http.StatusUnauthorized, "unauthorized"
	case shared.IsForbidden(err):
		return http.StatusForbidden, "forbidden"
	case shared.IsInvalidArgument(err):
		return http.StatusBadRequest, "invalid_argument"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case shared.IsInvalidTransition(err):
		return http.StatusUnprocessableEntity, "invalid_transition"
	case shared.IsUnavailable(err):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// errorMessage prefers the domain message over the full wrapped chain.
func errorMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON decodes and validates a request body into dst.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return shared.InvalidArgument("http", "Decode", "malformed request body: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return shared.InvalidArgument("http", "Validate", "%s", strings.Join(msgs, "; "))
		}
		return shared.InvalidArgument("http", "Validate", "%v", err)
	}
	return nil
}

// optionalIntParam parses an optional non-empty integer query parameter.
func optionalIntParam(r *http.Request, key string) (*int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, shared.InvalidArgument("http", "Query", "%s must be an integer", key)
	}
	return &n, nil
}

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// getRequestID extracts the request ID from context.
func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
