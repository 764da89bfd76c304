// Package catalog implements the client for the course catalog, the external
// authority that knows how many modules a course has.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/pkg/circuitbreaker"
	"github.com/alem-hub/course-progress/pkg/logger"
	"github.com/alem-hub/course-progress/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the catalog client.
type ClientConfig struct {
	// BaseURL is the catalog API base URL, without trailing slash.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retrier and Breaker default to the catalog presets.
	Retrier *retry.Retrier
	Breaker *circuitbreaker.CircuitBreaker

	Logger *logger.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: 5 * time.Second,
	}
}

// moduleCountResponse is the body of GET /courses/{courseId}/module-count.
type moduleCountResponse struct {
	CourseID    string `json:"courseId"`
	ModuleCount *int   `json:"moduleCount"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the HTTP catalog client. It implements progress.ModuleCatalog.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	log        *logger.Logger
}

// NewClient creates a new catalog client.
func NewClient(config ClientConfig) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	log := config.Logger.With(logger.Component("catalog"))

	if config.Retrier == nil {
		config.Retrier = retry.CatalogRetrier()
	}
	if config.Breaker == nil {
		config.Breaker = circuitbreaker.CatalogBreaker(shared.IsUnavailable, func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.Transition(from.String(), to.String()),
			)
		})
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		breaker:    config.Breaker,
		retrier:    config.Retrier,
		log:        log,
	}
}

// ModuleCount returns the number of modules the catalog reports for a course.
func (c *Client) ModuleCount(ctx context.Context, tenantID shared.TenantID, courseID shared.CourseID) (int, error) {
	path := fmt.Sprintf("/courses/%s/module-count", url.PathEscape(string(courseID)))

	var resp moduleCountResponse
	err := c.breaker.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			return c.retrier.Do(ctx, func(ctx context.Context) error {
				return c.doSingleRequest(ctx, tenantID, path, &resp)
			})
		},
		func(rejected error) error {
			return shared.WrapError("catalog", "ModuleCount", shared.ErrUnavailable, "catalog circuit open", rejected)
		},
	)
	if err != nil {
		return 0, err
	}

	if resp.ModuleCount == nil || *resp.ModuleCount < 0 {
		return 0, shared.NewDomainError("catalog", "ModuleCount", shared.ErrUnavailable,
			fmt.Sprintf("catalog returned an invalid module count for %s", courseID))
	}
	return *resp.ModuleCount, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doSingleRequest performs one GET. Transport failures, 429 and 5xx come back
// wrapped in retry.Retryable.
func (c *Client) doSingleRequest(ctx context.Context, tenantID shared.TenantID, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", string(tenantID))
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.Retryable(shared.WrapError("catalog", "ModuleCount", shared.ErrUnavailable, "request failed", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return retry.Retryable(shared.WrapError("catalog", "ModuleCount", shared.ErrUnavailable, "read response", err))
	}

	c.log.Debug("catalog request",
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.Latency(time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return shared.ErrCourseNotInCatalog
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.Retryable(shared.NewDomainError("catalog", "ModuleCount", shared.ErrUnavailable,
			"catalog responded "+strconv.Itoa(resp.StatusCode)))
	case resp.StatusCode >= 400:
		msg := "catalog rejected request"
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return shared.NewDomainError("catalog", "ModuleCount", shared.ErrInvalidArgument, msg)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return shared.WrapError("catalog", "ModuleCount", shared.ErrUnavailable, "malformed catalog response", err)
	}
	return nil
}

// Breaker exposes the circuit breaker state for health reporting.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}
