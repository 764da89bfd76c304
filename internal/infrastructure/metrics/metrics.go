// Package metrics declares the Prometheus collectors of the service and the
// helpers that record into them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels for progress_records_total.
const (
	ResultCreated   = "created"
	ResultUpdated   = "updated"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultError     = "error"
)

var (
	// progressRecords counts ledger writes.
	// Labels: result (created, updated, duplicate, rejected, error)
	progressRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_records_total",
		Help: "Progress ledger writes by result",
	}, []string{"result"})

	// enrollmentTransitions counts enrollment status changes.
	// Labels: from, to
	enrollmentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_transitions_total",
		Help: "Enrollment status transitions",
	}, []string{"from", "to"})

	conflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conflict_retries_total",
		Help: "Optimistic concurrency conflicts retried by the command layer",
	})

	// httpRequestDuration measures request latency.
	// Labels: method, route (the mux pattern), status
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// eventsPublished counts domain events handed to the bus.
	// Labels: type, status (ok, error)
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Domain events published by type",
	}, []string{"type", "status"})

	// eventHandlerDuration measures subscriber execution.
	// Labels: type, status (ok, error)
	eventHandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "event_handler_duration_seconds",
		Help:    "Event handler execution time in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"type", "status"})

	// schedulerJobRuns counts background job executions.
	// Labels: job, status (success, failure, skipped)
	schedulerJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_job_runs_total",
		Help: "Background job runs by outcome",
	}, []string{"job", "status"})
)

// RecordProgress records one ledger write outcome.
func RecordProgress(result string) {
	progressRecords.WithLabelValues(result).Inc()
}

// RecordTransition records an enrollment moving from one status to another.
func RecordTransition(from, to string) {
	enrollmentTransitions.WithLabelValues(from, to).Inc()
}

// RecordConflictRetry records a retried compare-and-swap or upsert conflict.
func RecordConflictRetry() {
	conflictRetries.Inc()
}

// ObserveHTTPRequest records the latency of one HTTP request.
func ObserveHTTPRequest(method, route, status string, seconds float64) {
	httpRequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// RecordEventPublished records one publish attempt.
func RecordEventPublished(eventType string, ok bool) {
	eventsPublished.WithLabelValues(eventType, statusLabel(ok)).Inc()
}

// ObserveEventHandler records one subscriber execution.
func ObserveEventHandler(eventType string, ok bool, seconds float64) {
	eventHandlerDuration.WithLabelValues(eventType, statusLabel(ok)).Observe(seconds)
}

// RecordJobRun records a scheduler job outcome.
func RecordJobRun(job, status string) {
	schedulerJobRuns.WithLabelValues(job, status).Inc()
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
