package command

import (
	"time"

	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/internal/infrastructure/metrics"
	"github.com/alem-hub/course-progress/pkg/logger"
	"github.com/alem-hub/course-progress/pkg/retry"
)

// newConflictRetrier retries lost optimistic-concurrency races.
func newConflictRetrier(log *logger.Logger) *retry.Retrier {
	return retry.ConflictRetrier(shared.IsConflict, func(attempt int, err error, delay time.Duration) {
		metrics.RecordConflictRetry()
		log.Debug("retrying after conflict",
			logger.Attempt(attempt),
			logger.Duration("delay", delay),
			logger.Err(err),
		)
	})
}

// exhausted reports a Conflict that survived every retry as an internal error.
// The conflict is kept in the message only so callers never match ErrConflict.
func exhausted(domain, op string, err error) error {
	if !shared.IsConflict(err) {
		return err
	}
	return shared.NewDomainError(domain, op, shared.ErrInternal, "gave up after repeated concurrent modification: "+err.Error())
}

// publish sends an event and logs failures. Publishing never fails a command.
func publish(publisher shared.EventPublisher, log *logger.Logger, event shared.Event) {
	err := publisher.Publish(event)
	metrics.RecordEventPublished(event.EventType().String(), err == nil)
	if err != nil {
		log.Warn("failed to publish event",
			logger.String("event_type", event.EventType().String()),
			logger.String("aggregate_id", event.AggregateID()),
			logger.Err(err),
		)
	}
}
