// Package retry re-runs an operation with capped exponential backoff.
// Command handlers use it for lost optimistic-concurrency races on the store,
// the catalog client for transient upstream failures.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// transient marks an error the default policy may retry.
type transient struct {
	err error
}

func (t *transient) Error() string { return t.err.Error() }
func (t *transient) Unwrap() error { return t.err }

// Retryable marks err as transient. Retrier.Do strips the mark again before
// returning, so callers only ever see the original error.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &transient{err: err}
}

func unmark(err error) error {
	if t, ok := err.(*transient); ok {
		return t.err
	}
	return err
}

// Policy controls how often an operation is attempted and how long Do waits
// between attempts. The wait doubles from Base up to Cap.
type Policy struct {
	// Attempts includes the first call. Values below 1 mean a single call.
	Attempts int
	Base     time.Duration
	Cap      time.Duration

	// Jitter spreads each wait by up to this fraction in either direction.
	Jitter float64

	// ShouldRetry classifies errors. Nil retries only errors marked with Retryable.
	ShouldRetry func(error) bool

	// Notify runs before every wait.
	Notify func(attempt int, err error, delay time.Duration)
}

// Retrier runs operations under a Policy. It is safe for concurrent use.
type Retrier struct {
	p Policy
}

// New returns a Retrier for p.
func New(p Policy) *Retrier {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return &Retrier{p: p}
}

// Do calls op until it succeeds, returns an error the policy does not retry,
// runs out of attempts or ctx is done. The last error of op wins over the
// context error once op has run at least once.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return unmark(last)
			}
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= r.p.Attempts || !r.retries(last) {
			return unmark(last)
		}

		delay := r.backoff(attempt)
		if r.p.Notify != nil {
			r.p.Notify(attempt, last, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmark(last)
		case <-timer.C:
		}
	}
}

func (r *Retrier) retries(err error) bool {
	if r.p.ShouldRetry != nil {
		return r.p.ShouldRetry(err)
	}
	var t *transient
	return errors.As(err, &t)
}

// backoff returns the wait after the given failed attempt.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.p.Base
	for i := 1; i < attempt && d < r.p.Cap; i++ {
		d *= 2
	}
	if d > r.p.Cap {
		d = r.p.Cap
	}
	if r.p.Jitter > 0 && d > 0 {
		spread := float64(d) * r.p.Jitter
		d += time.Duration(spread * (2*rand.Float64() - 1))
	}
	return max(d, 0)
}

// ConflictRetrier retries single-key store operations that lost an
// optimistic-concurrency race. isConflict decides which errors qualify.
func ConflictRetrier(isConflict func(error) bool, notify func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(Policy{
		Attempts:    5,
		Base:        10 * time.Millisecond,
		Cap:         200 * time.Millisecond,
		Jitter:      0.2,
		ShouldRetry: isConflict,
		Notify:      notify,
	})
}

// CatalogRetrier retries catalog calls that failed with a Retryable error.
func CatalogRetrier() *Retrier {
	return New(Policy{
		Attempts: 3,
		Base:     100 * time.Millisecond,
		Cap:      2 * time.Second,
		Jitter:   0.1,
	})
}
