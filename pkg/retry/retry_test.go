package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream 503")

func quick(p Policy) *Retrier {
	p.Base = time.Millisecond
	p.Cap = 2 * time.Millisecond
	return New(p)
}

func TestDo_RetriesMarkedErrorsUntilSuccess(t *testing.T) {
	calls := 0
	err := quick(Policy{Attempts: 4}).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errUpstream)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_UnmarkedErrorIsReturnedAtOnce(t *testing.T) {
	calls := 0
	err := quick(Policy{Attempts: 4}).Do(context.Background(), func(context.Context) error {
		calls++
		return errUpstream
	})

	assert.Equal(t, errUpstream, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustionReturnsOriginalError(t *testing.T) {
	var notified []int
	p := Policy{
		Attempts: 3,
		Notify:   func(attempt int, _ error, _ time.Duration) { notified = append(notified, attempt) },
	}

	calls := 0
	err := quick(p).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errUpstream)
	})

	assert.Equal(t, errUpstream, err, "the transient mark is stripped")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDo_ShouldRetryClassifies(t *testing.T) {
	errConflict := errors.New("version conflict")
	p := Policy{
		Attempts:    5,
		ShouldRetry: func(err error) bool { return errors.Is(err, errConflict) },
	}

	calls := 0
	err := quick(p).Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("update: %w", errConflict)
		}
		return errUpstream
	})

	assert.Equal(t, errUpstream, err)
	assert.Equal(t, 2, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := quick(Policy{Attempts: 3}).Do(ctx, func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_CancelDuringWaitKeepsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(Policy{Attempts: 3, Base: time.Hour, Cap: time.Hour})

	err := r.Do(ctx, func(context.Context) error {
		cancel()
		return Retryable(errUpstream)
	})

	assert.Equal(t, errUpstream, err)
}

func TestBackoff_DoublesUpToCap(t *testing.T) {
	r := New(Policy{Attempts: 10, Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond})

	assert.Equal(t, 10*time.Millisecond, r.backoff(1))
	assert.Equal(t, 20*time.Millisecond, r.backoff(2))
	assert.Equal(t, 40*time.Millisecond, r.backoff(3))
	assert.Equal(t, 50*time.Millisecond, r.backoff(4))
	assert.Equal(t, 50*time.Millisecond, r.backoff(60))
}

func TestBackoff_JitterStaysInBand(t *testing.T) {
	r := New(Policy{Attempts: 2, Base: 100 * time.Millisecond, Cap: time.Second, Jitter: 0.2})

	for i := 0; i < 100; i++ {
		d := r.backoff(1)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestNew_NormalizesPolicy(t *testing.T) {
	r := New(Policy{Base: time.Second, Jitter: 3})
	assert.Equal(t, 1, r.p.Attempts)
	assert.Equal(t, time.Second, r.p.Cap)
	assert.Zero(t, r.p.Jitter)
}

func TestPresetRetriers(t *testing.T) {
	isConflict := func(error) bool { return true }
	assert.Equal(t, 5, ConflictRetrier(isConflict, nil).p.Attempts)
	assert.Equal(t, 3, CatalogRetrier().p.Attempts)
	assert.Nil(t, CatalogRetrier().p.ShouldRetry)
}

func TestRetryable_Nil(t *testing.T) {
	assert.NoError(t, Retryable(nil))
}
