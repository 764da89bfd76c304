package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/pkg/logger"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false, Logger: logger.Nop()})
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()
	var progress, all int

	require.NoError(t, bus.Subscribe(shared.EventProgressRecorded, func(shared.Event) error { progress++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(shared.NewProgressRecordedEvent("t1", "u1", "c1", "m1", "completed")))
	require.NoError(t, bus.Publish(shared.NewEnrollmentCreatedEvent("e1", "t1", "u1", "c1", "")))

	assert.Equal(t, 1, progress)
	assert.Equal(t, 2, all)
}

func TestInMemoryEventBus_HandlerFailuresAreIsolated(t *testing.T) {
	bus := syncBus()
	var reached bool

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("worse") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { reached = true; return nil }))

	assert.NoError(t, bus.Publish(shared.NewProgressRecordedEvent("t1", "u1", "c1", "m1", "in_progress")))
	assert.True(t, reached)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2, Logger: logger.Nop()})
	var n atomic.Int32

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		n.Add(1)
		return nil
	}))
	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(shared.NewProgressRecordedEvent("t1", "u1", "c1", "m1", "in_progress")))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(10), n.Load())
	assert.ErrorIs(t, bus.Publish(shared.NewProgressRecordedEvent("t1", "u1", "c1", "m1", "in_progress")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := syncBus()
	assert.ErrorIs(t, bus.Subscribe(shared.EventProgressRecorded, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
}

// fakeBroker is a process-local stand-in for a Redis channel.
type fakeBroker struct {
	mu   sync.Mutex
	subs []chan RedisMessage
	fail bool
}

type fakeClient struct{ broker *fakeBroker }

func (c fakeClient) Publish(_ context.Context, channel string, message []byte) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.broker.fail {
		return errors.New("redis unavailable")
	}
	for _, s := range c.broker.subs {
		s <- RedisMessage{Channel: channel, Payload: string(message)}
	}
	return nil
}

func (c fakeClient) Subscribe(_ context.Context, _ string) (<-chan RedisMessage, func() error, error) {
	ch := make(chan RedisMessage, 16)
	c.broker.mu.Lock()
	c.broker.subs = append(c.broker.subs, ch)
	c.broker.mu.Unlock()
	return ch, func() error { return nil }, nil
}

func newRedisBus(t *testing.T, broker *fakeBroker, id string) *RedisEventBus {
	t.Helper()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         fakeClient{broker: broker},
		InstanceID:     id,
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
		Logger:         logger.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestRedisEventBus_FansOutAcrossInstances(t *testing.T) {
	broker := &fakeBroker{}
	a := newRedisBus(t, broker, "a")
	b := newRedisBus(t, broker, "b")

	var localA atomic.Int32
	received := make(chan shared.Event, 1)
	require.NoError(t, a.SubscribeAll(func(shared.Event) error { localA.Add(1); return nil }))
	require.NoError(t, b.Subscribe(shared.EventEnrollmentTransitioned, func(e shared.Event) error {
		received <- e
		return nil
	}))

	sent := shared.NewEnrollmentTransitionedEvent("e1", "t1", "u1", "c1", "assigned", "in_progress", "progress_updated", 40)
	require.NoError(t, a.Publish(sent))

	select {
	case e := <-received:
		got, ok := e.(shared.EnrollmentTransitionedEvent)
		require.True(t, ok)
		assert.Equal(t, "in_progress", got.To)
		assert.Equal(t, 40, got.ProgressPct)
		assert.Equal(t, sent.AggregateID(), got.AggregateID())
	case <-time.After(time.Second):
		t.Fatal("event not delivered to second instance")
	}

	// the echo from Redis is skipped by the publisher
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), localA.Load())
}

func TestRedisEventBus_PublishFailureStillDeliversLocally(t *testing.T) {
	broker := &fakeBroker{fail: true}
	bus := newRedisBus(t, broker, "a")

	var delivered bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { delivered = true; return nil }))

	err := bus.Publish(shared.NewProgressRecordedEvent("t1", "u1", "c1", "m1", "completed"))
	assert.Error(t, err)
	assert.True(t, delivered)
}
