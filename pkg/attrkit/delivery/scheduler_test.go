package delivery_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attrkit/attrkit/pkg/attrkit/delivery"
	"github.com/attrkit/attrkit/pkg/attrkit/event"
	"github.com/attrkit/attrkit/pkg/attrkit/observability"
	"github.com/attrkit/attrkit/pkg/attrkit/queue"
	"github.com/attrkit/attrkit/pkg/attrkit/store"
)

// fakeSender scripts delivery outcomes and records every send.
type fakeSender struct {
	mu      sync.Mutex
	results []delivery.Result // consumed in order; empty means success
	sends   [][]event.Event
	block   chan struct{} // when set, Send waits here
}

func (f *fakeSender) Send(ctx context.Context, events []event.Event) delivery.Result {
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sends = append(f.sends, events)
	if len(f.results) == 0 {
		return delivery.Result{Outcome: delivery.OutcomeSuccess}
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

func (f *fakeSender) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func fillQueue(t *testing.T, q *queue.Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		evt, err := event.New(fmt.Sprintf("event_%d", i), nil, event.Stamp{SessionID: "s", VisitorID: "v"})
		require.NoError(t, err)
		_, err = q.Enqueue(evt)
		require.NoError(t, err)
	}
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.New(store.NewMemoryStore(), queue.Config{})
	require.NoError(t, err)
	return q
}

// brokenAckStore delegates to the wrapped store but fails every delete,
// simulating storage that degrades mid-session.
type brokenAckStore struct {
	store.Store
}

func (s *brokenAckStore) DeleteItems([]int64) error {
	return errors.New("database is locked")
}

// recordingMetrics captures delivery recordings for assertion.
type recordingMetrics struct {
	observability.NoopMetrics

	mu         sync.Mutex
	deliveries []string
	events     int
}

func (m *recordingMetrics) RecordDelivery(_ context.Context, outcome string, events int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, outcome)
	m.events += events
}

func TestFlushDrainsQueue(t *testing.T) {
	q := newTestQueue(t)
	fillQueue(t, q, 60)

	sender := &fakeSender{}
	s := delivery.NewScheduler(q, sender, delivery.SchedulerConfig{BatchSize: 25})

	s.Flush(context.Background())

	assert.Equal(t, 0, q.Size())
	assert.Equal(t, 3, sender.sendCount()) // 25 + 25 + 10
	assert.True(t, s.Online())
}

func TestFlushTerminatesWhenAcknowledgeFails(t *testing.T) {
	q, err := queue.New(&brokenAckStore{Store: store.NewMemoryStore()}, queue.Config{})
	require.NoError(t, err)
	fillQueue(t, q, 3)

	sender := &fakeSender{}
	s := delivery.NewScheduler(q, sender, delivery.SchedulerConfig{})

	done := make(chan struct{})
	go func() {
		s.Flush(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush never returned with a failing store")
	}

	// Delivered events leave the queue despite the store failure, so
	// the cycle does not re-send the same batch.
	assert.Equal(t, 1, sender.sendCount())
	assert.Equal(t, 0, q.Size())
}

func TestFlushRecordsDeliveryMetrics(t *testing.T) {
	q := newTestQueue(t)
	fillQueue(t, q, 6)

	metrics := &recordingMetrics{}
	sender := &fakeSender{results: []delivery.Result{{Outcome: delivery.OutcomePermanent, StatusCode: 400}}}
	s := delivery.NewScheduler(q, sender, delivery.SchedulerConfig{
		BatchSize: 3,
		Metrics:   metrics,
	})

	s.Flush(context.Background())

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []string{"permanent", "success"}, metrics.deliveries)
	assert.Equal(t, 6, metrics.events)
}

func TestFlushPreservesOrderAcrossBatches(t *testing.T) {
	q := newTestQueue(t)
	fillQueue(t, q, 10)

	sender := &fakeSender{}
	s := delivery.NewScheduler(q, sender, delivery.SchedulerConfig{BatchSize: 4})

	s.Flush(context.Background())

	var names []string
	for _, batch := range sender.sends {
		for _, evt := range batch {
			names = append(names, evt.Name)
		}
	}
	require.Len(t, names, 10)
	for i, name := range names {
		assert.Equal(t, fmt.Sprintf("event_%d", i), name)
	}
}

func TestRetryableFailureRequeues(t *testing.T) {
	q := newTestQueue(t)
	fillQueue(t, q, 5)

	sender := &fakeSender{results: []delivery.Result{{Outcome: delivery.OutcomeRetryable}}}
	s := delivery.NewScheduler(q, sender, delivery.SchedulerConfig{})

	s.Flush(context.Background())

	assert.Equal(t, 5, q.Size(), "failed batch stays queued")
	assert.Equal(t, 1, sender.sendCount(), "cycle stops after a retryable failure")
	assert.False(t, s.Online())

	// Items are backed off, not immediately eligible.
	assert.Empty(t, q.DequeueBatch(10))
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	q := newTestQueue(t)
	fillQueue(t, q, 2)

	sender := &fakeSender{results: []delivery.Result{{
		Outcome:    delivery.OutcomeRateLimited,
		StatusCode: 429,
		RetryAfter: time.Hour,
	}}}
	s := delivery.NewScheduler(q, sender, delivery.SchedulerConfig{})

	s.Flush(context.Background())

	assert.Equal(t, 2, q.Size())
	assert.Empty(t, q.DequeueBatch(10))
	assert.True(t, s.Online(), "a rate limit response still means the endpoint is reachable")
}

func TestPermanentFailureDiscardsAndContinues(t *testing.T) {
	q := newTestQueue(t)
	fillQueue(t, q, 6)

	sender := &fakeSender{results: []delivery.Result{{Outcome: delivery.OutcomePermanent, StatusCode: 400}}}
	s := delivery.NewScheduler(q, sender, delivery.SchedulerConfig{BatchSize: 3})

	s.Flush(context.Background())

	// First batch discarded, second delivered.
	assert.Equal(t, 0, q.Size())
	assert.Equal(t, 2, sender.sendCount())
	assert.Equal(t, int64(3), q.Stats().Dropped)
	assert.Equal(t, int64(3), q.Stats().Delivered)
}

func TestConcurrentFlushSendsOnce(t *testing.T) {
	q := newTestQueue(t)
	fillQueue(t, q, 5)

	sender := &fakeSender{block: make(chan struct{})}
	s := delivery.NewScheduler(q, sender, delivery.SchedulerConfig{BatchSize: 25})

	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Add(1)
			s.Flush(context.Background())
		}()
	}

	// Let every goroutine reach Flush, then release the in-flight send.
	require.Eventually(t, func() bool { return started.Load() == 4 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(sender.block)
	wg.Wait()

	assert.Equal(t, 1, sender.sendCount(), "pending batch must go out exactly once")
	assert.Equal(t, 0, q.Size())
}

func TestNotifyTriggersFlushPastHighWaterMark(t *testing.T) {
	q := newTestQueue(t)
	sender := &fakeSender{}
	s := delivery.NewScheduler(q, sender, delivery.SchedulerConfig{
		FlushInterval: time.Hour, // timer stays out of the way
		HighWaterMark: 3,
	})
	s.Start()
	defer s.Stop(context.Background())

	fillQueue(t, q, 2)
	s.Notify(q.Size())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sender.sendCount(), "below the mark nothing is sent")

	fillQueue(t, q, 1)
	s.Notify(q.Size())
	require.Eventually(t, func() bool { return q.Size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStopFlushesRemaining(t *testing.T) {
	q := newTestQueue(t)
	sender := &fakeSender{}
	s := delivery.NewScheduler(q, sender, delivery.SchedulerConfig{FlushInterval: time.Hour})
	s.Start()

	fillQueue(t, q, 4)
	s.Stop(context.Background())

	assert.Equal(t, 0, q.Size())
	assert.Equal(t, 1, sender.sendCount())

	// Stop twice is safe.
	s.Stop(context.Background())
}

func TestInFlightFlag(t *testing.T) {
	q := newTestQueue(t)
	fillQueue(t, q, 1)

	sender := &fakeSender{block: make(chan struct{})}
	s := delivery.NewScheduler(q, sender, delivery.SchedulerConfig{})

	go s.Flush(context.Background())

	require.Eventually(t, s.InFlight, time.Second, time.Millisecond)
	close(sender.block)
	require.Eventually(t, func() bool { return !s.InFlight() }, time.Second, time.Millisecond)
}
