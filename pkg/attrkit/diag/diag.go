// Package diag provides the non-fatal diagnostic channel: a bounded
// fan-out of notices about dropped items, permanent delivery failures, and
// storage degradation. Nothing in this package can block a producer; when
// a subscriber's buffer is full the notice is dropped for that subscriber.
package diag

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind classifies a diagnostic notice.
type Kind string

// Notice kinds.
const (
	// KindItemDropped reports an event removed from the queue without
	// delivery (max attempts, max age, or permanent rejection).
	KindItemDropped Kind = "item_dropped"

	// KindDeliveryFailed reports a failed delivery cycle.
	KindDeliveryFailed Kind = "delivery_failed"

	// KindStorageDegraded reports a persistence failure the SDK survived.
	KindStorageDegraded Kind = "storage_degraded"
)

// Notice is one diagnostic entry.
type Notice struct {
	Kind      Kind
	Message   string
	EventID   string
	Sequence  int64
	Timestamp time.Time
}

// Notifier fans notices out to subscribers. The zero value is not usable;
// use NewNotifier.
type Notifier struct {
	mu      sync.RWMutex
	subs    map[int64]*subscriber
	nextID  atomic.Int64
	closed  atomic.Bool
	bufSize int

	dropped atomic.Int64 // notices dropped due to full subscriber buffers
}

type subscriber struct {
	ch   chan Notice
	done chan struct{}
}

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	// BufferSize is the per-subscriber channel buffer. Default: 64.
	BufferSize int
}

// NewNotifier creates a notifier.
func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	return &Notifier{
		subs:    make(map[int64]*subscriber),
		bufSize: cfg.BufferSize,
	}
}

// Publish delivers a notice to all subscribers without blocking.
// A zero Timestamp is filled in.
func (n *Notifier) Publish(notice Notice) {
	if n.closed.Load() {
		return
	}
	if notice.Timestamp.IsZero() {
		notice.Timestamp = time.Now()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, sub := range n.subs {
		select {
		case sub.ch <- notice:
		default:
			// Subscriber too slow; diagnostics never block producers.
			n.dropped.Add(1)
		}
	}
}

// Subscribe registers a handler invoked on its own goroutine for every
// notice. The returned cancel function removes the subscription.
func (n *Notifier) Subscribe(fn func(Notice)) (cancel func()) {
	if n.closed.Load() || fn == nil {
		return func() {}
	}

	sub := &subscriber{
		ch:   make(chan Notice, n.bufSize),
		done: make(chan struct{}),
	}
	id := n.nextID.Add(1)

	n.mu.Lock()
	n.subs[id] = sub
	n.mu.Unlock()

	go func() {
		for {
			select {
			case notice := <-sub.ch:
				fn(notice)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(sub.done)
		})
	}
}

// Dropped returns the number of notices dropped due to slow subscribers.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Close shuts down the notifier and all subscriptions.
func (n *Notifier) Close() {
	if !n.closed.CompareAndSwap(false, true) {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for id, sub := range n.subs {
		close(sub.done)
		delete(n.subs, id)
	}
}
