// Package queue implements the durable FIFO event queue.
//
// Accepted events are written ahead to the persistent store before
// Enqueue returns, so no accepted event is lost across process restarts
// short of a store failure, which is reported rather than swallowed. Items
// carry monotonically increasing sequence numbers that preserve send
// order across batches and restarts.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/attrkit/attrkit/pkg/attrkit/diag"
	akerrors "github.com/attrkit/attrkit/pkg/attrkit/errors"
	"github.com/attrkit/attrkit/pkg/attrkit/event"
	"github.com/attrkit/attrkit/pkg/attrkit/store"
)

// Default ceilings. Items exceeding either are dropped with a diagnostic
// notice rather than retried indefinitely.
const (
	DefaultMaxAttempts = 8
	DefaultMaxAge      = 7 * 24 * time.Hour
)

// Item wraps an event with delivery metadata. Items are created on
// enqueue, mutated only by the queue, and deleted on confirmed delivery
// or when a ceiling is exceeded.
type Item struct {
	Sequence      int64
	Event         event.Event
	Attempts      int
	NextAttemptAt time.Time
	EnqueuedAt    time.Time
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Size      int   // items currently queued
	Enqueued  int64 // total accepted
	Delivered int64 // total acknowledged
	Dropped   int64 // total dropped (ceilings or permanent failures)
}

// Config configures a Queue. Zero fields take defaults.
type Config struct {
	// MaxAttempts is the delivery attempt ceiling per item.
	MaxAttempts int

	// MaxAge is the queue age ceiling per item.
	MaxAge time.Duration

	// Backoff computes retry delays.
	Backoff akerrors.BackoffConfig

	// Logger for queue lifecycle logging. Nil disables logging.
	Logger *slog.Logger

	// Notifier receives non-fatal loss notices. Optional.
	Notifier *diag.Notifier

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// Queue is the durable event buffer. All mutating operations are
// serialized through one mutex, so concurrent producers never interleave
// partial writes or duplicate sequence numbers.
type Queue struct {
	mu    sync.Mutex
	st    store.Store
	cfg   Config
	items []*Item // ascending sequence order
	next  int64

	enqueued  int64
	delivered int64
	dropped   int64
}

// New creates a queue over the given store and recovers any items
// persisted by a previous process. Corrupt rows are dropped with a
// diagnostic notice rather than poisoning recovery.
func New(st store.Store, cfg Config) (*Queue, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Backoff == (akerrors.BackoffConfig{}) {
		cfg.Backoff = akerrors.DefaultBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	q := &Queue{st: st, cfg: cfg, next: 1}

	rows, err := st.LoadItems()
	if err != nil {
		return nil, &akerrors.StorageError{Op: "recover queue", Err: err}
	}

	var corrupt []int64
	for _, row := range rows {
		var evt event.Event
		if err := json.Unmarshal(row.Payload, &evt); err != nil {
			corrupt = append(corrupt, row.Sequence)
			q.notifyDrop(row.Sequence, row.EventID, "corrupt payload on recovery")
			continue
		}
		q.items = append(q.items, &Item{
			Sequence:      row.Sequence,
			Event:         evt,
			Attempts:      row.Attempts,
			NextAttemptAt: row.NextAttemptAt,
			EnqueuedAt:    row.EnqueuedAt,
		})
		if row.Sequence >= q.next {
			q.next = row.Sequence + 1
		}
	}

	if len(corrupt) > 0 {
		if err := st.DeleteItems(corrupt); err != nil && q.cfg.Logger != nil {
			q.cfg.Logger.Warn("delete corrupt rows failed", slog.String("error", err.Error()))
		}
		q.dropped += int64(len(corrupt))
	}

	return q, nil
}

// Enqueue accepts a fully-formed event, persists it write-ahead, and
// assigns the next sequence number. On a store failure the event is NOT
// queued and a StorageError is returned so the caller knows delivery is
// not guaranteed.
func (q *Queue) Enqueue(evt event.Event) (Item, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Item{}, &akerrors.ValidationError{Field: "properties", Message: fmt.Sprintf("event not serializable: %v", err)}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.cfg.Clock()
	item := &Item{
		Sequence:      q.next,
		Event:         evt,
		NextAttemptAt: now,
		EnqueuedAt:    now,
	}

	// Write-ahead: the item is durable before Enqueue returns.
	if err := q.st.AppendItem(store.Item{
		Sequence:      item.Sequence,
		EventID:       evt.ID,
		Payload:       payload,
		Attempts:      0,
		NextAttemptAt: item.NextAttemptAt,
		EnqueuedAt:    item.EnqueuedAt,
	}); err != nil {
		return Item{}, &akerrors.StorageError{Op: "enqueue", Err: err}
	}

	q.next++
	q.items = append(q.items, item)
	q.enqueued++

	if q.cfg.Logger != nil {
		q.cfg.Logger.Debug("event enqueued",
			slog.String("event_id", evt.ID),
			slog.String("event_name", evt.Name),
			slog.Int64("sequence", item.Sequence),
		)
	}

	return *item, nil
}

// DequeueBatch returns up to max items whose next-attempt time has
// passed, in ascending sequence order. Items past the age ceiling are
// dropped here instead of being handed out.
func (q *Queue) DequeueBatch(max int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.cfg.Clock()
	q.dropExpiredLocked(now)

	batch := make([]Item, 0, max)
	for _, item := range q.items {
		if len(batch) >= max {
			break
		}
		if !item.NextAttemptAt.After(now) {
			batch = append(batch, *item)
		}
	}
	return batch
}

// Acknowledge removes delivered items from both memory and store. A
// store failure is reported as a StorageError but the items still leave
// the in-memory index, so delivered batches are never dequeued again.
func (q *Queue) Acknowledge(sequences []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var storeErr error
	if err := q.st.DeleteItems(sequences); err != nil {
		// Memory stays authoritative for this process; the stale rows
		// cost at most a duplicate send after a restart. Keeping the
		// items queued would redeliver them every cycle.
		q.notifyStorage(fmt.Sprintf("delete %d acknowledged items: %v", len(sequences), err))
		storeErr = &akerrors.StorageError{Op: "acknowledge", Err: err}
	}

	removed := q.removeLocked(sequences)
	q.delivered += int64(removed)
	return storeErr
}

// Requeue schedules failed items for retry with exponential backoff.
// Items past the attempt or age ceiling are dropped and reported.
func (q *Queue) Requeue(sequences []int64) error {
	return q.requeue(sequences, 0)
}

// RequeueAfter is Requeue honoring a server-specified delay (e.g. a 429
// Retry-After) instead of the computed backoff.
func (q *Queue) RequeueAfter(sequences []int64, delay time.Duration) error {
	return q.requeue(sequences, delay)
}

func (q *Queue) requeue(sequences []int64, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.cfg.Clock()
	var drop []int64

	for _, seq := range sequences {
		item := q.findLocked(seq)
		if item == nil {
			continue
		}

		item.Attempts++
		if item.Attempts >= q.cfg.MaxAttempts || now.Sub(item.EnqueuedAt) > q.cfg.MaxAge {
			drop = append(drop, seq)
			q.notifyDrop(seq, item.Event.ID, "retry ceiling exceeded")
			continue
		}

		next := delay
		if next <= 0 {
			next = q.cfg.Backoff.Delay(item.Attempts)
		}
		item.NextAttemptAt = now.Add(next)

		if err := q.st.UpdateItem(seq, item.Attempts, item.NextAttemptAt); err != nil {
			// Memory stays authoritative for this process; the stale
			// row only costs an extra retry after a restart.
			q.notifyStorage(fmt.Sprintf("update retry metadata for sequence %d: %v", seq, err))
		}

		if q.cfg.Logger != nil {
			q.cfg.Logger.Debug("item requeued",
				slog.Int64("sequence", seq),
				slog.Int("attempts", item.Attempts),
				slog.Duration("delay", next),
			)
		}
	}

	if len(drop) > 0 {
		q.discardLocked(drop)
	}
	return nil
}

// Discard drops items without delivery, reporting each as a non-fatal
// loss. Used for permanently rejected batches.
func (q *Queue) Discard(sequences []int64, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, seq := range sequences {
		if item := q.findLocked(seq); item != nil {
			q.notifyDrop(seq, item.Event.ID, reason)
		}
	}
	q.discardLocked(sequences)
	return nil
}

// Size returns the number of queued items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Size:      len(q.items),
		Enqueued:  q.enqueued,
		Delivered: q.delivered,
		Dropped:   q.dropped,
	}
}

// dropExpiredLocked removes items past the age ceiling.
func (q *Queue) dropExpiredLocked(now time.Time) {
	var drop []int64
	for _, item := range q.items {
		if now.Sub(item.EnqueuedAt) > q.cfg.MaxAge {
			drop = append(drop, item.Sequence)
			q.notifyDrop(item.Sequence, item.Event.ID, "age ceiling exceeded")
		}
	}
	if len(drop) > 0 {
		q.discardLocked(drop)
	}
}

func (q *Queue) discardLocked(sequences []int64) {
	if err := q.st.DeleteItems(sequences); err != nil {
		q.notifyStorage(fmt.Sprintf("delete dropped items: %v", err))
	}
	removed := q.removeLocked(sequences)
	q.dropped += int64(removed)
}

// removeLocked deletes items from the in-memory index, preserving order,
// and returns how many were removed.
func (q *Queue) removeLocked(sequences []int64) int {
	if len(sequences) == 0 {
		return 0
	}
	set := make(map[int64]struct{}, len(sequences))
	for _, seq := range sequences {
		set[seq] = struct{}{}
	}

	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if _, ok := set[item.Sequence]; ok {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	return removed
}

func (q *Queue) findLocked(sequence int64) *Item {
	for _, item := range q.items {
		if item.Sequence == sequence {
			return item
		}
	}
	return nil
}

func (q *Queue) notifyDrop(sequence int64, eventID, reason string) {
	if q.cfg.Logger != nil {
		q.cfg.Logger.Warn("event dropped",
			slog.Int64("sequence", sequence),
			slog.String("event_id", eventID),
			slog.String("reason", reason),
		)
	}
	if q.cfg.Notifier != nil {
		q.cfg.Notifier.Publish(diag.Notice{
			Kind:     diag.KindItemDropped,
			Message:  reason,
			EventID:  eventID,
			Sequence: sequence,
		})
	}
}

func (q *Queue) notifyStorage(msg string) {
	if q.cfg.Logger != nil {
		q.cfg.Logger.Warn("storage degraded", slog.String("detail", msg))
	}
	if q.cfg.Notifier != nil {
		q.cfg.Notifier.Publish(diag.Notice{Kind: diag.KindStorageDegraded, Message: msg})
	}
}
