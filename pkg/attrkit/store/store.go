// Package store provides durable persistence for queued events and SDK state.
//
// The store is the write-ahead layer behind the event queue: an accepted
// event is persisted before enqueue returns, so queued items survive
// process restarts. A separate key/value state table holds long-lived SDK
// state such as the visitor identity and the first-touch attribution record.
package store

import (
	"errors"
	"time"
)

// Item is a persisted queue row: a serialized event plus delivery metadata.
type Item struct {
	// Sequence is the monotonically increasing send-order number,
	// assigned by the queue under its writer lock.
	Sequence int64

	// EventID is the unique event identifier, kept denormalized for
	// diagnostics and acknowledgement by id.
	EventID string

	// Payload is the serialized event.
	Payload []byte

	// Attempts is the number of delivery attempts made so far.
	Attempts int

	// NextAttemptAt is the earliest time the item is eligible for delivery.
	NextAttemptAt time.Time

	// EnqueuedAt is when the item was accepted.
	EnqueuedAt time.Time
}

// Store persists queue items and SDK state.
// Implementations must be safe for concurrent use; mutations are expected
// to come from a single logical writer at a time.
type Store interface {
	// AppendItem persists a new queue item. The caller assigns the sequence.
	AppendItem(item Item) error

	// LoadItems returns all persisted queue items in ascending sequence order.
	// Returns an empty slice (not an error) when the queue is empty.
	LoadItems() ([]Item, error)

	// UpdateItem rewrites the delivery metadata for an item.
	// Returns ErrNotFound if the sequence doesn't exist.
	UpdateItem(sequence int64, attempts int, nextAttemptAt time.Time) error

	// DeleteItems removes items by sequence. Unknown sequences are ignored.
	DeleteItems(sequences []int64) error

	// SaveState stores an SDK state blob under a key, overwriting any
	// previous value.
	SaveState(key string, data []byte) error

	// LoadState retrieves an SDK state blob.
	// Returns ErrNotFound if the key doesn't exist.
	LoadState(key string) ([]byte, error)

	// DeleteState removes an SDK state blob. Returns nil if the key
	// doesn't exist.
	DeleteState(key string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested row doesn't exist.
	ErrNotFound = errors.New("store: not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store: closed")
)

// Well-known state keys.
const (
	// StateVisitorID holds the persistent anonymous visitor identifier.
	StateVisitorID = "identity.visitor_id"

	// StateUserID holds the bound user identifier after identification.
	StateUserID = "identity.user_id"

	// StateFirstTouch holds the serialized first-touch attribution record.
	StateFirstTouch = "attribution.first_touch"

	// StateConversionValue holds the last reported conversion value.
	StateConversionValue = "conversion.value"
)
