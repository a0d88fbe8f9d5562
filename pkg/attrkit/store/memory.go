package store

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory store for testing and for hosts that opt out
// of durable persistence. Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[int64]Item
	state  map[string][]byte
	closed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[int64]Item),
		state: make(map[string][]byte),
	}
}

// AppendItem implements Store.
func (m *MemoryStore) AppendItem(item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	// Copy payload to avoid retaining caller's slice
	payload := make([]byte, len(item.Payload))
	copy(payload, item.Payload)
	item.Payload = payload

	m.items[item.Sequence] = item
	return nil
}

// LoadItems implements Store.
func (m *MemoryStore) LoadItems() ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	items := make([]Item, 0, len(m.items))
	for _, item := range m.items {
		payload := make([]byte, len(item.Payload))
		copy(payload, item.Payload)
		item.Payload = payload
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Sequence < items[j].Sequence
	})

	return items, nil
}

// UpdateItem implements Store.
func (m *MemoryStore) UpdateItem(sequence int64, attempts int, nextAttemptAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	item, ok := m.items[sequence]
	if !ok {
		return ErrNotFound
	}

	item.Attempts = attempts
	item.NextAttemptAt = nextAttemptAt
	m.items[sequence] = item
	return nil
}

// DeleteItems implements Store.
func (m *MemoryStore) DeleteItems(sequences []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	for _, seq := range sequences {
		delete(m.items, seq)
	}
	return nil
}

// SaveState implements Store.
func (m *MemoryStore) SaveState(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	m.state[key] = stored
	return nil
}

// LoadState implements Store.
func (m *MemoryStore) LoadState(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	data, ok := m.state[key]
	if !ok {
		return nil, ErrNotFound
	}

	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// DeleteState implements Store.
func (m *MemoryStore) DeleteState(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.state, key)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.items = nil
	m.state = nil
	return nil
}

// Len returns the number of persisted queue items. Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
