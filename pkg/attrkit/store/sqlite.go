package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists queue items and SDK state to SQLite.
// It is the production store for embedded single-process use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite store.
// The path should be a file path (e.g., "./attrkit.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_items (
			sequence INTEGER PRIMARY KEY,
			event_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			attempts INTEGER NOT NULL,
			next_attempt_at TEXT NOT NULL,
			enqueued_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create queue table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sdk_state (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// AppendItem implements Store.
func (s *SQLiteStore) AppendItem(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO queue_items (sequence, event_id, payload, attempts, next_attempt_at, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.Sequence, item.EventID, item.Payload, item.Attempts,
		item.NextAttemptAt.UTC().Format(time.RFC3339Nano),
		item.EnqueuedAt.UTC().Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("append item: %w", err)
	}
	return nil
}

// LoadItems implements Store.
func (s *SQLiteStore) LoadItems() ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT sequence, event_id, payload, attempts, next_attempt_at, enqueued_at
		FROM queue_items
		ORDER BY sequence
	`)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		var nextAt, enqAt string
		if err := rows.Scan(&item.Sequence, &item.EventID, &item.Payload, &item.Attempts, &nextAt, &enqAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.NextAttemptAt, _ = time.Parse(time.RFC3339Nano, nextAt)
		item.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqAt)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return items, nil
}

// UpdateItem implements Store.
func (s *SQLiteStore) UpdateItem(sequence int64, attempts int, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(`
		UPDATE queue_items SET attempts = ?, next_attempt_at = ?
		WHERE sequence = ?
	`, attempts, nextAttemptAt.UTC().Format(time.RFC3339Nano), sequence)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteItems implements Store.
func (s *SQLiteStore) DeleteItems(sequences []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(sequences) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sequences)), ",")
	args := make([]any, len(sequences))
	for i, seq := range sequences {
		args[i] = seq
	}

	_, err := s.db.Exec(
		"DELETE FROM queue_items WHERE sequence IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	return nil
}

// SaveState implements Store.
func (s *SQLiteStore) SaveState(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO sdk_state (key, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, key, data, time.Now().UTC().Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadState implements Store.
func (s *SQLiteStore) LoadState(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRow(`
		SELECT data FROM sdk_state WHERE key = ?
	`, key).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return data, nil
}

// DeleteState implements Store.
func (s *SQLiteStore) DeleteState(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec("DELETE FROM sdk_state WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
