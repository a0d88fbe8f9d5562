// Package session derives session identity and timeout semantics.
//
// A session is Active until no activity has been observed for the
// configured timeout (30 minutes by default), then Expired. The next
// activity after expiry rotates to a fresh session identifier. Both
// UI-triggered and background-triggered events may stamp sessions
// concurrently, so all session state is mutex-guarded.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is the inactivity window after which a session expires.
const DefaultTimeout = 30 * time.Minute

// Session is a point-in-time snapshot of the current session.
type Session struct {
	ID           string
	StartedAt    time.Time
	LastActivity time.Time
}

// Manager owns session identity. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	timeout time.Duration
	now     func() time.Time

	id           string
	startedAt    time.Time
	lastActivity time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a session manager. A non-positive timeout falls back
// to DefaultTimeout.
func NewManager(timeout time.Duration, opts ...Option) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Manager{
		timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Touch records activity and returns the session to stamp onto an event.
// If the previous session has expired (or none exists), a new identifier
// is generated.
func (m *Manager) Touch() Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.expiredLocked(now) {
		m.id = uuid.New().String()
		m.startedAt = now
	}
	m.lastActivity = now

	return Session{ID: m.id, StartedAt: m.startedAt, LastActivity: m.lastActivity}
}

// Heartbeat records activity without returning a session. Used for
// app-foreground transitions, which count against the inactivity timeout
// the same way events do.
func (m *Manager) Heartbeat() {
	m.Touch()
}

// Current returns the session snapshot without recording activity, and
// whether it is still active. Before any Touch the session is zero-valued
// and inactive.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Session{ID: m.id, StartedAt: m.startedAt, LastActivity: m.lastActivity}
	return s, m.id != "" && !m.expiredLocked(m.now())
}

// Reset discards the current session so the next activity starts a new one.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.id = ""
	m.startedAt = time.Time{}
	m.lastActivity = time.Time{}
}

func (m *Manager) expiredLocked(now time.Time) bool {
	if m.id == "" {
		return true
	}
	return now.Sub(m.lastActivity) > m.timeout
}
