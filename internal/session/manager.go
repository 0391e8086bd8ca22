package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxSessions limits concurrent sessions to prevent memory exhaustion
const DefaultMaxSessions = 100

// SessionMaxAge is how long an idle session is kept before cleanup
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long to keep sessions that are actively being used
const SessionKeepAliveWindow = 5 * time.Minute

// ManagerConfig tunes a Manager. Zero values fall back to the defaults.
type ManagerConfig struct {
	MaxSessions int
	KeepAlive   time.Duration
	Session     Options
}

// Manager handles the active chat sessions.
type Manager struct {
	sessions    map[string]*Session
	mu          sync.RWMutex
	factory     ModelFactory
	opts        Options
	maxSessions int
	keepAlive   time.Duration
}

// NewManager creates a session manager. factory may be nil, in which case
// every API key is refused.
func NewManager(factory ModelFactory, cfg ManagerConfig) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = SessionKeepAliveWindow
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		factory:     factory,
		opts:        cfg.Session,
		maxSessions: cfg.MaxSessions,
		keepAlive:   cfg.KeepAlive,
	}
}

// Create starts a new empty session.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		if !m.evictOldestLocked() {
			return nil, ErrTooManySessions
		}
	}

	s := New(uuid.New().String(), m.factory, m.opts)
	m.sessions[s.ID()] = s
	fmt.Printf("[Manager] Created session %s (%d active)\n", shortID(s.ID()), len(m.sessions))
	return s, nil
}

// evictOldestLocked drops the least recently used idle session.
func (m *Manager) evictOldestLocked() bool {
	type candidate struct {
		id   string
		last time.Time
	}
	candidates := make([]candidate, 0, len(m.sessions))
	for id, s := range m.sessions {
		if s.Busy() {
			continue
		}
		candidates = append(candidates, candidate{id: id, last: s.LastAccessed()})
	}
	if len(candidates) == 0 {
		return false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].last.Before(candidates[j].last)
	})
	victim := candidates[0].id
	delete(m.sessions, victim)
	fmt.Printf("[Manager] Evicted session %s to free a slot\n", shortID(victim))
	return true
}

// Get returns a session by ID and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch()
	return s, nil
}

// TouchSession updates the LastAccessed timestamp for a session.
// This should be called whenever a session is actively being used
// to prevent it from being cleaned up.
func (m *Manager) TouchSession(id string) bool {
	_, err := m.Get(id)
	return err == nil
}

// Delete discards a session and everything it holds.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	fmt.Printf("[Manager] Deleted session %s\n", shortID(id))
	return true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupOldSessions removes sessions idle for longer than maxAge, but keeps
// sessions used within the keep-alive window or waiting on the model.
// It returns how many sessions were removed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-m.keepAlive)

	removed := 0
	for id, s := range m.sessions {
		if s.Busy() {
			continue
		}

		last := s.LastAccessed()
		// Don't clean up sessions that are actively being used
		if last.After(keepAliveCutoff) {
			continue
		}

		if last.Before(cutoff) {
			delete(m.sessions, id)
			removed++
			fmt.Printf("[Manager] Cleaned up idle session %s (last accessed: %s ago)\n",
				shortID(id), now.Sub(last).Round(time.Second))
		}
	}
	return removed
}

// shortID safely truncates an ID for logging (handles short IDs gracefully)
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
