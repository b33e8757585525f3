// Package session manages console session lifecycle.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxHistory bounds the per-session statement history.
const maxHistory = 200

// Session holds per-connection console state: the statement history and
// the parameter bindings set with :set.
type Session struct {
	ID           string         `json:"id"`
	History      []string       `json:"history"`
	Params       map[string]any `json:"params"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActiveAt time.Time      `json:"last_active_at"`

	mu sync.Mutex
}

// NewSession creates an empty session.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.New().String(),
		Params:       make(map[string]any),
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Touch updates the last activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.LastActiveAt = time.Now()
	s.mu.Unlock()
}

// AddHistory appends a statement to the session history.
func (s *Session) AddHistory(stmt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, stmt)
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
	s.LastActiveAt = time.Now()
}

// Entries returns a copy of the history.
func (s *Session) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.History...)
}

// Bind sets a query parameter for later statements.
func (s *Session) Bind(name string, value any) {
	s.mu.Lock()
	s.Params[name] = value
	s.mu.Unlock()
}

// Unbind removes a query parameter. It reports whether it was bound.
func (s *Session) Unbind(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Params[name]
	delete(s.Params, name)
	return ok
}

// Bindings returns a copy of the parameters, merged with extra. Values in
// extra win.
func (s *Session) Bindings(extra map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.Params)+len(extra))
	for k, v := range s.Params {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// ParamNames returns the bound parameter names, sorted.
func (s *Session) ParamNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.Params))
	for k := range s.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IsExpired returns true if the session has exceeded the given max age.
func (s *Session) IsExpired(maxAge time.Duration) bool {
	return time.Since(s.CreatedAt) > maxAge
}

// IsIdle returns true if the session has been idle longer than the timeout.
func (s *Session) IsIdle(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.LastActiveAt) > timeout
}

// Manager handles session creation, lookup, and cleanup.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxAge      time.Duration
	idleTimeout time.Duration
}

// NewManager creates a session manager with the given timeouts.
func NewManager(maxAge, idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		maxAge:      maxAge,
		idleTimeout: idleTimeout,
	}
}

// Create creates a new session and returns it.
func (m *Manager) Create() *Session {
	s := NewSession()
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get retrieves a session by ID. Returns nil if not found or expired.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if m.stale(s) {
		m.Remove(id)
		return nil
	}
	return s
}

// Remove deletes a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup removes all expired and idle sessions.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if m.stale(s) {
			delete(m.sessions, id)
		}
	}
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

func (m *Manager) stale(s *Session) bool {
	return s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout)
}
