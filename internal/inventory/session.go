package inventory

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session holds one user's in-progress ingredient selection. It is safe
// for concurrent use.
type Session struct {
	ID string

	mu       sync.Mutex
	selected []string
	lastUsed time.Time
}

// NewSession returns an empty session with a fresh ID.
func NewSession() *Session {
	return &Session{ID: uuid.New().String()}
}

// Selected returns a copy of the current selection in selection order.
func (s *Session) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.selected...)
}

// Toggle adds item if absent and removes it otherwise. It reports whether
// the item is selected afterwards.
func (s *Session) Toggle(item string) bool {
	item = strings.TrimSpace(item)
	if item == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.selected {
		if v == item {
			s.selected = append(s.selected[:i], s.selected[i+1:]...)
			return false
		}
	}
	s.selected = append(s.selected, item)
	return true
}

// Set replaces the selection with items, dropping blanks and duplicates.
func (s *Session) Set(items []string) {
	clean := dedupe(items)
	s.mu.Lock()
	s.selected = clean
	s.mu.Unlock()
}

// Load replaces the selection with the saved flat inventory. A missing
// inventory leaves the session empty.
func (s *Session) Load(files *Files) error {
	items, err := files.LoadFlat()
	if errors.Is(err, ErrNotFound) {
		s.Set(nil)
		return nil
	}
	if err != nil {
		return err
	}
	s.Set(items)
	return nil
}

// Save persists the selection restricted to categories and returns the
// categorized form that was written.
func (s *Session) Save(files *Files, categories CategoryMap) (CategoryMap, error) {
	selected := s.Selected()
	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}
	available := SelectAvailable(categories, selected)
	if err := files.Save(available, selected); err != nil {
		return nil, err
	}
	return available, nil
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := []string{}
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 30 * time.Minute

// SessionManager owns one Session per session ID. Sessions idle for longer
// than the TTL are dropped: Get no longer finds them and Create sweeps them.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager returns an empty manager using DefaultSessionTTL.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		ttl:      DefaultSessionTTL,
		now:      time.Now,
	}
}

// Create registers and returns a new session.
func (m *SessionManager) Create() *Session {
	s := NewSession()
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, old := range m.sessions {
		if m.expired(old, now) {
			delete(m.sessions, id)
		}
	}
	s.lastUsed = now
	m.sessions[s.ID] = s
	return s
}

// Get returns the session with the given ID and marks it used.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	now := m.now()
	if m.expired(s, now) {
		delete(m.sessions, id)
		return nil, false
	}
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
	return s, true
}

func (m *SessionManager) expired(s *Session, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUsed) > m.ttl
}

// Delete forgets the session with the given ID.
func (m *SessionManager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len returns the number of sessions held, expired ones included until the
// next sweep.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
