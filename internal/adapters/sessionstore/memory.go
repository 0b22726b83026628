package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/okian/songrank/internal/domain/session"
	"github.com/okian/songrank/pkg/metrics"
)

const backendMemory = "memory"

var recordLatency = metrics.RecordSessionStoreLatency

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL expires sessions not updated within ttl. Zero disables expiry.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if ttl >= 0 {
			m.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// MemoryStore keeps sessions in a map. Expired sessions are dropped lazily.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*session.Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) expired(s *session.Session) bool {
	return m.ttl > 0 && m.now().Sub(s.UpdatedAt) > m.ttl
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*session.Session, error) {
	defer observe(backendMemory, "get", time.Now())

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(s) {
		m.mu.Lock()
		if cur, ok := m.sessions[id]; ok && m.expired(cur) {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, s *session.Session) error {
	defer observe(backendMemory, "put", time.Now())
	if s == nil || s.ID == "" {
		return ErrNoID
	}
	m.mu.Lock()
	m.sessions[s.ID] = s.Clone()
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	defer observe(backendMemory, "delete", time.Now())
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, nil
	}
	delete(m.sessions, id)
	return !m.expired(s), nil
}

// Count implements Store. Expired sessions are swept first.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
		}
	}
	return len(m.sessions), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
