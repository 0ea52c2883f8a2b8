package session

import (
	"context"
	"sync"
	"time"
)

type memoryKey struct {
	userID int64
	chatID int64
	kind   string
}

// MemoryStore is an in-memory Store implementation for tests and development.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[memoryKey]Session

	// Now is swappable so tests can control expiry.
	Now func() time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[memoryKey]Session),
		Now:      time.Now,
	}
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = m.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}
	m.sessions[memoryKey{s.UserID, s.ChatID, s.Kind}] = *s
	return nil
}

func (m *MemoryStore) Load(_ context.Context, userID, chatID int64, kind string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[memoryKey{userID, chatID, kind}]
	if !ok || s.Expired(m.Now()) {
		return nil, ErrNotFound
	}
	out := s
	return &out, nil
}

func (m *MemoryStore) LoadAny(_ context.Context, userID, chatID int64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Session
	for key, s := range m.sessions {
		if key.userID != userID || key.chatID != chatID || s.Expired(m.Now()) {
			continue
		}
		if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
			copied := s
			best = &copied
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (m *MemoryStore) Delete(_ context.Context, userID, chatID int64, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, memoryKey{userID, chatID, kind})
	return nil
}

func (m *MemoryStore) DeleteAll(_ context.Context, userID, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.sessions {
		if key.userID == userID && key.chatID == chatID {
			delete(m.sessions, key)
		}
	}
	return nil
}

func (m *MemoryStore) SweepExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for key, s := range m.sessions {
		if s.Expired(m.Now()) {
			delete(m.sessions, key)
			count++
		}
	}
	return count, nil
}

// Len reports how many rows physically exist, expired included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
