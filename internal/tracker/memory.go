package tracker

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker is an in-memory Tracker implementation for tests.
type MemoryTracker struct {
	mu       sync.Mutex
	messages map[string][]Message
	seq      int
}

// NewMemoryTracker constructs an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{messages: make(map[string][]Message)}
}

func (m *MemoryTracker) Track(_ context.Context, sessionID string, messageID int, dir Direction, isLast bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[sessionID]
	if isLast {
		for i := range msgs {
			msgs[i].IsLast = false
		}
	}
	m.seq++
	msgs = append(msgs, Message{
		SessionID: sessionID,
		MessageID: messageID,
		Direction: dir,
		IsLast:    isLast,
		CreatedAt: time.Unix(int64(m.seq), 0),
	})
	m.messages[sessionID] = msgs
	return nil
}

func (m *MemoryTracker) MarkLast(_ context.Context, sessionID string, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[sessionID]
	for i := range msgs {
		msgs[i].IsLast = msgs[i].MessageID == messageID
	}
	return nil
}

func (m *MemoryTracker) List(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages[sessionID]))
	copy(out, m.messages[sessionID])
	return out, nil
}

func (m *MemoryTracker) Remove(_ context.Context, sessionID string, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[sessionID]
	out := msgs[:0]
	for _, msg := range msgs {
		if msg.MessageID != messageID {
			out = append(out, msg)
		}
	}
	m.messages[sessionID] = out
	return nil
}

func (m *MemoryTracker) Purge(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, sessionID)
	return nil
}
