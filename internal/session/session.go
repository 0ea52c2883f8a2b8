// Package session persists the durable state of in-progress conversations.
// A session is keyed by (user, chat, command kind); at most one live row may
// exist per triple.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no live session exists for the requested key.
var ErrNotFound = errors.New("session: not found")

// Session is the unit of conversational state.
type Session struct {
	ID     string `db:"id"`
	UserID int64  `db:"user_id"`
	ChatID int64  `db:"chat_id"`
	Kind   string `db:"command_type"`
	// Step is the command-specific step identifier the conversation is on.
	Step string `db:"step"`
	// Data is the owning command's payload, serialized as an opaque blob.
	Data []byte `db:"transaction_data"`
	// LastMessageID is the transport id of the last outgoing prompt; 0 when unset.
	LastMessageID int       `db:"message_id"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
	ExpiresAt     time.Time `db:"expires_at"`
}

// Expired reports whether the session is past its TTL at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store is the durable session record. Save is an atomic whole-row upsert:
// concurrent saves for the same triple resolve last-writer-wins, never as
// interleaved partial field writes.
type Store interface {
	Save(ctx context.Context, s *Session) error
	// Load returns the live session for the triple, filtering expired rows.
	Load(ctx context.Context, userID, chatID int64, kind string) (*Session, error)
	// LoadAny returns any live session for (user, chat), regardless of kind.
	LoadAny(ctx context.Context, userID, chatID int64) (*Session, error)
	Delete(ctx context.Context, userID, chatID int64, kind string) error
	// DeleteAll removes every session for (user, chat); used by explicit cancel.
	DeleteAll(ctx context.Context, userID, chatID int64) error
	// SweepExpired physically removes rows past their TTL and returns the count.
	SweepExpired(ctx context.Context) (int64, error)
}
