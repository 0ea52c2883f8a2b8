// Package tracker keeps a durable log of chat messages belonging to a
// session so the owning command can clean up the conversation UI afterwards.
package tracker

import (
	"context"
	"time"
)

// Direction tells whether a tracked message was sent by the bot or the user.
type Direction string

const (
	// Incoming marks a message typed by the user.
	Incoming Direction = "incoming"
	// Outgoing marks a message sent by the bot.
	Outgoing Direction = "outgoing"
)

// Message is one tracked chat message.
type Message struct {
	SessionID string    `db:"session_id"`
	MessageID int       `db:"message_id"`
	Direction Direction `db:"message_type"`
	// IsLast flags the message to keep during cleanup; unique per session.
	IsLast    bool      `db:"is_last"`
	CreatedAt time.Time `db:"created_at"`
}

// Tracker records and lists the messages of a session. MarkLast clears the
// previous flag for the session before setting the new one, so at most one
// message per session carries IsLast.
type Tracker interface {
	Track(ctx context.Context, sessionID string, messageID int, dir Direction, isLast bool) error
	MarkLast(ctx context.Context, sessionID string, messageID int) error
	// List returns the session's messages ordered by insertion.
	List(ctx context.Context, sessionID string) ([]Message, error)
	// Remove drops the tracking row for one message.
	Remove(ctx context.Context, sessionID string, messageID int) error
	// Purge drops all tracking rows (not the chat messages themselves).
	Purge(ctx context.Context, sessionID string) error
}
