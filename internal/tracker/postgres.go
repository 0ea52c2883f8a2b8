package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresTracker implements Tracker on top of the session_messages table.
type PostgresTracker struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresTracker creates a tracker backed by the given database.
func NewPostgresTracker(db *sqlx.DB) *PostgresTracker {
	return &PostgresTracker{db: db, now: time.Now}
}

func (p *PostgresTracker) Track(ctx context.Context, sessionID string, messageID int, dir Direction, isLast bool) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tracker track: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if isLast {
		if _, err := tx.ExecContext(ctx,
			`UPDATE session_messages SET is_last = FALSE WHERE session_id = $1 AND is_last`, sessionID); err != nil {
			return fmt.Errorf("tracker track: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_messages (session_id, message_id, message_type, is_last, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id, message_id) DO UPDATE SET message_type = EXCLUDED.message_type, is_last = EXCLUDED.is_last`,
		sessionID, messageID, dir, isLast, p.now().UTC()); err != nil {
		return fmt.Errorf("tracker track: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tracker track: %w", err)
	}
	return nil
}

func (p *PostgresTracker) MarkLast(ctx context.Context, sessionID string, messageID int) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tracker mark last: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE session_messages SET is_last = FALSE WHERE session_id = $1 AND is_last`, sessionID); err != nil {
		return fmt.Errorf("tracker mark last: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE session_messages SET is_last = TRUE WHERE session_id = $1 AND message_id = $2`,
		sessionID, messageID); err != nil {
		return fmt.Errorf("tracker mark last: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tracker mark last: %w", err)
	}
	return nil
}

func (p *PostgresTracker) List(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	err := p.db.SelectContext(ctx, &out,
		`SELECT session_id, message_id, message_type, is_last, created_at
		 FROM session_messages WHERE session_id = $1 ORDER BY created_at, message_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("tracker list: %w", err)
	}
	return out, nil
}

func (p *PostgresTracker) Remove(ctx context.Context, sessionID string, messageID int) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM session_messages WHERE session_id = $1 AND message_id = $2`, sessionID, messageID); err != nil {
		return fmt.Errorf("tracker remove: %w", err)
	}
	return nil
}

func (p *PostgresTracker) Purge(ctx context.Context, sessionID string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM session_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("tracker purge: %w", err)
	}
	return nil
}
