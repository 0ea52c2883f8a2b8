package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"quotabot/core/logger"

	"log/slog"
)

// PostgresStore implements Store on top of the sessions table.
type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresStore creates a session store backed by the given database.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const upsertSQL = `
INSERT INTO sessions (id, user_id, chat_id, command_type, step, transaction_data, message_id, created_at, updated_at, expires_at)
VALUES (:id, :user_id, :chat_id, :command_type, :step, :transaction_data, :message_id, :created_at, :updated_at, :expires_at)
ON CONFLICT (user_id, chat_id, command_type) DO UPDATE SET
	step = EXCLUDED.step,
	transaction_data = EXCLUDED.transaction_data,
	message_id = EXCLUDED.message_id,
	updated_at = EXCLUDED.updated_at,
	expires_at = EXCLUDED.expires_at`

// Save upserts the whole session row keyed by (user, chat, kind).
func (p *PostgresStore) Save(ctx context.Context, s *Session) error {
	if s == nil {
		return errors.New("session: nil session")
	}
	s.UpdatedAt = p.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}
	if _, err := p.db.NamedExecContext(ctx, upsertSQL, s); err != nil {
		return fmt.Errorf("session save: %w", err)
	}
	return nil
}

// Load returns the live session for the triple; expired rows are filtered
// even if the sweep has not removed them yet.
func (p *PostgresStore) Load(ctx context.Context, userID, chatID int64, kind string) (*Session, error) {
	var s Session
	err := p.db.GetContext(ctx, &s,
		`SELECT * FROM sessions WHERE user_id = $1 AND chat_id = $2 AND command_type = $3 AND expires_at > $4`,
		userID, chatID, kind, p.now().UTC(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session load: %w", err)
	}
	return &s, nil
}

// LoadAny returns the most recently updated live session for (user, chat).
func (p *PostgresStore) LoadAny(ctx context.Context, userID, chatID int64) (*Session, error) {
	var s Session
	err := p.db.GetContext(ctx, &s,
		`SELECT * FROM sessions WHERE user_id = $1 AND chat_id = $2 AND expires_at > $3 ORDER BY updated_at DESC LIMIT 1`,
		userID, chatID, p.now().UTC(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session load: %w", err)
	}
	return &s, nil
}

// Delete removes the session row for the triple, live or expired.
func (p *PostgresStore) Delete(ctx context.Context, userID, chatID int64, kind string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1 AND chat_id = $2 AND command_type = $3`,
		userID, chatID, kind,
	)
	if err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// DeleteAll removes every session row for (user, chat).
func (p *PostgresStore) DeleteAll(ctx context.Context, userID, chatID int64) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1 AND chat_id = $2`,
		userID, chatID,
	)
	if err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// SweepExpired removes rows past their TTL and returns how many were dropped.
func (p *PostgresStore) SweepExpired(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, p.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("session sweep: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session sweep: %w", err)
	}
	if count > 0 {
		logger.Info(ctx, "session", "sweep",
			slog.Int64("deleted", count),
		)
	}
	return count, nil
}
