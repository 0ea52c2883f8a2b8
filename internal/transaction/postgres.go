package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresRepository implements Repository on top of the transactions table.
type PostgresRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresRepository creates a repository backed by the given database.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

const insertSQL = `
INSERT INTO transactions (family, category, amount, period_month, period_year, contact, user_id, username, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`

// Insert stores the record and fills in its generated id.
func (p *PostgresRepository) Insert(ctx context.Context, r *Record) error {
	if r == nil {
		return errors.New("transaction: nil record")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = p.now().UTC()
	}
	err := p.db.QueryRowxContext(ctx, insertSQL,
		r.Family, r.Category, r.Amount, r.Month, r.Year,
		r.Contact, r.UserID, r.Username, r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("transaction insert: %w", err)
	}
	return nil
}
