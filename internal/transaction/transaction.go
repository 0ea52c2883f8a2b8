// Package transaction persists the financial records produced by completed
// registration flows.
package transaction

import (
	"context"
	"time"
)

// Record is one registered payment.
type Record struct {
	ID       int64   `db:"id"`
	Family   string  `db:"family"`
	Category string  `db:"category"`
	Amount   float64 `db:"amount"`
	// Month and Year are the period the payment covers.
	Month     int       `db:"period_month"`
	Year      int       `db:"period_year"`
	Contact   string    `db:"contact"`
	UserID    int64     `db:"user_id"`
	Username  string    `db:"username"`
	CreatedAt time.Time `db:"created_at"`
}

// Repository stores records.
type Repository interface {
	Insert(ctx context.Context, r *Record) error
}
