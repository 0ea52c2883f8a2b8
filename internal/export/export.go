// Package export defines the spreadsheet-sync collaborator used after a
// transaction is written. Sync is strictly secondary: the database write is
// the source of truth and exporter failures never roll it back.
package export

import (
	"context"
	"errors"
)

// ErrNotConfigured signals that no export backend is set up. Callers treat
// it as "skip silently"; any other error should reach the user as a
// warning.
var ErrNotConfigured = errors.New("export: not configured")

// Exporter appends one row to the configured sheet.
type Exporter interface {
	Append(ctx context.Context, row []string) error
}

// Disabled is the exporter used when no spreadsheet is configured.
type Disabled struct{}

func (Disabled) Append(context.Context, []string) error { return ErrNotConfigured }
