package repository

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// ErrNotFound is returned when a row with the requested key does not exist
	ErrNotFound = errors.New("not found")
	// ErrVisitClosed is returned when ending a visit that already has an end time
	ErrVisitClosed = errors.New("visit already closed")
)

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
