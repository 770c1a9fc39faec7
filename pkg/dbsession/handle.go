package dbsession

import (
	"context"
	"database/sql"
	"sync/atomic"
)

// releaseGuard turns a second release into ErrMultipleRelease instead of a
// silent reference-count corruption.
type releaseGuard struct {
	released atomic.Bool
}

func (g *releaseGuard) claim() error {
	if !g.released.CompareAndSwap(false, true) {
		return ErrMultipleRelease
	}
	return nil
}

// Released reports whether the release has already been called.
func (g *releaseGuard) Released() bool {
	return g.released.Load()
}

// txQuerier provides the query helpers shared by read and write handles.
type txQuerier struct {
	tx Transaction
}

// Exec runs a statement that returns no rows.
func (q txQuerier) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.tx.ExecContext(ctx, query, args...)
}

// Query runs a statement that returns rows.
func (q txQuerier) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.tx.QueryContext(ctx, query, args...)
}

// QueryRow runs a statement expected to return at most one row.
func (q txQuerier) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.tx.QueryRowContext(ctx, query, args...)
}
