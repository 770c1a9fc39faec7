package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/txn2/dbsession/pkg/dbsession"
)

// transaction wraps *sql.Tx and tracks whether it is finished. att is set
// only for transactions running on the session's dedicated connection.
type transaction struct {
	tx   *sql.Tx
	att  *attachment
	done atomic.Bool
}

var _ dbsession.Transaction = (*transaction)(nil)

// IsValid reports whether the transaction is open. A transaction on the
// dedicated connection also goes invalid with that connection; a write
// transaction holds its own pooled connection and does not.
func (t *transaction) IsValid() bool {
	if t.done.Load() {
		return false
	}
	return t.att == nil || t.att.IsValid()
}

// observe records a failed statement. PostgreSQL aborts a transaction on
// any statement error, so the shared read transaction is done after the
// first one and the next reader gets a fresh transaction. A write
// transaction belongs to a single caller, who sees the error and rolls back.
func (t *transaction) observe(err error) {
	if err == nil {
		return
	}
	if t.att != nil || errors.Is(err, sql.ErrTxDone) || isConnLost(err) {
		t.done.Store(true)
	}
	if t.att != nil {
		t.att.observe(err)
	}
}

// Commit commits the transaction.
func (t *transaction) Commit(_ context.Context) error {
	err := t.tx.Commit()
	t.done.Store(true)
	if err != nil {
		t.observe(err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback rolls the transaction back.
func (t *transaction) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	t.done.Store(true)
	if err != nil {
		t.observe(err)
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// ExecContext runs a statement that returns no rows.
func (t *transaction) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	t.observe(err)
	return res, err
}

// QueryContext runs a statement that returns rows.
func (t *transaction) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	t.observe(err)
	return rows, err
}

// QueryRowContext runs a statement expected to return at most one row.
// Errors surface on Scan and are not observed here.
func (t *transaction) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}
