package sqldriver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	"github.com/txn2/dbsession/pkg/dbsession"
)

// lockTimeoutNoWait makes a lock conflict fail at once instead of waiting.
const lockTimeoutNoWait = "SET LOCAL lock_timeout = '1ms'"

// attachment is a session's connection. PostgreSQL runs one transaction per
// connection, so the shared read-only transaction lives on the dedicated
// conn while each write transaction takes its own connection from the pool.
type attachment struct {
	db      *sql.DB
	conn    *sql.Conn
	release func()

	mu     sync.Mutex
	broken bool
	closed bool
}

var _ dbsession.Attachment = (*attachment)(nil)

func newAttachment(db *sql.DB, conn *sql.Conn, release func()) *attachment {
	return &attachment{db: db, conn: conn, release: release}
}

// IsValid reports whether the dedicated connection is still usable.
func (a *attachment) IsValid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.broken && !a.closed
}

// observe marks the connection broken when err says the server side is gone.
func (a *attachment) observe(err error) {
	if !isConnLost(err) {
		return
	}
	a.mu.Lock()
	a.broken = true
	a.mu.Unlock()
}

// Begin starts a transaction. The read-only transaction outlives the request
// that started it, so it is not bound to ctx cancellation. A write
// transaction waits for a pooled connection only as long as ctx allows and
// ends with ctx.
func (a *attachment) Begin(ctx context.Context, opts dbsession.TxOptions) (dbsession.Transaction, error) {
	if !a.IsValid() {
		return nil, fmt.Errorf("beginning transaction: %w", sql.ErrConnDone)
	}

	txOpts := &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}

	var (
		tx  *sql.Tx
		err error
		t   *transaction
	)
	if opts.ReadOnly {
		tx, err = a.conn.BeginTx(context.WithoutCancel(ctx), txOpts)
		if err != nil {
			a.observe(err)
			return nil, fmt.Errorf("beginning read-only transaction: %w", err)
		}
		t = &transaction{tx: tx, att: a}
	} else {
		tx, err = a.db.BeginTx(ctx, txOpts)
		if err != nil {
			return nil, fmt.Errorf("beginning transaction: %w", err)
		}
		t = &transaction{tx: tx}
	}

	if opts.NoWait {
		if _, err := tx.ExecContext(ctx, lockTimeoutNoWait); err != nil {
			t.observe(err)
			_ = tx.Rollback()
			return nil, fmt.Errorf("setting lock timeout: %w", err)
		}
	}
	return t, nil
}

// Disconnect closes the dedicated connection for good instead of returning
// it to the pool, so the server ends whatever was left open on it. The read
// transaction must be finished first: an open *sql.Tx keeps the conn busy.
func (a *attachment) Disconnect(_ context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	if a.release != nil {
		defer a.release()
	}

	err := a.conn.Raw(func(any) error { return driver.ErrBadConn })
	if err == nil || isConnLost(err) {
		return nil
	}
	return fmt.Errorf("disconnecting: %w", err)
}

func isConnLost(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}
