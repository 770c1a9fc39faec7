package dbsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// WriteTxn is an exclusive read-write transaction on a session's connection.
// It must be finished with exactly one of Release, Commit or Rollback.
type WriteTxn struct {
	txQuerier
	releaseGuard

	id         string
	m          *Manager
	sessionID  string
	attachment Attachment
	fullDBName string
}

// StartTransaction takes one reference on the session and starts a new
// read-write transaction that is never shared with other callers.
func (m *Manager) StartTransaction(ctx context.Context, sessionID string) (*WriteTxn, error) {
	if err := m.gate.lock(ctx); err != nil {
		return nil, err
	}
	defer m.gate.unlock()

	sess, err := m.acquireLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	tx, err := sess.attachment.Begin(ctx, writeTxOptions)
	if err != nil {
		_, relErr := m.releaseLocked(sessionID)
		return nil, errors.Join(fmt.Errorf("starting transaction for session %q: %w", sessionID, err), relErr)
	}

	w := &WriteTxn{
		txQuerier:  txQuerier{tx: tx},
		id:         uuid.NewString(),
		m:          m,
		sessionID:  sessionID,
		attachment: sess.attachment,
		fullDBName: sess.fullDBName,
	}
	slog.Debug("dbsession: transaction started", "session_id", sessionID, "tx_id", w.id)
	return w, nil
}

// ID returns the correlation id of the transaction, used in logs.
func (t *WriteTxn) ID() string { return t.id }

// SessionID returns the session the transaction belongs to.
func (t *WriteTxn) SessionID() string { return t.sessionID }

// Attachment returns the session's connection.
func (t *WriteTxn) Attachment() Attachment { return t.attachment }

// Tx returns the underlying transaction.
func (t *WriteTxn) Tx() Transaction { return t.tx }

// FullDBName returns the connection target of the session.
func (t *WriteTxn) FullDBName() string { return t.fullDBName }

// Release commits the transaction when commit is true and rolls it back
// otherwise, then drops the reference on the session. The reference is
// dropped even when commit or rollback fails. Any call after the first
// returns ErrMultipleRelease.
func (t *WriteTxn) Release(ctx context.Context, commit bool) error {
	if err := t.claim(); err != nil {
		return fmt.Errorf("releasing transaction %s: %w", t.id, err)
	}

	var txErr error
	if t.tx.IsValid() {
		if commit {
			if err := t.tx.Commit(ctx); err != nil {
				txErr = fmt.Errorf("committing transaction %s: %w", t.id, err)
			}
		} else {
			if err := t.tx.Rollback(ctx); err != nil {
				txErr = fmt.Errorf("rolling back transaction %s: %w", t.id, err)
			}
		}
	}

	relErr := t.m.release(ctx, t.sessionID)
	if err := errors.Join(txErr, relErr); err != nil {
		slog.Warn("dbsession: transaction finished with error",
			"session_id", t.sessionID, "tx_id", t.id, "commit", commit, "error", err)
		return err
	}
	slog.Info("dbsession: transaction finished", "session_id", t.sessionID, "tx_id", t.id, "commit", commit)
	return nil
}

// Commit is Release(ctx, true).
func (t *WriteTxn) Commit(ctx context.Context) error {
	return t.Release(ctx, true)
}

// Rollback is Release(ctx, false).
func (t *WriteTxn) Rollback(ctx context.Context) error {
	return t.Release(ctx, false)
}

// GenerateID returns the next value of the named sequence.
func (t *WriteTxn) GenerateID(ctx context.Context, generator string) (int64, error) {
	query, args, err := psq.Select().Column(sq.Expr("nextval(?)", generator)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building id query: %w", err)
	}

	var id int64
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("generating id from %s: %w", generator, err)
	}
	return id, nil
}
