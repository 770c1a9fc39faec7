package dbsession

import (
	"context"
	"errors"
	"fmt"
)

// ReadTransaction is the session's shared read-only transaction.
type ReadTransaction struct {
	Attachment  Attachment
	Transaction Transaction
	FullDBName  string
}

// GetReadTransaction takes one reference on the session and returns its
// shared read transaction, starting it if there is none or the previous one
// went invalid. Every call must be matched by ReleaseReadTransaction.
func (m *Manager) GetReadTransaction(ctx context.Context, sessionID string) (*ReadTransaction, error) {
	if err := m.gate.lock(ctx); err != nil {
		return nil, err
	}
	defer m.gate.unlock()

	sess, err := m.acquireLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !sess.hasReadTx() {
		sess.dropReadTx(ctx)
		tx, err := sess.attachment.Begin(ctx, readTxOptions)
		if err != nil {
			_, relErr := m.releaseLocked(sessionID)
			return nil, errors.Join(fmt.Errorf("starting read transaction for session %q: %w", sessionID, err), relErr)
		}
		sess.readTx = tx
	}
	sess.readers++

	return &ReadTransaction{
		Attachment:  sess.attachment,
		Transaction: sess.readTx,
		FullDBName:  sess.fullDBName,
	}, nil
}

// ReleaseReadTransaction drops one reference taken by GetReadTransaction.
// The read transaction itself stays open for the next reader; only the
// reaper closes it. The reference is dropped even if the transaction went
// invalid or the session reconnected since. Releasing a session with no
// outstanding GetReadTransaction reference fails with ErrNoReadTransaction.
func (m *Manager) ReleaseReadTransaction(ctx context.Context, sessionID string) error {
	if err := m.gate.lock(ctx); err != nil {
		return err
	}
	defer m.gate.unlock()

	if sess, ok := m.sessions[sessionID]; ok && sess.readers < 1 {
		return fmt.Errorf("releasing read transaction of session %q: %w", sessionID, ErrNoReadTransaction)
	}

	sess, err := m.releaseLocked(sessionID)
	if sess != nil {
		sess.readers--
	}
	return err
}

// ReadTxn is a handle on the shared read transaction with a one-shot Release.
type ReadTxn struct {
	txQuerier
	releaseGuard

	m          *Manager
	sessionID  string
	attachment Attachment
	fullDBName string
}

// AcquireReadTransaction is GetReadTransaction returning a handle whose
// Release may be deferred and also called explicitly; any call after the
// first returns ErrMultipleRelease.
func (m *Manager) AcquireReadTransaction(ctx context.Context, sessionID string) (*ReadTxn, error) {
	rt, err := m.GetReadTransaction(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &ReadTxn{
		txQuerier:  txQuerier{tx: rt.Transaction},
		m:          m,
		sessionID:  sessionID,
		attachment: rt.Attachment,
		fullDBName: rt.FullDBName,
	}, nil
}

// SessionID returns the session the handle belongs to.
func (t *ReadTxn) SessionID() string { return t.sessionID }

// Attachment returns the session's connection.
func (t *ReadTxn) Attachment() Attachment { return t.attachment }

// Tx returns the shared read transaction.
func (t *ReadTxn) Tx() Transaction { return t.tx }

// FullDBName returns the connection target of the session.
func (t *ReadTxn) FullDBName() string { return t.fullDBName }

// Release drops the handle's reference on the session.
func (t *ReadTxn) Release(ctx context.Context) error {
	if err := t.claim(); err != nil {
		return fmt.Errorf("releasing read transaction of session %q: %w", t.sessionID, err)
	}
	return t.m.ReleaseReadTransaction(ctx, t.sessionID)
}
