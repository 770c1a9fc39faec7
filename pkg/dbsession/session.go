package dbsession

import (
	"context"
	"log/slog"
	"time"
)

// sessionState is the connection state of a DBSession.
type sessionState int

const (
	// stateAbsent means there is no live connection: the session was never
	// connected, its connect failed, or its connection went bad.
	stateAbsent sessionState = iota

	// stateConnecting means a connect is in flight for the session.
	stateConnecting

	// stateActive means the session holds a valid connection.
	stateActive

	// stateClosed means the reaper disconnected the session; the record is
	// removed on a later sweep.
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateActive:
		return "active"
	case stateClosed:
		return "closed"
	default:
		return "absent"
	}
}

// DBSession is the per-session record. Every field is guarded by the
// manager's gate. readers counts the references in lock that were taken
// by GetReadTransaction.
type DBSession struct {
	id         string
	fullDBName string
	attachment Attachment
	readTx     Transaction
	lock       int
	readers    int
	touched    time.Time
	createdAt  time.Time
	state      sessionState
}

// status returns the record's state, demoting an active record whose
// attachment went bad to absent.
func (s *DBSession) status() sessionState {
	if s == nil {
		return stateAbsent
	}
	if s.state == stateActive && (s.attachment == nil || !s.attachment.IsValid()) {
		s.state = stateAbsent
	}
	return s.state
}

// hasReadTx reports whether the shared read transaction is usable.
func (s *DBSession) hasReadTx() bool {
	return s.readTx != nil && s.readTx.IsValid()
}

// dropReadTx rolls back a read transaction that went invalid so the
// dedicated connection is free for a new one.
func (s *DBSession) dropReadTx(ctx context.Context) {
	if s.readTx == nil {
		return
	}
	if err := s.readTx.Rollback(ctx); err != nil {
		slog.Debug("dbsession: rollback of invalid read transaction failed", "session_id", s.id, "error", err)
	}
	s.readTx = nil
}

// discard releases the native handles of a record whose connection went bad
// on its own. Failures are expected here and only logged at debug level.
func (s *DBSession) discard(ctx context.Context) {
	s.dropReadTx(ctx)
	if s.attachment != nil {
		if err := s.attachment.Disconnect(ctx); err != nil {
			slog.Debug("dbsession: disconnect of broken attachment failed", "session_id", s.id, "error", err)
		}
		s.attachment = nil
	}
}
