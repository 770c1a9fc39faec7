package dbsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SweepResult summarizes one reaper pass.
type SweepResult struct {
	// Closed counts idle sessions whose connection was disconnected.
	Closed int

	// Removed counts records deleted from the session table.
	Removed int

	// Failed counts idle sessions whose cleanup failed; they are retried on
	// the next sweep.
	Failed int
}

// StartReaper starts the background goroutine that sweeps idle sessions
// every IdleTimeout. It is stopped by Dispose. Calling it twice is a no-op.
func (m *Manager) StartReaper() {
	m.reaperMu.Lock()
	defer m.reaperMu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)

		ticker := time.NewTicker(m.idleTimeout)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := m.Sweep(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						slog.Warn("dbsession: sweep failed", "error", err)
					}
					continue
				}
				if res.Closed+res.Removed+res.Failed > 0 {
					slog.Debug("dbsession: sweep finished",
						"closed", res.Closed, "removed", res.Removed, "failed", res.Failed)
				}
			}
		}
	}(m.done)
}

// stopReaper stops the reaper goroutine and waits for it to exit.
func (m *Manager) stopReaper() {
	m.reaperMu.Lock()
	defer m.reaperMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

// Sweep runs one reaper pass under the gate. Unlocked sessions idle for
// longer than IdleTimeout get their read transaction committed and their
// connection disconnected. Unlocked records whose connection is gone are
// deleted, except those disconnected in this same pass: they go on the next
// one, so a failed disconnect is retried instead of orphaning the handle.
// Sessions with outstanding references are never touched.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	if err := m.gate.lock(ctx); err != nil {
		return SweepResult{}, err
	}
	defer m.gate.unlock()

	var res SweepResult
	now := m.now()
	handled := make(map[string]struct{})

	for id, sess := range m.sessions {
		if sess.lock > 0 || now.Sub(sess.touched) <= m.idleTimeout || sess.status() != stateActive {
			continue
		}
		handled[id] = struct{}{}
		if err := closeIdle(ctx, sess); err != nil {
			slog.Warn("dbsession: closing idle session failed", "session_id", id, "error", err)
		}
		if sess.state == stateClosed {
			res.Closed++
		} else {
			res.Failed++
		}
	}

	for id, sess := range m.sessions {
		if _, ok := handled[id]; ok || sess.lock > 0 {
			continue
		}
		switch sess.status() {
		case stateAbsent:
			sess.discard(ctx)
		case stateClosed:
		default:
			continue
		}
		delete(m.sessions, id)
		res.Removed++
	}

	return res, nil
}

// closeIdle commits the session's read transaction and disconnects it. A
// commit failure does not prevent the disconnect.
func closeIdle(ctx context.Context, sess *DBSession) error {
	var errs []error
	if sess.hasReadTx() {
		if err := sess.readTx.Commit(ctx); err != nil {
			errs = append(errs, fmt.Errorf("committing read transaction: %w", err))
		}
	}

	if err := sess.attachment.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disconnecting: %w", err))
		return errors.Join(errs...)
	}

	sess.readTx = nil
	sess.state = stateClosed
	return errors.Join(errs...)
}
