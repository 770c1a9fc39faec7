package dbsession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultIdleTimeout is used when Config.IdleTimeout is zero.
const DefaultIdleTimeout = time.Minute

// Config configures a Manager.
type Config struct {
	// IdleTimeout is how long an unlocked session may stay untouched before
	// the reaper closes it. It is also the reaper's sweep interval.
	IdleTimeout time.Duration

	// ConnectTimeout bounds each connect made while the gate is held.
	// Zero means no bound beyond the caller's context.
	ConnectTimeout time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Manager owns the database client and the session table.
type Manager struct {
	factory        ClientFactory
	idleTimeout    time.Duration
	connectTimeout time.Duration
	now            func() time.Time

	gate     *gate
	client   Client
	sessions map[string]*DBSession
	disposed bool

	reaperMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Manager. No client is created until the first acquire.
func New(factory ClientFactory, cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		factory:        factory,
		idleTimeout:    cfg.IdleTimeout,
		connectTimeout: cfg.ConnectTimeout,
		now:            cfg.Clock,
		gate:           newGate(),
		sessions:       make(map[string]*DBSession),
	}
}

// IdleTimeout returns the idle threshold used by the reaper.
func (m *Manager) IdleTimeout() time.Duration {
	return m.idleTimeout
}

// clientLocked returns the current client, creating it if there is none or
// the previous one went invalid. Caller must hold the gate.
func (m *Manager) clientLocked(ctx context.Context) (Client, error) {
	if m.client != nil && m.client.IsValid() {
		return m.client, nil
	}
	client, err := m.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}
	m.client = client
	return client, nil
}

// connectLocked opens a new connection. Caller must hold the gate.
func (m *Manager) connectLocked(ctx context.Context) (Attachment, string, error) {
	client, err := m.clientLocked(ctx)
	if err != nil {
		return nil, "", err
	}

	if m.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.connectTimeout)
		defer cancel()
	}

	att, err := client.Connect(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("connecting to %s: %w", client.Target(), err)
	}
	return att, client.Target(), nil
}

// acquireLocked takes one reference on the session, connecting it first if
// it has no usable connection. Caller must hold the gate.
func (m *Manager) acquireLocked(ctx context.Context, sessionID string) (*DBSession, error) {
	if m.disposed {
		return nil, ErrDisposed
	}

	sess := m.sessions[sessionID]
	switch sess.status() {
	case stateActive:
		sess.lock++
		return sess, nil
	case stateAbsent:
		if sess != nil {
			sess.discard(ctx)
		}
	}

	now := m.now()
	if sess == nil {
		sess = &DBSession{id: sessionID, createdAt: now}
	}
	sess.state = stateConnecting
	att, target, err := m.connectLocked(ctx)
	if err != nil {
		sess.state = stateAbsent
		return nil, fmt.Errorf("acquiring session %q: %w", sessionID, err)
	}

	if sess.fullDBName == "" {
		sess.fullDBName = target
	}
	sess.attachment = att
	sess.readTx = nil
	// References still held across a reconnect stay outstanding.
	sess.lock++
	sess.touched = now
	sess.state = stateActive
	m.sessions[sessionID] = sess

	slog.Debug("dbsession: session connected", "session_id", sessionID, "target", target, "lock", sess.lock)
	return sess, nil
}

// releaseLocked drops one reference on the session. Caller must hold the gate.
func (m *Manager) releaseLocked(sessionID string) (*DBSession, error) {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("releasing session %q: %w", sessionID, ErrInvalidAttachment)
	}
	if sess.lock < 1 {
		return nil, fmt.Errorf("releasing session %q: lock is %d: %w", sessionID, sess.lock, ErrInvalidLock)
	}

	sess.lock--
	sess.touched = m.now()

	if sess.status() != stateActive {
		return sess, fmt.Errorf("releasing session %q: %w", sessionID, ErrInvalidAttachment)
	}
	return sess, nil
}

// acquire takes one reference on the session.
func (m *Manager) acquire(ctx context.Context, sessionID string) (*DBSession, error) {
	if err := m.gate.lock(ctx); err != nil {
		return nil, err
	}
	defer m.gate.unlock()

	return m.acquireLocked(ctx, sessionID)
}

// release drops one reference on the session.
func (m *Manager) release(ctx context.Context, sessionID string) error {
	if err := m.gate.lock(ctx); err != nil {
		return err
	}
	defer m.gate.unlock()

	_, err := m.releaseLocked(sessionID)
	return err
}

// Dispose stops the reaper and disposes the database client. It is meant to
// be called once, at process shutdown. Later acquires fail with ErrDisposed.
func (m *Manager) Dispose(ctx context.Context) error {
	m.stopReaper()

	if err := m.gate.lock(ctx); err != nil {
		return err
	}
	defer m.gate.unlock()

	m.disposed = true
	if m.client == nil || !m.client.IsValid() {
		return nil
	}
	if err := m.client.Dispose(); err != nil {
		return fmt.Errorf("disposing database client: %w", err)
	}
	slog.Info("dbsession: database client disposed", "sessions", len(m.sessions))
	return nil
}
