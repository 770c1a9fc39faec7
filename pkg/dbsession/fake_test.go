package dbsession

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"time"
)

const fakeTarget = "db.test:5432/crm"

var errFakeQuery = errors.New("fake: queries are not supported")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeFactory hands out fakeClients and records them.
type fakeFactory struct {
	mu      sync.Mutex
	next    *fakeClient
	clients []*fakeClient
	err     error
}

func (f *fakeFactory) New(_ context.Context) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := f.next
	f.next = nil
	if c == nil {
		c = &fakeClient{}
	}
	c.valid = true
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

// fakeClient counts connects. When hold is set, Connect signals on started
// and blocks until hold is closed.
type fakeClient struct {
	mu          sync.Mutex
	valid       bool
	disposed    int
	connectErr  error
	hold        chan struct{}
	started     chan struct{}
	attachments []*fakeAttachment
}

func (c *fakeClient) Connect(ctx context.Context) (Attachment, error) {
	c.mu.Lock()
	hold, started, err := c.hold, c.started, c.connectErr
	c.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	a := &fakeAttachment{valid: true}
	c.attachments = append(c.attachments, a)
	return a, nil
}

func (*fakeClient) Target() string { return fakeTarget }

func (c *fakeClient) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}

func (c *fakeClient) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed++
	c.valid = false
	return nil
}

func (c *fakeClient) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

func (c *fakeClient) connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.attachments)
}

func (c *fakeClient) attachment(i int) *fakeAttachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachments[i]
}

type fakeAttachment struct {
	mu            sync.Mutex
	valid         bool
	disconnects   int
	disconnectErr error
	beginErr      error
	txs           []*fakeTx
}

func (a *fakeAttachment) IsValid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.valid
}

func (a *fakeAttachment) Begin(_ context.Context, opts TxOptions) (Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.beginErr != nil {
		return nil, a.beginErr
	}
	tx := &fakeTx{att: a, opts: opts, open: true}
	a.txs = append(a.txs, tx)
	return tx, nil
}

func (a *fakeAttachment) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnects++
	if a.disconnectErr != nil {
		return a.disconnectErr
	}
	a.valid = false
	return nil
}

// breakConn simulates a connection dropped by the server.
func (a *fakeAttachment) breakConn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.valid = false
}

func (a *fakeAttachment) disconnectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disconnects
}

func (a *fakeAttachment) tx(i int) *fakeTx {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.txs[i]
}

func (a *fakeAttachment) txCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.txs)
}

type fakeTx struct {
	mu          sync.Mutex
	att         *fakeAttachment
	opts        TxOptions
	open        bool
	commits     int
	rollbacks   int
	commitErr   error
	rollbackErr error
}

func (t *fakeTx) IsValid() bool {
	t.mu.Lock()
	open := t.open
	t.mu.Unlock()
	return open && t.att.IsValid()
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commits++
	if t.commitErr != nil {
		return t.commitErr
	}
	t.open = false
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollbacks++
	if t.rollbackErr != nil {
		return t.rollbackErr
	}
	t.open = false
	return nil
}

// abort simulates a transaction the server aborted after a failed statement.
func (t *fakeTx) abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
}

func (t *fakeTx) counts() (commits, rollbacks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commits, t.rollbacks
}

func (t *fakeTx) ExecContext(_ context.Context, _ string, _ ...any) (sql.Result, error) {
	return driver.RowsAffected(1), nil
}

func (*fakeTx) QueryContext(_ context.Context, _ string, _ ...any) (*sql.Rows, error) {
	return nil, errFakeQuery
}

// QueryRowContext is not backed by a driver; callers must not Scan it.
func (*fakeTx) QueryRowContext(_ context.Context, _ string, _ ...any) *sql.Row {
	return nil
}

const testIdleTimeout = time.Minute

func newTestManager() (*Manager, *fakeFactory, *fakeClock) {
	factory := &fakeFactory{}
	clock := newFakeClock()
	m := New(factory.New, Config{IdleTimeout: testIdleTimeout, Clock: clock.Now})
	return m, factory, clock
}

// lockOf reads a session's reference count under the gate.
func lockOf(m *Manager, id string) int {
	_ = m.gate.lock(context.Background())
	defer m.gate.unlock()
	if sess, ok := m.sessions[id]; ok {
		return sess.lock
	}
	return -1
}

// hasSession reports whether a record exists for id.
func hasSession(m *Manager, id string) bool {
	_ = m.gate.lock(context.Background())
	defer m.gate.unlock()
	_, ok := m.sessions[id]
	return ok
}
