// Package sqldriver implements the dbsession driver interfaces over
// database/sql for PostgreSQL, using either lib/pq or the pgx stdlib driver.
package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver

	"github.com/txn2/dbsession/pkg/dbsession"
)

// Supported driver names.
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

// ErrPoolExhausted is returned by Connect when taking another dedicated
// connection would leave no pool connection for write transactions.
var ErrPoolExhausted = errors.New("sqldriver: connection pool exhausted")

// Config configures the connection pool behind a Client.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Client implements dbsession.Client over a *sql.DB pool.
type Client struct {
	db       *sql.DB
	target   string
	disposed atomic.Bool

	// reserved counts connections held by session attachments.
	reserved atomic.Int64
}

var _ dbsession.Client = (*Client)(nil)

// Open opens the pool described by cfg and wraps it in a Client. No
// connection is made until the first Connect.
func Open(cfg Config) (*Client, error) {
	switch cfg.Driver {
	case "":
		cfg.Driver = DriverPQ
	case DriverPQ, DriverPGX:
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	target, err := ParseTarget(cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s pool: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewClient(db, target), nil
}

// NewClient wraps an existing pool. target is reported as the sessions'
// full database name.
func NewClient(db *sql.DB, target string) *Client {
	return &Client{db: db, target: target}
}

// Factory returns a dbsession.ClientFactory opening a new pool from cfg on
// every call.
func Factory(cfg Config) dbsession.ClientFactory {
	return func(_ context.Context) (dbsession.Client, error) {
		return Open(cfg)
	}
}

// ParseTarget resolves a DSN (URL or key/value form) to host:port/database.
func ParseTarget(dsn string) (string, error) {
	pc, err := pgx.ParseConfig(dsn)
	if err != nil {
		return "", fmt.Errorf("parsing dsn: %w", err)
	}
	return pc.Host + ":" + strconv.Itoa(int(pc.Port)) + "/" + pc.Database, nil
}

// Connect reserves a dedicated connection from the pool and checks it is
// alive. With a bounded pool, one connection always stays free for write
// transactions; Connect fails with ErrPoolExhausted rather than take it.
func (c *Client) Connect(ctx context.Context) (dbsession.Attachment, error) {
	if c.disposed.Load() {
		return nil, fmt.Errorf("connecting: %w", sql.ErrConnDone)
	}
	if err := c.reserve(); err != nil {
		return nil, err
	}
	conn, err := c.db.Conn(ctx)
	if err != nil {
		c.unreserve()
		return nil, fmt.Errorf("reserving connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		c.unreserve()
		return nil, fmt.Errorf("pinging connection: %w", err)
	}
	return newAttachment(c.db, conn, c.unreserve), nil
}

func (c *Client) reserve() error {
	limit := int64(c.db.Stats().MaxOpenConnections)
	for {
		n := c.reserved.Load()
		if limit > 0 && n+1 >= limit {
			return fmt.Errorf("reserving connection: %d of %d held by sessions: %w", n, limit, ErrPoolExhausted)
		}
		if c.reserved.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

func (c *Client) unreserve() { c.reserved.Add(-1) }

// Reserved returns the number of pool connections held by sessions.
func (c *Client) Reserved() int { return int(c.reserved.Load()) }

// Target returns host:port/database of the pool.
func (c *Client) Target() string { return c.target }

// IsValid reports whether the pool is still open.
func (c *Client) IsValid() bool { return !c.disposed.Load() }

// Dispose closes the pool and every idle connection in it.
func (c *Client) Dispose() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("closing pool: %w", err)
	}
	return nil
}
