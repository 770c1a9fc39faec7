package dbsession

import (
	"context"
	"database/sql"
)

// Client is the process-wide handle to the database client library.
type Client interface {
	// Connect opens a new connection to the client's target.
	Connect(ctx context.Context) (Attachment, error)

	// Target returns the resolved connection target (host:port/database).
	Target() string

	// IsValid reports whether the client can still open connections.
	IsValid() bool

	// Dispose releases the client and every resource it still owns.
	Dispose() error
}

// ClientFactory creates a Client. It is called lazily on the first connect
// and again whenever the current client reports invalid.
type ClientFactory func(ctx context.Context) (Client, error)

// Attachment is a live database connection.
type Attachment interface {
	// IsValid reports whether the connection is still usable.
	IsValid() bool

	// Begin starts a transaction on the connection.
	Begin(ctx context.Context, opts TxOptions) (Transaction, error)

	// Disconnect closes the connection.
	Disconnect(ctx context.Context) error
}

// Querier runs statements. It matches the context methods of *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transaction is a unit of work scoped to an Attachment.
type Transaction interface {
	Querier

	// IsValid reports whether the transaction is still open and its
	// attachment is usable.
	IsValid() bool

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxOptions selects the transaction mode.
type TxOptions struct {
	// Isolation is the isolation level. Row versions are always read
	// (PostgreSQL MVCC), so read committed here is the record-version flavor.
	Isolation sql.IsolationLevel

	// ReadOnly starts a read-only transaction.
	ReadOnly bool

	// NoWait makes lock conflicts fail immediately instead of waiting.
	NoWait bool
}

var (
	// readTxOptions is used for the shared per-session read transaction.
	readTxOptions = TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: true, NoWait: true}

	// writeTxOptions is used for every exclusive write transaction.
	writeTxOptions = TxOptions{Isolation: sql.LevelReadCommitted, NoWait: true}
)
