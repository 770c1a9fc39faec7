// Package dbsession hands out database connections and transactions to
// concurrent request handlers, keyed by an opaque session identifier.
//
// Each session owns one connection, reference counted across the callers
// currently holding it, and at most one long-lived read-only transaction
// shared by all of its readers. Write transactions are exclusive per call.
// An idle reaper closes sessions nobody has held for longer than the idle
// timeout.
//
// All session state is guarded by a single FIFO gate. The gate stays held
// across driver calls made inside a critical section, so two callers racing
// on an unknown session never open two connections.
package dbsession
