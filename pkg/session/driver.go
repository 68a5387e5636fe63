package session

import "context"

// Driver is the capability interface a Session needs from a physical
// database connection. Production code wires a real backend (see
// pkg/driver/pg); tests substitute a faulty implementation to exercise
// failure recovery without touching production code paths.
//
// Begin, Commit, Rollback and the savepoint calls are transaction control
// round trips. Any error they return must be assumed ambiguous: the server
// may or may not have performed the operation.
type Driver interface {
	// Begin issues a real "start transaction" round trip.
	Begin(ctx context.Context) error

	// Commit commits the open transaction.
	Commit(ctx context.Context) error

	// Rollback rolls back the open transaction.
	Rollback(ctx context.Context) error

	// SavepointCreate establishes a named savepoint inside the open
	// transaction.
	SavepointCreate(ctx context.Context, name string) error

	// SavepointRelease releases a named savepoint, committing its changes
	// into the enclosing frame.
	SavepointRelease(ctx context.Context, name string) error

	// SavepointRollback rolls back all changes made after the named
	// savepoint was established.
	SavepointRollback(ctx context.Context, name string) error

	// Exec executes a statement and returns the number of affected rows,
	// if the backend reports it (-1 otherwise).
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Query executes a query and returns all result rows. The statement
	// text and parameters are opaque to the session core.
	Query(ctx context.Context, sql string, args ...any) ([][]any, error)

	// Close tears down the physical connection. It must be safe to call
	// more than once.
	Close(ctx context.Context) error
}
