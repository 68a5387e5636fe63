package session

import "fmt"

// Frame is one level of (possibly nested) transaction state on a session.
// Frames form a stack owned exclusively by one session's transaction
// manager; they are never shared across sessions.
type Frame struct {
	// Level is 0 for the outermost real transaction, >0 for nested frames.
	Level int

	// RequiresNew marks a frame that demands an independent commit/rollback
	// boundary (a true savepoint) versus joining the enclosing frame.
	RequiresNew bool

	// rollbackRequested is set when the unit of work signals an intentional
	// abort; the next commit of this frame rolls back instead and completes
	// without raising.
	rollbackRequested bool

	// rollbackOnly is set when a joined inner frame rolled back. The frame
	// can no longer commit: it rolls back and reports
	// ErrTransactionRolledBack.
	rollbackOnly bool

	// savepoint is the server-side savepoint name backing this frame.
	// Empty for the outermost frame and for joined frames.
	savepoint string
}

// TransactionManager drives begin/commit/rollback and nested-transaction
// semantics for a single session, including failure recovery. It is owned
// by the session and shares its mutex; a session is single-owner while
// leased, so manager operations are never concurrent for the same session.
type TransactionManager struct {
	session *Session
	frames  []*Frame

	// lazyBegin defers the physical BEGIN until the first statement.
	lazyBegin bool
	// beginPending is true when a logical outermost frame is open but the
	// physical BEGIN has not been issued yet.
	beginPending bool
}

// Depth returns the number of open frames. Caller must not hold the
// session mutex.
func (tm *TransactionManager) Depth() int {
	return tm.session.Depth()
}

// savepointName derives the server-side savepoint name for a nesting
// level. Names are reused across frames at the same level; SAVEPOINT with
// an existing name replaces it, so reuse after a pop is safe.
func savepointName(level int) string {
	return fmt.Sprintf("cluso_sp_%d", level)
}
