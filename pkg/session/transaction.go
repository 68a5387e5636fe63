// Transaction lifecycle for pooled database sessions.
//
// This file is the package documentation for transaction support.
// The implementation is split across:
//   - transaction_types.go: TransactionManager, frame stack and error definitions
//   - transaction_ops.go: Begin, nesting and the intentional-abort signal
//   - transaction_commit.go: Commit, rollback, discard and poisoning
//
// The state machine is:
//
//	Idle → InTransaction (on begin)
//	InTransaction → Idle (on successful outermost commit/rollback)
//	InTransaction → Poisoned (on any ambiguous-outcome failure)
//	Poisoned → Discarded (on physical close)
//
// Discarded is terminal. No transition ever returns a Poisoned session to
// Idle: once the manager cannot tell what the server believes, the session
// is permanently excluded from reuse.
package session
