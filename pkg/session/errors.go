package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAmbiguousOutcome is the errors.Is target for AmbiguousOutcomeError.
	ErrAmbiguousOutcome = errors.New("transaction outcome is ambiguous")

	// ErrRollbackRequested is the deliberate abort signal a unit of work
	// returns to roll back without reporting an error to the caller.
	ErrRollbackRequested = errors.New("rollback requested")

	// ErrTransactionRolledBack is returned by Commit when an inner joined
	// frame already rolled the transaction back.
	ErrTransactionRolledBack = errors.New("transaction was rolled back by a nested frame")

	// ErrNoTransaction is returned by Commit/Rollback with no open frame.
	ErrNoTransaction = errors.New("no transaction in progress")

	// ErrSessionUnusable is returned when an operation is attempted on a
	// poisoned or discarded session.
	ErrSessionUnusable = errors.New("session is poisoned or discarded")

	// ErrCommitFailed is returned when a commit round trip failed but the
	// recovery rollback succeeded, so the session itself remains usable.
	ErrCommitFailed = errors.New("commit failed")
)

// AmbiguousOutcomeError reports a begin/commit/rollback round trip whose
// server-side result cannot be confirmed. The session is already poisoned
// when this error is surfaced.
type AmbiguousOutcomeError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *AmbiguousOutcomeError) Error() string {
	return fmt.Sprintf("%s on session %s: outcome ambiguous, session poisoned: %v", e.Op, e.SessionID, e.Err)
}

func (e *AmbiguousOutcomeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAmbiguousOutcome) true for this type.
func (e *AmbiguousOutcomeError) Is(target error) bool {
	return target == ErrAmbiguousOutcome
}

// DiscardError reports a physical close failure. Session bookkeeping has
// already been updated when this error is surfaced.
type DiscardError struct {
	SessionID string
	Err       error
}

func (e *DiscardError) Error() string {
	return fmt.Sprintf("discard of session %s failed: %v", e.SessionID, e.Err)
}

func (e *DiscardError) Unwrap() error { return e.Err }

// IsTransient reports whether err looks like a transient network failure.
// Transient errors may be retried for read-only, non-transactional
// operations only; commit/rollback failures are never retried because the
// outcome is ambiguous.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") {
		return true
	}

	// driver: bad connection (database/sql standard error)
	if strings.Contains(msg, "bad connection") {
		return true
	}

	if strings.Contains(msg, "i/o timeout") {
		return true
	}

	return false
}
