package session

import (
	"context"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-dbpool/pkg/logging"
)

// Commit pops the current frame, issuing the physical operation it
// corresponds to: a real COMMIT for the outermost frame, a savepoint
// release for a requires-new frame, nothing for a joined frame.
//
// A failed commit leaves the server transaction state undefined, so the
// manager never reports success when the round trip raised. It attempts a
// rollback of the same frame; if that recovery rollback succeeds the error
// is surfaced as ErrCommitFailed and the session stays usable, if it also
// fails the session is poisoned and an AmbiguousOutcomeError is surfaced.
func (tm *TransactionManager) Commit(ctx context.Context) error {
	s := tm.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePoisoned || s.state == StateDiscarded {
		return ErrSessionUnusable
	}
	if len(tm.frames) == 0 {
		return ErrNoTransaction
	}

	frame := tm.frames[len(tm.frames)-1]

	// Intentional abort: perform the real rollback, complete without
	// raising unless the rollback itself fails.
	if frame.rollbackRequested {
		return tm.rollbackLocked(ctx)
	}

	// A joined inner frame already rolled back; this frame cannot commit.
	if frame.rollbackOnly {
		if err := tm.rollbackLocked(ctx); err != nil {
			return err
		}
		return ErrTransactionRolledBack
	}

	start := time.Now()

	switch {
	case frame.Level == 0 && tm.beginPending:
		// Nothing was ever executed, so no physical transaction exists.
		tm.beginPending = false
		tm.popLocked()

	case frame.Level == 0:
		opCtx, cancel := s.opContext(ctx)
		err := s.drv.Commit(opCtx)
		cancel()
		if err != nil {
			return tm.recoverCommitLocked(ctx, "commit", frame, err, start)
		}
		tm.popLocked()

	case frame.savepoint != "":
		opCtx, cancel := s.opContext(ctx)
		err := s.drv.SavepointRelease(opCtx, frame.savepoint)
		cancel()
		if err != nil {
			return tm.recoverCommitLocked(ctx, "savepoint release", frame, err, start)
		}
		tm.popLocked()

	default:
		// Joined frame: committing is a no-op, the enclosing frame decides.
		tm.popLocked()
	}

	s.metrics.RecordTransaction("commit", "ok", time.Since(start))
	s.log.Debug("transaction frame committed", logging.Depth(len(tm.frames)))

	return nil
}

// recoverCommitLocked handles a failed commit round trip: a rollback of the
// same frame is attempted on a fresh context (the original may already be
// canceled, which is likely what failed the commit). Caller must hold the
// session mutex.
func (tm *TransactionManager) recoverCommitLocked(ctx context.Context, op string, frame *Frame, commitErr error, start time.Time) error {
	s := tm.session

	rbCtx, cancel := s.opContext(context.WithoutCancel(ctx))
	var rbErr error
	if frame.savepoint != "" {
		rbErr = s.drv.SavepointRollback(rbCtx, frame.savepoint)
	} else {
		rbErr = s.drv.Rollback(rbCtx)
	}
	cancel()

	if rbErr != nil {
		s.metrics.RecordTransaction("commit", "ambiguous", time.Since(start))
		s.log.Error("commit and recovery rollback both failed",
			logging.Op(op),
			logging.Error(commitErr),
			logging.Any("rollback_error", rbErr.Error()),
		)
		return tm.poisonLocked(ctx, op, commitErr)
	}

	tm.popLocked()
	s.metrics.RecordTransaction("commit", "failed_rolled_back", time.Since(start))
	s.log.Warn("commit failed, frame rolled back", logging.Op(op), logging.Error(commitErr))

	return fmt.Errorf("%w, frame rolled back: %v", ErrCommitFailed, commitErr)
}

// Rollback pops the current frame, issuing a real rollback (or savepoint
// rollback) for it. Rolling back a joined frame performs no round trip but
// marks the enclosing frame rollback-only, so its eventual commit cannot
// silently succeed.
//
// If the rollback round trip fails, the manager cannot determine whether
// the transaction is still open, partially rolled back, or closed. The
// session is poisoned and the physical connection closed before the error
// is surfaced, so no other caller can ever inherit this session in an
// unknown state.
func (tm *TransactionManager) Rollback(ctx context.Context) error {
	s := tm.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePoisoned || s.state == StateDiscarded {
		return ErrSessionUnusable
	}
	if len(tm.frames) == 0 {
		return ErrNoTransaction
	}

	return tm.rollbackLocked(ctx)
}

// rollbackLocked rolls back the top frame. Caller must hold the session
// mutex and have verified a frame is open.
func (tm *TransactionManager) rollbackLocked(ctx context.Context) error {
	s := tm.session
	frame := tm.frames[len(tm.frames)-1]
	start := time.Now()

	switch {
	case frame.Level == 0 && tm.beginPending:
		tm.beginPending = false
		tm.popLocked()

	case frame.Level == 0:
		opCtx, cancel := s.opContext(context.WithoutCancel(ctx))
		err := s.drv.Rollback(opCtx)
		cancel()
		if err != nil {
			s.metrics.RecordTransaction("rollback", "ambiguous", time.Since(start))
			return tm.poisonLocked(ctx, "rollback", err)
		}
		tm.popLocked()

	case frame.savepoint != "":
		opCtx, cancel := s.opContext(context.WithoutCancel(ctx))
		err := s.drv.SavepointRollback(opCtx, frame.savepoint)
		cancel()
		if err != nil {
			s.metrics.RecordTransaction("rollback", "ambiguous", time.Since(start))
			return tm.poisonLocked(ctx, "savepoint rollback", err)
		}
		tm.popLocked()

	default:
		// Joined frame: no boundary of its own. The enclosing frame must
		// not commit as if nothing happened.
		tm.popLocked()
		tm.frames[len(tm.frames)-1].rollbackOnly = true
	}

	s.metrics.RecordTransaction("rollback", "ok", time.Since(start))
	s.log.Debug("transaction frame rolled back", logging.Depth(len(tm.frames)))

	return nil
}

// Discard forcibly tears down the physical connection, independent of
// commit/rollback. Bookkeeping is updated unconditionally before the close
// is attempted: a failure to physically close must never leave the session
// looking reusable. Discard is idempotent.
func (tm *TransactionManager) Discard(ctx context.Context) error {
	s := tm.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDiscarded {
		return nil
	}

	tm.frames = nil
	tm.beginPending = false
	s.state = StateDiscarded

	if s.closed {
		return nil
	}
	s.closed = true

	opCtx, cancel := s.opContext(context.WithoutCancel(ctx))
	defer cancel()

	if err := s.drv.Close(opCtx); err != nil {
		s.log.Warn("physical close failed during discard", logging.Error(err))
		return &DiscardError{SessionID: s.id, Err: err}
	}

	s.log.Debug("session discarded")
	return nil
}

// popLocked removes the top frame and settles the session state. Caller
// must hold the session mutex.
func (tm *TransactionManager) popLocked() {
	tm.frames = tm.frames[:len(tm.frames)-1]
	if len(tm.frames) == 0 && tm.session.state == StateInTransaction {
		tm.session.state = StateIdle
	}
}

// poisonLocked marks the session permanently unusable after an
// ambiguous-outcome failure and eagerly closes the physical connection
// (best effort; the pool's eviction path tolerates an already-closed
// connection). Caller must hold the session mutex.
func (tm *TransactionManager) poisonLocked(ctx context.Context, op string, cause error) error {
	s := tm.session

	s.state = StatePoisoned
	tm.beginPending = false
	s.metrics.RecordPoisoned(op)
	s.log.Error("ambiguous transaction outcome, session poisoned",
		logging.Op(op),
		logging.Error(cause),
	)

	if !s.closed {
		s.closed = true
		closeCtx, cancel := s.opContext(context.WithoutCancel(ctx))
		if cerr := s.drv.Close(closeCtx); cerr != nil {
			s.log.Warn("eager close after poisoning failed", logging.Error(cerr))
		}
		cancel()
	}

	return &AmbiguousOutcomeError{Op: op, SessionID: s.id, Err: cause}
}
