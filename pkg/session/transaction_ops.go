package session

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-dbpool/pkg/logging"
)

// Begin opens a new transaction frame.
//
// With no open frame this issues a real "start transaction" (or defers it
// when lazy begin is enabled) and moves the session to InTransaction. With
// open frames, requiresNew establishes a true savepoint boundary; otherwise
// the frame joins the enclosing one without a server round trip.
//
// If the underlying round trip fails, the manager cannot tell "never
// began" apart from "began, error in reporting", so the session is
// poisoned immediately rather than risking silent reuse.
func (tm *TransactionManager) Begin(ctx context.Context, requiresNew bool) error {
	s := tm.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePoisoned || s.state == StateDiscarded {
		return ErrSessionUnusable
	}

	start := time.Now()
	depth := len(tm.frames)

	frame := &Frame{Level: depth, RequiresNew: requiresNew}

	switch {
	case depth == 0:
		frame.RequiresNew = true
		if tm.lazyBegin {
			tm.beginPending = true
		} else {
			opCtx, cancel := s.opContext(ctx)
			err := s.drv.Begin(opCtx)
			cancel()
			if err != nil {
				s.metrics.RecordTransaction("begin", "ambiguous", time.Since(start))
				return tm.poisonLocked(ctx, "begin", err)
			}
		}
		s.state = StateInTransaction

	case requiresNew:
		if err := tm.flushPendingBegin(ctx); err != nil {
			s.metrics.RecordTransaction("begin", "ambiguous", time.Since(start))
			return err
		}
		frame.savepoint = savepointName(depth)
		opCtx, cancel := s.opContext(ctx)
		err := s.drv.SavepointCreate(opCtx, frame.savepoint)
		cancel()
		if err != nil {
			s.metrics.RecordTransaction("begin", "ambiguous", time.Since(start))
			return tm.poisonLocked(ctx, "savepoint", err)
		}

	default:
		// Joined frame: purely logical nesting, no round trip.
	}

	tm.frames = append(tm.frames, frame)
	s.metrics.RecordTransaction("begin", "ok", time.Since(start))
	s.log.Debug("transaction frame opened",
		logging.Depth(len(tm.frames)),
		logging.Bool("requires_new", frame.RequiresNew),
	)

	return nil
}

// RequestRollback flags the current frame for an intentional abort. The
// next Commit on this frame performs a real rollback instead and completes
// without raising.
func (tm *TransactionManager) RequestRollback() error {
	s := tm.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tm.frames) == 0 {
		return ErrNoTransaction
	}

	tm.frames[len(tm.frames)-1].rollbackRequested = true
	return nil
}

// flushPendingBegin issues the deferred physical BEGIN. The failure policy
// is identical to an eager begin: an error poisons the session. Caller
// must hold the session mutex.
func (tm *TransactionManager) flushPendingBegin(ctx context.Context) error {
	if !tm.beginPending {
		return nil
	}

	s := tm.session
	opCtx, cancel := s.opContext(ctx)
	err := s.drv.Begin(opCtx)
	cancel()
	if err != nil {
		return tm.poisonLocked(ctx, "begin", err)
	}

	tm.beginPending = false
	return nil
}
