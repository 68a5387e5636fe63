// Package runner is the caller-facing entry point for transactional work.
// It checks a session out of the pool, drives its transaction manager
// through a user-supplied unit of work, and guarantees the session is
// checked back in on every exit path.
package runner

import (
	"context"
	"errors"

	"github.com/dd0wney/cluso-dbpool/pkg/logging"
	"github.com/dd0wney/cluso-dbpool/pkg/pool"
	"github.com/dd0wney/cluso-dbpool/pkg/session"
)

// UnitOfWork is the caller-supplied body of a transaction. Returning
// session.ErrRollbackRequested rolls the transaction back without
// reporting an error to the caller; any other error rolls back and is
// re-raised.
type UnitOfWork func(ctx context.Context, s *session.Session) error

// Runner executes units of work inside pooled transactions.
type Runner struct {
	pool *pool.Pool
	log  logging.Logger
}

// New creates a transaction runner over the given pool.
func New(p *pool.Pool, log logging.Logger) *Runner {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Runner{
		pool: p,
		log:  log.With(logging.Component("runner")),
	}
}

// Run checks out a session, begins a transaction, executes fn, and commits
// on normal return or rolls back on error. The checkin runs on every exit
// path, even when begin/commit/rollback themselves failed; the pool's
// checkin decides whether the session is safe to reuse.
//
// Error precedence follows the danger of the unresolved condition: a
// failure from the transaction machinery itself (a failed rollback, an
// ambiguous commit) takes precedence over the unit of work's own error.
// The deliberate abort signal is the only thing suppressed.
func (r *Runner) Run(ctx context.Context, fn UnitOfWork) error {
	sess, err := r.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer func() {
		// Checkin must run even if ctx is already canceled.
		if cerr := r.pool.Checkin(context.WithoutCancel(ctx), sess); cerr != nil {
			r.log.Warn("checkin failed", logging.SessionID(sess.ID()), logging.Error(cerr))
		}
	}()

	tm := sess.TxManager()

	if err := tm.Begin(ctx, false); err != nil {
		return err
	}

	workErr := runWork(ctx, sess, fn)

	// Cancellation mid-transaction must still run rollback before the
	// session is released.
	if workErr == nil && ctx.Err() != nil {
		workErr = ctx.Err()
	}

	if workErr != nil {
		if errors.Is(workErr, session.ErrRollbackRequested) {
			return tm.Rollback(ctx)
		}
		if rbErr := tm.Rollback(ctx); rbErr != nil {
			r.log.Error("rollback after unit-of-work failure itself failed",
				logging.SessionID(sess.ID()),
				logging.Error(rbErr),
				logging.Any("work_error", workErr.Error()),
			)
			return rbErr
		}
		return workErr
	}

	return tm.Commit(ctx)
}

// InTransaction runs fn inside a nested frame on an already-leased
// session. With requiresNew the frame gets its own savepoint boundary;
// otherwise it joins the enclosing transaction and its rollback marks the
// enclosing frame rollback-only.
func InTransaction(ctx context.Context, s *session.Session, requiresNew bool, fn UnitOfWork) error {
	tm := s.TxManager()

	if err := tm.Begin(ctx, requiresNew); err != nil {
		return err
	}

	err := runWork(ctx, s, fn)
	if err != nil {
		if errors.Is(err, session.ErrRollbackRequested) {
			return tm.Rollback(ctx)
		}
		if rbErr := tm.Rollback(ctx); rbErr != nil {
			return rbErr
		}
		return err
	}

	return tm.Commit(ctx)
}

// runWork executes fn, converting a panic into an error so the rollback
// and checkin paths still run and the session lifecycle stays intact.
func runWork(ctx context.Context, s *session.Session, fn UnitOfWork) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec}
		}
	}()
	return fn(ctx, s)
}
