package pool

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dd0wney/cluso-dbpool/pkg/logging"
	"github.com/dd0wney/cluso-dbpool/pkg/session"
)

// New creates a connection pool over the given connection factory.
func New(factory Factory, cfg Config) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("factory cannot be nil")
	}
	if cfg.MaxSize < 1 {
		return nil, fmt.Errorf("max size must be at least 1, got %d", cfg.MaxSize)
	}

	log := cfg.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}

	p := &Pool{
		factory: factory,
		cfg:     cfg,
		log:     log.With(logging.Component("pool")),
		metrics: cfg.Metrics,
		sem:     semaphore.NewWeighted(int64(cfg.MaxSize)),
		leased:  make(map[string]*session.Session),
	}

	p.log.Info("connection pool created",
		logging.PoolSize(cfg.MaxSize),
		logging.Duration("checkout_timeout", cfg.CheckoutTimeout),
		logging.Bool("lazy_begin", cfg.LazyBegin),
	)

	return p, nil
}

// Checkout leases an idle session with no open transaction, creating one
// if the pool is below capacity. It never returns a poisoned session. At
// capacity it blocks until a session is checked in, bounded by the
// configured checkout timeout and the caller's context.
func (p *Pool) Checkout(ctx context.Context) (*session.Session, error) {
	start := time.Now()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.metrics.RecordCheckout("closed", time.Since(start))
		return nil, ErrPoolClosed
	}

	acquireCtx := ctx
	if p.cfg.CheckoutTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.cfg.CheckoutTimeout)
		defer cancel()
	}

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		p.mu.Lock()
		p.stats.ExhaustionTimeouts++
		p.mu.Unlock()
		p.metrics.RecordCheckout("exhausted", time.Since(start))
		p.log.Warn("checkout timed out waiting for a session",
			logging.Duration("waited", time.Since(start)),
		)
		return nil, &PoolExhaustedError{Timeout: p.cfg.CheckoutTimeout}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		p.metrics.RecordCheckout("closed", time.Since(start))
		return nil, ErrPoolClosed
	}

	for len(p.idle) > 0 {
		s := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]

		// The checkin path should make this unreachable, but a session
		// must never leave the pool unless its bookkeeping is clean.
		if s.State() != session.StateIdle || s.Depth() != 0 {
			p.discardLocked(ctx, s, "unsafe_idle")
			continue
		}

		p.leaseLocked(s)
		p.mu.Unlock()
		p.metrics.RecordCheckout("ok", time.Since(start))
		return s, nil
	}
	p.mu.Unlock()

	// No idle session; the held permit reserves capacity for a new one.
	// Dialing happens outside the pool lock so other callers proceed.
	drv, err := p.factory(ctx)
	if err != nil {
		p.sem.Release(1)
		p.metrics.RecordCheckout("error", time.Since(start))
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	s := session.New(drv, session.Options{
		LazyBegin: p.cfg.LazyBegin,
		OpTimeout: p.cfg.OpTimeout,
		Logger:    p.log,
		Metrics:   p.metrics,
	})

	p.mu.Lock()
	p.open++
	p.leaseLocked(s)
	p.mu.Unlock()

	p.metrics.RecordCheckout("ok", time.Since(start))
	p.log.Debug("session created", logging.SessionID(s.ID()))

	return s, nil
}

// Checkin returns a session to the pool. The session re-enters the idle
// set only if it is Idle with no residual transaction depth; otherwise it
// is evicted and physically discarded, so a later caller can never inherit
// someone else's half-finished work. This is the single enforcement point
// for the reuse invariant.
func (p *Pool) Checkin(ctx context.Context, s *session.Session) error {
	p.mu.Lock()

	if _, ok := p.leased[s.ID()]; !ok {
		p.mu.Unlock()
		return ErrNotLeased
	}
	delete(p.leased, s.ID())
	s.ClearLease()
	p.stats.Checkins++

	var outcome string
	switch {
	case p.closed || s.DiscardOnReturn():
		p.discardLocked(ctx, s, "teardown")
		outcome = "discarded"

	case s.State() == session.StateIdle && s.Depth() == 0:
		p.idle = append(p.idle, s)
		outcome = "idle"

	default:
		reason := "residual_state"
		if s.State() == session.StatePoisoned {
			reason = "poisoned"
			p.stats.PoisonedEvictions++
		}
		p.discardLocked(ctx, s, reason)
		outcome = "evicted"
	}

	p.updateGaugesLocked()
	p.mu.Unlock()

	// The permit is released only after eviction completed, so the pool
	// cannot grow back to capacity while an unsafe session still exists.
	p.sem.Release(1)
	p.metrics.RecordCheckin(outcome)

	return nil
}

// ClearAll forcibly discards every session. Idle sessions are discarded
// immediately; leased sessions are marked so their checkin discards them,
// since ownership cannot be safely revoked from a live borrower.
func (p *Pool) ClearAll(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.idle {
		p.discardLocked(ctx, s, "clear_all")
	}
	p.idle = nil

	for _, s := range p.leased {
		s.MarkDiscardOnReturn()
	}

	p.updateGaugesLocked()
	p.log.Info("pool cleared", logging.Int("still_leased", len(p.leased)))
}

// Close marks the pool closed and discards all sessions. Subsequent
// checkouts fail with ErrPoolClosed; outstanding leases discard on return.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.ClearAll(ctx)
	p.log.Info("pool closed")
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.stats
	st.Open = p.open
	st.Idle = len(p.idle)
	st.Leased = len(p.leased)
	st.MaxSize = p.cfg.MaxSize
	return st
}

// Closed reports whether the pool has been closed.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// leaseLocked records a lease. Caller must hold the pool lock.
func (p *Pool) leaseLocked(s *session.Session) {
	lease := s.Lease()
	p.leased[s.ID()] = s
	p.stats.Checkouts++
	p.updateGaugesLocked()
	p.log.Debug("session leased",
		logging.SessionID(s.ID()),
		logging.LeaseID(lease),
	)
}

// discardLocked removes a session from the pool's set and tears down its
// physical connection. Discard failures update bookkeeping regardless, so
// they are logged rather than surfaced. Caller must hold the pool lock.
func (p *Pool) discardLocked(ctx context.Context, s *session.Session, reason string) {
	p.open--
	p.metrics.RecordEviction(reason)

	if err := s.TxManager().Discard(ctx); err != nil {
		p.log.Warn("session discard failed",
			logging.SessionID(s.ID()),
			logging.String("reason", reason),
			logging.Error(err),
		)
		return
	}

	p.log.Debug("session discarded",
		logging.SessionID(s.ID()),
		logging.String("reason", reason),
	)
}

// updateGaugesLocked pushes the session population to metrics. Caller must
// hold the pool lock.
func (p *Pool) updateGaugesLocked() {
	p.metrics.UpdatePoolSessions(p.open, len(p.idle), len(p.leased))
}
