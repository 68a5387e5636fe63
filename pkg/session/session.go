package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-dbpool/pkg/logging"
	"github.com/dd0wney/cluso-dbpool/pkg/metrics"
)

// State represents the lifecycle state of a session
type State int

const (
	// StateIdle means no transaction is open; the session may be pooled
	StateIdle State = iota
	// StateInTransaction means at least one frame is open
	StateInTransaction
	// StatePoisoned means logical and physical transaction state may have
	// diverged; the session must never be leased again
	StatePoisoned
	// StateDiscarded means the physical connection has been torn down
	StateDiscarded
)

// String returns the string representation of a session state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInTransaction:
		return "in_transaction"
	case StatePoisoned:
		return "poisoned"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Options configures a session's transaction behavior.
type Options struct {
	// LazyBegin defers the physical "start transaction" round trip until
	// the first statement executed inside the transaction.
	LazyBegin bool

	// OpTimeout bounds every driver round trip. Zero means no bound. A
	// timeout during begin/commit/rollback is treated identically to a
	// reported failure (ambiguous outcome).
	OpTimeout time.Duration

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Session is one physical database connection plus its transaction
// bookkeeping. A session is owned exclusively by the pool while idle and by
// exactly one caller while leased; state transitions are guarded by mu so a
// racing pool checkout never observes a half-updated state.
type Session struct {
	id  string
	drv Driver
	tm  *TransactionManager
	log logging.Logger

	mu              sync.Mutex
	state           State
	leaseID         string
	discardOnReturn bool
	closed          bool

	opTimeout time.Duration
	metrics   *metrics.Registry
}

// New wraps a driver connection in a session.
func New(drv Driver, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}

	s := &Session{
		id:        uuid.NewString(),
		drv:       drv,
		state:     StateIdle,
		opTimeout: opts.OpTimeout,
		metrics:   opts.Metrics,
	}
	s.log = log.With(logging.Component("session"), logging.SessionID(s.id))
	s.tm = &TransactionManager{
		session:   s,
		lazyBegin: opts.LazyBegin,
	}

	return s
}

// ID returns the opaque session identity, stable for the life of the
// physical connection.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Depth returns the number of nested transaction frames currently believed
// open on the server.
func (s *Session) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tm.frames)
}

// TxManager returns the transaction manager owned by this session.
func (s *Session) TxManager() *TransactionManager { return s.tm }

// Lease records the borrower's lease token. Called by the pool with its
// lock held.
func (s *Session) Lease() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaseID = uuid.NewString()
	return s.leaseID
}

// ClearLease removes the lease bookkeeping on checkin.
func (s *Session) ClearLease() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaseID = ""
}

// LeaseID returns the current lease token, or "" when unleased.
func (s *Session) LeaseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaseID
}

// MarkDiscardOnReturn flags a leased session so its checkin discards it
// instead of returning it to the idle set. Used by pool teardown.
func (s *Session) MarkDiscardOnReturn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discardOnReturn = true
}

// DiscardOnReturn reports whether the session was flagged for discard.
func (s *Session) DiscardOnReturn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discardOnReturn
}

// Exec executes a statement on this session. Inside a transaction with lazy
// begin enabled, the first call triggers the deferred "start transaction"
// round trip; its failure follows the same poisoning policy as an eager
// begin.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePoisoned || s.state == StateDiscarded {
		return 0, ErrSessionUnusable
	}

	if err := s.tm.flushPendingBegin(ctx); err != nil {
		return 0, err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	return s.drv.Exec(opCtx, sql, args...)
}

// Query executes a query on this session and returns all rows. Statement
// failures do not poison the session; the caller decides whether to roll
// back.
func (s *Session) Query(ctx context.Context, sql string, args ...any) ([][]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePoisoned || s.state == StateDiscarded {
		return nil, ErrSessionUnusable
	}

	if err := s.tm.flushPendingBegin(ctx); err != nil {
		return nil, err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	return s.drv.Query(opCtx, sql, args...)
}

// opContext bounds a driver round trip with the configured operation
// timeout. Caller must hold s.mu.
func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}
