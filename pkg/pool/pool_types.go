package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dd0wney/cluso-dbpool/pkg/logging"
	"github.com/dd0wney/cluso-dbpool/pkg/metrics"
	"github.com/dd0wney/cluso-dbpool/pkg/session"
)

var (
	// ErrPoolExhausted is the errors.Is target for PoolExhaustedError.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrPoolClosed is returned by Checkout after Close.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrNotLeased is returned by Checkin for a session the pool does not
	// have on lease.
	ErrNotLeased = errors.New("session is not leased from this pool")
)

// PoolExhaustedError reports that no session became available within the
// configured checkout timeout. Recoverable: the caller may retry later.
type PoolExhaustedError struct {
	Timeout time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("no session available within %s", e.Timeout)
}

// Is makes errors.Is(err, ErrPoolExhausted) true for this type.
func (e *PoolExhaustedError) Is(target error) bool {
	return target == ErrPoolExhausted
}

// Factory opens a new physical connection for the pool.
type Factory func(ctx context.Context) (session.Driver, error)

// Config holds pool configuration
type Config struct {
	// MaxSize is the capacity bound on physical sessions.
	MaxSize int

	// CheckoutTimeout bounds how long a checkout waits for a session when
	// the pool is at capacity. Zero means wait as long as the caller's
	// context allows.
	CheckoutTimeout time.Duration

	// LazyBegin defers the physical "start transaction" until the first
	// statement inside each transaction.
	LazyBegin bool

	// OpTimeout bounds every driver round trip on pooled sessions.
	OpTimeout time.Duration

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Pool manages a collection of sessions and leases them to callers. It is
// the only shared mutable structure: checkout, checkin and clearAll
// serialize under one pool-wide lock, and capacity is gated by a weighted
// semaphore so a blocked checkout can be bounded by its context.
type Pool struct {
	factory Factory
	cfg     Config
	log     logging.Logger
	metrics *metrics.Registry

	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []*session.Session
	leased map[string]*session.Session
	open   int
	closed bool

	stats Stats
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Open               int   `json:"open"`
	Idle               int   `json:"idle"`
	Leased             int   `json:"leased"`
	MaxSize            int   `json:"max_size"`
	Checkouts          int64 `json:"checkouts"`
	Checkins           int64 `json:"checkins"`
	PoisonedEvictions  int64 `json:"poisoned_evictions"`
	ExhaustionTimeouts int64 `json:"exhaustion_timeouts"`
}
