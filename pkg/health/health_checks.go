package health

import (
	"fmt"

	"github.com/dd0wney/cluso-dbpool/pkg/pool"
	"github.com/dd0wney/cluso-dbpool/pkg/session"
)

// PoolCheck reports the state of a connection pool: unhealthy when closed,
// degraded when every session is leased (new checkouts will block or time
// out), healthy otherwise.
func PoolCheck(p *pool.Pool) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "pool",
			Details: make(map[string]any),
		}

		if p.Closed() {
			check.Status = StatusUnhealthy
			check.Message = "pool is closed"
			return check
		}

		stats := p.Stats()
		check.Details["open"] = stats.Open
		check.Details["idle"] = stats.Idle
		check.Details["leased"] = stats.Leased
		check.Details["max_size"] = stats.MaxSize
		check.Details["poisoned_evictions"] = stats.PoisonedEvictions
		check.Details["exhaustion_timeouts"] = stats.ExhaustionTimeouts

		if stats.Leased >= stats.MaxSize {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("pool saturated: %d/%d sessions leased", stats.Leased, stats.MaxSize)
			return check
		}

		check.Status = StatusHealthy
		return check
	}
}

// BackendCheck reports database connectivity using a ping function.
// Transient network failures degrade rather than fail, since the pool can
// recover once connectivity returns.
func BackendCheck(ping func() error) CheckFunc {
	return func() Check {
		check := Check{Name: "backend"}

		if err := ping(); err != nil {
			if session.IsTransient(err) {
				check.Status = StatusDegraded
			} else {
				check.Status = StatusUnhealthy
			}
			check.Message = err.Error()
			return check
		}

		check.Status = StatusHealthy
		check.Message = "connected"
		return check
	}
}
