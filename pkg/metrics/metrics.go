package metrics

import (
	"time"
)

// RecordCheckout records a checkout attempt with its wait time
func (r *Registry) RecordCheckout(status string, wait time.Duration) {
	if r == nil {
		return
	}
	r.PoolCheckoutsTotal.WithLabelValues(status).Inc()
	r.PoolCheckoutWait.Observe(wait.Seconds())
	if status == "exhausted" {
		r.PoolExhaustedTotal.Inc()
	}
}

// RecordCheckin records a checkin with its outcome
func (r *Registry) RecordCheckin(outcome string) {
	if r == nil {
		return
	}
	r.PoolCheckinsTotal.WithLabelValues(outcome).Inc()
}

// RecordEviction records a session removed from circulation
func (r *Registry) RecordEviction(reason string) {
	if r == nil {
		return
	}
	r.PoolEvictionsTotal.WithLabelValues(reason).Inc()
}

// UpdatePoolSessions updates the session population gauges
func (r *Registry) UpdatePoolSessions(open, idle, leased int) {
	if r == nil {
		return
	}
	r.PoolOpenSessions.Set(float64(open))
	r.PoolIdleSessions.Set(float64(idle))
	r.PoolLeasedSessions.Set(float64(leased))
}

// RecordTransaction records a transaction control operation
func (r *Registry) RecordTransaction(operation, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.TransactionsTotal.WithLabelValues(operation, status).Inc()
	r.TransactionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPoisoned records a session poisoned during the given operation
func (r *Registry) RecordPoisoned(operation string) {
	if r == nil {
		return
	}
	r.SessionsPoisonedTotal.WithLabelValues(operation).Inc()
}
