package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPoolMetrics() {
	r.PoolCheckoutsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbpool_checkouts_total",
			Help: "Total number of session checkouts",
		},
		[]string{"status"},
	)

	r.PoolCheckinsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbpool_checkins_total",
			Help: "Total number of session checkins",
		},
		[]string{"outcome"},
	)

	r.PoolOpenSessions = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbpool_open_sessions",
			Help: "Number of physical sessions currently owned by the pool",
		},
	)

	r.PoolIdleSessions = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbpool_idle_sessions",
			Help: "Number of idle sessions available for checkout",
		},
	)

	r.PoolLeasedSessions = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbpool_leased_sessions",
			Help: "Number of sessions currently leased to callers",
		},
	)

	r.PoolEvictionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbpool_evictions_total",
			Help: "Total number of sessions evicted instead of returned to the idle set",
		},
		[]string{"reason"},
	)

	r.PoolExhaustedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "dbpool_exhausted_total",
			Help: "Total number of checkouts that timed out waiting for a session",
		},
	)

	r.PoolCheckoutWait = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbpool_checkout_wait_seconds",
			Help:    "Time spent waiting for a session at checkout",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)
}
