package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransactionMetrics() {
	r.TransactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbpool_transactions_total",
			Help: "Total number of transaction control operations",
		},
		[]string{"operation", "status"},
	)

	r.TransactionDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbpool_transaction_duration_seconds",
			Help:    "Transaction control operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	r.SessionsPoisonedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbpool_sessions_poisoned_total",
			Help: "Total number of sessions poisoned by ambiguous-outcome failures",
		},
		[]string{"operation"},
	)
}
