package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the pool. Callers construct their own
// instance and pass it down explicitly; there is no process-wide registry.
// All record helpers are safe to call on a nil *Registry, so components
// can treat metrics as optional.
type Registry struct {
	// Pool metrics
	PoolCheckoutsTotal    *prometheus.CounterVec
	PoolCheckinsTotal     *prometheus.CounterVec
	PoolOpenSessions      prometheus.Gauge
	PoolIdleSessions      prometheus.Gauge
	PoolLeasedSessions    prometheus.Gauge
	PoolEvictionsTotal    *prometheus.CounterVec
	PoolExhaustedTotal    prometheus.Counter
	PoolCheckoutWait      prometheus.Histogram

	// Transaction metrics
	TransactionsTotal     *prometheus.CounterVec
	TransactionDuration   *prometheus.HistogramVec
	SessionsPoisonedTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}

	r.initPoolMetrics()
	r.initTransactionMetrics()

	return r
}

// PrometheusRegistry returns the underlying prometheus registry for
// mounting an HTTP handler
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}
