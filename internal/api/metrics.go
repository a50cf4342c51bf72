package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	OptimizeDuration prometheus.Histogram
	ActiveJobs       prometheus.Gauge
}

// NewMetrics registers the server metrics with reg. Passing nil uses the
// default registry; tests pass a fresh one so repeated server construction
// does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "api_requests_total",
			Help:      "API requests by endpoint.",
		}, []string{"endpoint"}),
		OptimizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "optimize_duration_seconds",
			Help:      "Wall-clock duration of optimization runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatch",
			Name:      "active_backtest_jobs",
			Help:      "Backtest jobs currently running.",
		}),
	}
}
