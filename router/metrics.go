package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for the router.
type Metrics struct {
	opDuration *prometheus.HistogramVec
	opsTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics for the router.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amm_router_operation_duration_seconds",
			Help:    "Time taken to execute a router operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_router_operations_total",
			Help: "Total number of router operations, labeled by operation and result.",
		}, []string{"operation", "result"}),
	}
	reg.MustRegister(m.opDuration, m.opsTotal)
	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	m.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "success"
	if err != nil {
		result = "error"
	}
	m.opsTotal.WithLabelValues(op, result).Inc()
}
