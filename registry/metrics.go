package registry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for the pool registry.
type Metrics struct {
	pools        prometheus.Gauge
	createsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics for the pool registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "amm_registry_pools",
			Help: "Number of pools created by the registry.",
		}),
		createsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_registry_create_pool_total",
			Help: "Total number of pool creation attempts, labeled by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.pools, m.createsTotal)
	return m
}
