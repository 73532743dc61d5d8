package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports rate-limiter state to Prometheus. Passing nil to
// NewRegistry registers against a fresh registry (so tests never collide
// with the default global one); the CLI wires the default registry so
// --metrics-addr can serve it via promhttp.Handler.
type Metrics struct {
	acquires *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)
	return &Metrics{
		acquires: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_acquires_total",
			Help: "Rate limiter acquire() outcomes by service and outcome.",
		}, []string{"service", "outcome"}),
	}
}

func (m *Metrics) observeAcquire(service, outcome string) {
	if m == nil {
		return
	}
	m.acquires.WithLabelValues(service, outcome).Inc()
}
