package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics tracks the HTTP pass-through proxy.
//
// Metrics:
//   - vixy_el_requests_total{node,tier}
//   - vixy_cl_requests_total{node}
//   - vixy_el_request_duration_seconds{node,tier}
//   - vixy_cl_request_duration_seconds{node}
type RequestMetrics struct {
	elRequests *prometheus.CounterVec
	clRequests *prometheus.CounterVec
	elDuration *prometheus.HistogramVec
	clDuration *prometheus.HistogramVec
}

func newRequestMetrics(registry *prometheus.Registry) *RequestMetrics {
	// Buckets sized for upstream JSON-RPC latencies (1ms - 10s).
	buckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	m := &RequestMetrics{
		elRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "el_requests_total",
				Help:      "EL JSON-RPC requests proxied, by serving node",
			},
			[]string{"node", "tier"},
		),
		clRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "cl_requests_total",
				Help:      "CL REST requests proxied, by serving node",
			},
			[]string{"node"},
		),
		elDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "el_request_duration_seconds",
				Help:      "EL request duration",
				Buckets:   buckets,
			},
			[]string{"node", "tier"},
		),
		clDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "cl_request_duration_seconds",
				Help:      "CL request duration",
				Buckets:   buckets,
			},
			[]string{"node"},
		),
	}

	registry.MustRegister(m.elRequests, m.clRequests, m.elDuration, m.clDuration)
	return m
}

// ObserveEL records one proxied EL request served by the given node.
func (m *RequestMetrics) ObserveEL(nodeName, tier string, elapsed time.Duration) {
	m.elRequests.WithLabelValues(nodeName, tier).Inc()
	m.elDuration.WithLabelValues(nodeName, tier).Observe(elapsed.Seconds())
}

// ObserveCL records one proxied CL request served by the given node.
func (m *RequestMetrics) ObserveCL(nodeName string, elapsed time.Duration) {
	m.clRequests.WithLabelValues(nodeName).Inc()
	m.clDuration.WithLabelValues(nodeName).Observe(elapsed.Seconds())
}
