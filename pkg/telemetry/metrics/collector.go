// Package metrics registers and records Vixy's Prometheus metrics.
// A Collector owns a private registry; the per-area metric structs
// (node, websocket, request) are created and registered at construction
// so recording never allocates metric instances on the hot path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the prefix of every Vixy metric.
const Namespace = "vixy"

// Collector owns the metrics registry and the per-area metric sets.
type Collector struct {
	registry *prometheus.Registry

	// Node holds upstream health gauges and the failover counter.
	Node *NodeMetrics

	// WS holds WebSocket proxy counters and gauges.
	WS *WSMetrics

	// Request holds HTTP proxy counters and duration histograms.
	Request *RequestMetrics
}

// NewCollector creates a collector with all metric sets registered on a
// fresh registry. If registry is nil a new one is used.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Collector{
		registry: registry,
		Node:     newNodeMetrics(registry),
		WS:       newWSMetrics(registry),
		Request:  newRequestMetrics(registry),
	}
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
