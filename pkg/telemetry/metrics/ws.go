package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Directions for ws_messages_total.
const (
	DirectionClientToUpstream = "client_to_upstream"
	DirectionUpstreamToClient = "upstream_to_client"
)

// Reconnection attempt outcomes for ws_reconnection_attempts_total.
const (
	ReconnectSuccess = "success"
	ReconnectFailure = "failure"
)

// WSMetrics tracks the WebSocket proxy.
//
// Metrics:
//   - vixy_ws_connections_total
//   - vixy_ws_connections_active
//   - vixy_ws_messages_total{direction}
//   - vixy_ws_reconnections_total
//   - vixy_ws_reconnection_attempts_total{status}
//   - vixy_ws_subscriptions_total
//   - vixy_ws_subscriptions_active
//   - vixy_ws_upstream_node{node}
type WSMetrics struct {
	connections       prometheus.Counter
	connectionsActive prometheus.Gauge
	messages          *prometheus.CounterVec
	reconnections     prometheus.Counter
	reconnectAttempts *prometheus.CounterVec
	subscriptions     prometheus.Counter
	subscriptionsLive prometheus.Gauge
	upstreamNode      *prometheus.GaugeVec
}

func newWSMetrics(registry *prometheus.Registry) *WSMetrics {
	m := &WSMetrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_connections_total",
			Help:      "Accepted client WebSocket connections",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ws_connections_active",
			Help:      "Currently open client WebSocket connections",
		}),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ws_messages_total",
				Help:      "WebSocket messages proxied, by direction",
			},
			[]string{"direction"},
		),
		reconnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_reconnections_total",
			Help:      "Successful upstream reconnections",
		}),
		reconnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ws_reconnection_attempts_total",
				Help:      "Upstream reconnection attempts, by outcome",
			},
			[]string{"status"},
		),
		subscriptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_subscriptions_total",
			Help:      "Client subscriptions established (replays excluded)",
		}),
		subscriptionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ws_subscriptions_active",
			Help:      "Currently live client subscriptions",
		}),
		upstreamNode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "ws_upstream_node",
				Help:      "WebSocket connections currently routed to each node",
			},
			[]string{"node"},
		),
	}

	registry.MustRegister(
		m.connections, m.connectionsActive, m.messages,
		m.reconnections, m.reconnectAttempts,
		m.subscriptions, m.subscriptionsLive,
		m.upstreamNode,
	)
	return m
}

// ConnectionOpened records an accepted client connection.
func (m *WSMetrics) ConnectionOpened() {
	m.connections.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a closed client connection.
func (m *WSMetrics) ConnectionClosed() {
	m.connectionsActive.Dec()
}

// Message counts one proxied message in the given direction.
func (m *WSMetrics) Message(direction string) {
	m.messages.WithLabelValues(direction).Inc()
}

// UpstreamConnected marks a connection as routed to the named node.
func (m *WSMetrics) UpstreamConnected(nodeName string) {
	m.upstreamNode.WithLabelValues(nodeName).Inc()
}

// UpstreamDisconnected clears a connection's routing to the named node.
// On reconnection this must be called for the old node before
// UpstreamConnected is called for the new one.
func (m *WSMetrics) UpstreamDisconnected(nodeName string) {
	m.upstreamNode.WithLabelValues(nodeName).Dec()
}

// ReconnectSucceeded records a completed reconnection.
func (m *WSMetrics) ReconnectSucceeded() {
	m.reconnections.Inc()
	m.reconnectAttempts.WithLabelValues(ReconnectSuccess).Inc()
}

// ReconnectFailed records a failed reconnection attempt.
func (m *WSMetrics) ReconnectFailed() {
	m.reconnectAttempts.WithLabelValues(ReconnectFailure).Inc()
}

// SubscriptionEstablished counts a new client subscription. Replayed
// subscriptions are not counted.
func (m *WSMetrics) SubscriptionEstablished() {
	m.subscriptions.Inc()
	m.subscriptionsLive.Inc()
}

// SubscriptionRemoved records an unsubscribed or torn-down subscription.
func (m *WSMetrics) SubscriptionRemoved(n int) {
	m.subscriptionsLive.Sub(float64(n))
}
