package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainbound/vixy/pkg/node"
)

// NodeMetrics tracks upstream node health as observed by the monitor.
//
// Metrics:
//   - vixy_el_node_block_number{node,tier}
//   - vixy_el_node_lag_blocks{node,tier}
//   - vixy_el_node_healthy{node,tier}
//   - vixy_cl_node_slot{node}
//   - vixy_cl_node_lag_slots{node}
//   - vixy_cl_node_healthy{node}
//   - vixy_el_chain_head, vixy_cl_chain_head
//   - vixy_el_healthy_nodes, vixy_cl_healthy_nodes
//   - vixy_el_failovers_total
type NodeMetrics struct {
	elBlockNumber *prometheus.GaugeVec
	elLagBlocks   *prometheus.GaugeVec
	elHealthy     *prometheus.GaugeVec

	clSlot     *prometheus.GaugeVec
	clLagSlots *prometheus.GaugeVec
	clHealthy  *prometheus.GaugeVec

	elChainHead    prometheus.Gauge
	clChainHead    prometheus.Gauge
	elHealthyCount prometheus.Gauge
	clHealthyCount prometheus.Gauge

	failovers prometheus.Counter
}

func newNodeMetrics(registry *prometheus.Registry) *NodeMetrics {
	m := &NodeMetrics{
		elBlockNumber: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "el_node_block_number",
				Help:      "Last observed head block of an EL node",
			},
			[]string{"node", "tier"},
		),
		elLagBlocks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "el_node_lag_blocks",
				Help:      "Blocks behind the EL chain head",
			},
			[]string{"node", "tier"},
		),
		elHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "el_node_healthy",
				Help:      "EL node health (1=healthy, 0=unhealthy)",
			},
			[]string{"node", "tier"},
		),
		clSlot: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "cl_node_slot",
				Help:      "Last observed head slot of a CL node",
			},
			[]string{"node"},
		),
		clLagSlots: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "cl_node_lag_slots",
				Help:      "Slots behind the CL chain head",
			},
			[]string{"node"},
		),
		clHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "cl_node_healthy",
				Help:      "CL node health (1=healthy, 0=unhealthy)",
			},
			[]string{"node"},
		),
		elChainHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "el_chain_head",
			Help:      "Highest observed EL block among reachable nodes",
		}),
		clChainHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cl_chain_head",
			Help:      "Highest observed CL slot among reachable nodes",
		}),
		elHealthyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "el_healthy_nodes",
			Help:      "Number of currently healthy EL nodes",
		}),
		clHealthyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cl_healthy_nodes",
			Help:      "Number of currently healthy CL nodes",
		}),
		failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "el_failovers_total",
			Help:      "Times the EL failover flag transitioned to active",
		}),
	}

	registry.MustRegister(
		m.elBlockNumber, m.elLagBlocks, m.elHealthy,
		m.clSlot, m.clLagSlots, m.clHealthy,
		m.elChainHead, m.clChainHead,
		m.elHealthyCount, m.clHealthyCount,
		m.failovers,
	)
	return m
}

// ObserveEL records the post-cycle state of the EL fleet.
func (m *NodeMetrics) ObserveEL(topo *node.Topology, state *node.State) {
	healthy := 0
	for _, u := range topo.EL {
		st, ok := state.EL(u.Name)
		if !ok {
			continue
		}
		tier := string(u.Role)
		m.elBlockNumber.WithLabelValues(u.Name, tier).Set(float64(st.BlockNumber))
		m.elLagBlocks.WithLabelValues(u.Name, tier).Set(float64(st.LagBlocks))
		m.elHealthy.WithLabelValues(u.Name, tier).Set(boolGauge(st.Healthy))
		if st.Healthy {
			healthy++
		}
	}
	m.elChainHead.Set(float64(state.ELHead()))
	m.elHealthyCount.Set(float64(healthy))
}

// ObserveCL records the post-cycle state of the CL fleet.
func (m *NodeMetrics) ObserveCL(topo *node.Topology, state *node.State) {
	healthy := 0
	for _, u := range topo.CL {
		st, ok := state.CL(u.Name)
		if !ok {
			continue
		}
		m.clSlot.WithLabelValues(u.Name).Set(float64(st.Slot))
		m.clLagSlots.WithLabelValues(u.Name).Set(float64(st.LagSlots))
		m.clHealthy.WithLabelValues(u.Name).Set(boolGauge(st.Healthy))
		if st.Healthy {
			healthy++
		}
	}
	m.clChainHead.Set(float64(state.CLHead()))
	m.clHealthyCount.Set(float64(healthy))
}

// FailoverActivated counts one failover event.
func (m *NodeMetrics) FailoverActivated() {
	m.failovers.Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
