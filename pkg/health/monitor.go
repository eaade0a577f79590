// Package health runs the background monitor that probes every upstream
// on a fixed interval and publishes the results into shared node state.
// Within a cycle the probes of one kind run concurrently (EL first, then
// CL); cycles themselves are strictly sequential.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chainbound/vixy/pkg/node"
	"github.com/chainbound/vixy/pkg/telemetry/metrics"
)

// Monitor probes upstream nodes and updates the shared state.
type Monitor struct {
	topo    *node.Topology
	state   *node.State
	metrics *metrics.Collector

	interval time.Duration
	timeout  time.Duration

	client *http.Client
}

// New creates a monitor. The collector may be nil when metrics are
// disabled.
func New(topo *node.Topology, state *node.State, collector *metrics.Collector, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		topo:     topo,
		state:    state,
		metrics:  collector,
		interval: interval,
		timeout:  timeout,
		client: &http.Client{
			// Per-probe deadlines come from the context; the client
			// timeout is a backstop.
			Timeout: timeout + time.Second,
		},
	}
}

// Run executes probe cycles until the context is cancelled. An overlong
// cycle delays the next one; cycles never overlap. Upstream failures are
// absorbed into state; only cancellation stops the monitor.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("health monitor started",
		"interval", m.interval,
		"timeout", m.timeout,
		"el_nodes", len(m.topo.EL),
		"cl_nodes", len(m.topo.CL),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Probe immediately so selection has data before the first tick.
	m.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle performs one full probe cycle over both kinds.
func (m *Monitor) RunCycle(ctx context.Context) {
	elResults := m.probeAllEL(ctx)
	clResults := m.probeAllCL(ctx)

	prevFailover := m.state.FailoverActive()
	activated := m.state.ApplyEL(elResults)
	m.state.ApplyCL(clResults)

	if activated {
		slog.Warn("EL failover activated: no healthy primary")
		if m.metrics != nil {
			m.metrics.Node.FailoverActivated()
		}
	} else if prevFailover && !m.state.FailoverActive() {
		slog.Info("EL failover cleared: primary healthy again")
	}

	if m.metrics != nil {
		m.metrics.Node.ObserveEL(m.topo, m.state)
		m.metrics.Node.ObserveCL(m.topo, m.state)
	}
}

// probeAllEL probes every EL upstream concurrently and collects results.
func (m *Monitor) probeAllEL(ctx context.Context) []node.ELProbeResult {
	results := make([]node.ELProbeResult, len(m.topo.EL))
	var wg sync.WaitGroup
	for i, u := range m.topo.EL {
		wg.Add(1)
		go func(i int, u node.Upstream) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			blockNumber, err := m.probeEL(probeCtx, u.HTTPURL)
			if err != nil {
				slog.Debug("EL probe failed", "node", u.Name, "error", err)
				results[i] = node.ELProbeResult{Name: u.Name}
				return
			}
			results[i] = node.ELProbeResult{Name: u.Name, OK: true, BlockNumber: blockNumber}
		}(i, u)
	}
	wg.Wait()
	return results
}

// probeAllCL probes every CL upstream concurrently. The health and slot
// probes of one node run in sequence under the same deadline.
func (m *Monitor) probeAllCL(ctx context.Context) []node.CLProbeResult {
	results := make([]node.CLProbeResult, len(m.topo.CL))
	var wg sync.WaitGroup
	for i, u := range m.topo.CL {
		wg.Add(1)
		go func(i int, u node.Upstream) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			r := node.CLProbeResult{Name: u.Name}
			r.HealthOK = m.probeCLHealth(probeCtx, u.HTTPURL)

			slot, err := m.probeCLSlot(probeCtx, u.HTTPURL)
			if err != nil {
				slog.Debug("CL slot probe failed", "node", u.Name, "error", err)
			} else {
				r.SlotOK = true
				r.Slot = slot
			}
			results[i] = r
		}(i, u)
	}
	wg.Wait()
	return results
}
