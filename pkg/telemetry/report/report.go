// Package report logs a periodic one-line health summary covering both
// protocol families, scheduled with a cron expression. It gives operators a heartbeat
// in the logs without scraping metrics.
package report

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/chainbound/vixy/pkg/node"
)

// Reporter runs the scheduled health-summary job.
type Reporter struct {
	topo  *node.Topology
	state *node.State
	cron  *cron.Cron
}

// New creates a reporter for the given topology and state.
func New(topo *node.Topology, state *node.State) *Reporter {
	return &Reporter{
		topo:  topo,
		state: state,
		cron:  cron.New(),
	}
}

// Start schedules the summary job and starts the cron runner. An empty
// schedule disables the reporter.
func (r *Reporter) Start(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := r.cron.AddFunc(schedule, r.logSummary); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop stops the cron runner. A job in flight is allowed to finish.
func (r *Reporter) Stop() {
	r.cron.Stop()
}

func (r *Reporter) logSummary() {
	elHealthy := 0
	for _, u := range r.topo.EL {
		if r.state.ELHealthy(u.Name) {
			elHealthy++
		}
	}
	clHealthy := 0
	for _, u := range r.topo.CL {
		if r.state.CLHealthy(u.Name) {
			clHealthy++
		}
	}

	slog.Info("health summary",
		"el_healthy", elHealthy,
		"el_total", len(r.topo.EL),
		"el_chain_head", r.state.ELHead(),
		"cl_healthy", clHealthy,
		"cl_total", len(r.topo.CL),
		"cl_chain_head", r.state.CLHead(),
		"el_failover_active", r.state.FailoverActive(),
	)
}
