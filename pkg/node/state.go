// Package node holds the frozen upstream topology and the shared runtime
// view of upstream health. The health monitor is the only writer; selection,
// the WebSocket watcher and the status endpoint read concurrently.
package node

import (
	"sync"
	"sync/atomic"
)

// Limits are the health thresholds applied when deriving node health.
// They are frozen at startup from configuration.
type Limits struct {
	// MaxELLag is the maximum tolerated block lag for an EL node.
	MaxELLag uint64

	// MaxCLLag is the maximum tolerated slot lag for a CL node.
	MaxCLLag uint64

	// MaxConsecutiveFailures is the probe-failure count at which a node
	// is considered unhealthy. The stored counter saturates here.
	MaxConsecutiveFailures uint32
}

// ELStatus is the runtime state of a single EL upstream.
type ELStatus struct {
	// CheckOK reports whether the last eth_blockNumber probe succeeded.
	CheckOK bool

	// BlockNumber is the last successfully observed head block.
	BlockNumber uint64

	// ConsecutiveFailures counts probe failures since the last success,
	// saturating at Limits.MaxConsecutiveFailures.
	ConsecutiveFailures uint32

	// LagBlocks is max(0, chain head - BlockNumber).
	LagBlocks uint64

	// Healthy is the derived health verdict.
	Healthy bool
}

// CLStatus is the runtime state of a single CL upstream.
type CLStatus struct {
	// HealthOK reports whether /eth/v1/node/health last returned 2xx.
	HealthOK bool

	// CheckOK reports whether the head-slot probe last succeeded.
	CheckOK bool

	// Slot is the last successfully observed head slot.
	Slot uint64

	ConsecutiveFailures uint32
	LagSlots            uint64
	Healthy             bool
}

// ELProbeResult is the outcome of one EL probe, supplied by the monitor.
type ELProbeResult struct {
	Name        string
	OK          bool
	BlockNumber uint64
}

// CLProbeResult is the outcome of one CL probe pair. HealthOK and SlotOK
// are independent; the probe as a whole succeeded only if both did.
type CLProbeResult struct {
	Name     string
	HealthOK bool
	SlotOK   bool
	Slot     uint64
}

// State is the shared, concurrently readable view of upstream health.
// Per-cycle updates are applied as a batch under the write lock so readers
// never observe a half-updated cycle. Chain heads and the failover flag are
// additionally mirrored into atomics for lock-free reads.
type State struct {
	limits Limits

	mu sync.RWMutex
	el map[string]ELStatus
	cl map[string]CLStatus

	// Declaration order, retained for status reporting.
	elNames []string
	clNames []string

	// Names of EL primaries, for the failover derivation.
	elPrimaries []string

	elHead     atomic.Uint64
	clHead     atomic.Uint64
	elFailover atomic.Bool
}

// NewState initializes runtime state for every upstream in the topology.
// All nodes start unhealthy with zero position.
func NewState(topo *Topology, limits Limits) *State {
	s := &State{
		limits: limits,
		el:     make(map[string]ELStatus, len(topo.EL)),
		cl:     make(map[string]CLStatus, len(topo.CL)),
	}
	for _, u := range topo.EL {
		s.el[u.Name] = ELStatus{}
		s.elNames = append(s.elNames, u.Name)
		if u.Role == RolePrimary {
			s.elPrimaries = append(s.elPrimaries, u.Name)
		}
	}
	for _, u := range topo.CL {
		s.cl[u.Name] = CLStatus{}
		s.clNames = append(s.clNames, u.Name)
	}
	return s
}

// ApplyEL applies one cycle of EL probe results as a single atomic update.
// It recomputes the EL chain head, per-node lag and health, and the global
// failover flag. The return value reports whether this update activated
// failover (the false to true transition).
func (s *State) ApplyEL(results []ELProbeResult) (failoverActivated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range results {
		st, ok := s.el[r.Name]
		if !ok {
			continue
		}
		st.CheckOK = r.OK
		if r.OK {
			st.BlockNumber = r.BlockNumber
			st.ConsecutiveFailures = 0
		} else if st.ConsecutiveFailures < s.limits.MaxConsecutiveFailures {
			st.ConsecutiveFailures++
		}
		s.el[r.Name] = st
	}

	// The chain head is the highest position among nodes whose last probe
	// succeeded; zero when none did.
	var head uint64
	for _, st := range s.el {
		if st.CheckOK && st.BlockNumber > head {
			head = st.BlockNumber
		}
	}
	s.elHead.Store(head)

	for name, st := range s.el {
		st.LagBlocks = lag(head, st.BlockNumber)
		st.Healthy = st.CheckOK &&
			st.LagBlocks <= s.limits.MaxELLag &&
			st.ConsecutiveFailures < s.limits.MaxConsecutiveFailures
		s.el[name] = st
	}

	anyPrimaryHealthy := false
	for _, name := range s.elPrimaries {
		if s.el[name].Healthy {
			anyPrimaryHealthy = true
			break
		}
	}
	wasActive := s.elFailover.Load()
	s.elFailover.Store(!anyPrimaryHealthy)
	return !anyPrimaryHealthy && !wasActive
}

// ApplyCL applies one cycle of CL probe results as a single atomic update.
func (s *State) ApplyCL(results []CLProbeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range results {
		st, ok := s.cl[r.Name]
		if !ok {
			continue
		}
		st.HealthOK = r.HealthOK
		st.CheckOK = r.SlotOK
		if r.SlotOK {
			st.Slot = r.Slot
		}
		if r.HealthOK && r.SlotOK {
			st.ConsecutiveFailures = 0
		} else if st.ConsecutiveFailures < s.limits.MaxConsecutiveFailures {
			st.ConsecutiveFailures++
		}
		s.cl[r.Name] = st
	}

	var head uint64
	for _, st := range s.cl {
		if st.CheckOK && st.Slot > head {
			head = st.Slot
		}
	}
	s.clHead.Store(head)

	for name, st := range s.cl {
		st.LagSlots = lag(head, st.Slot)
		st.Healthy = st.CheckOK && st.HealthOK &&
			st.LagSlots <= s.limits.MaxCLLag &&
			st.ConsecutiveFailures < s.limits.MaxConsecutiveFailures
		s.cl[name] = st
	}
}

func lag(head, position uint64) uint64 {
	if position >= head {
		return 0
	}
	return head - position
}

// EL returns a copy of the runtime state of the named EL upstream.
func (s *State) EL(name string) (ELStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.el[name]
	return st, ok
}

// CL returns a copy of the runtime state of the named CL upstream.
func (s *State) CL(name string) (CLStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.cl[name]
	return st, ok
}

// ELHealthy reports whether the named EL upstream is currently healthy.
func (s *State) ELHealthy(name string) bool {
	st, ok := s.EL(name)
	return ok && st.Healthy
}

// CLHealthy reports whether the named CL upstream is currently healthy.
func (s *State) CLHealthy(name string) bool {
	st, ok := s.CL(name)
	return ok && st.Healthy
}

// SnapshotEL returns the state of every EL upstream in declaration order.
func (s *State) SnapshotEL() []NamedELStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NamedELStatus, 0, len(s.elNames))
	for _, name := range s.elNames {
		out = append(out, NamedELStatus{Name: name, ELStatus: s.el[name]})
	}
	return out
}

// SnapshotCL returns the state of every CL upstream in declaration order.
func (s *State) SnapshotCL() []NamedCLStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NamedCLStatus, 0, len(s.clNames))
	for _, name := range s.clNames {
		out = append(out, NamedCLStatus{Name: name, CLStatus: s.cl[name]})
	}
	return out
}

// NamedELStatus pairs an EL upstream name with its runtime state.
type NamedELStatus struct {
	Name string
	ELStatus
}

// NamedCLStatus pairs a CL upstream name with its runtime state.
type NamedCLStatus struct {
	Name string
	CLStatus
}

// ELHead returns the current EL chain head without locking.
func (s *State) ELHead() uint64 { return s.elHead.Load() }

// CLHead returns the current CL chain head without locking.
func (s *State) CLHead() uint64 { return s.clHead.Load() }

// FailoverActive reports whether no EL primary is currently healthy.
func (s *State) FailoverActive() bool { return s.elFailover.Load() }

// Limits returns the configured health thresholds.
func (s *State) Limits() Limits { return s.limits }
