package selection

import (
	"testing"

	"github.com/chainbound/vixy/pkg/node"
)

func topo() *node.Topology {
	return &node.Topology{
		EL: []node.Upstream{
			{Name: "p1", Kind: node.KindEL, Role: node.RolePrimary, HTTPURL: "http://p1", WSURL: "ws://p1"},
			{Name: "p2", Kind: node.KindEL, Role: node.RolePrimary, HTTPURL: "http://p2", WSURL: "ws://p2"},
			{Name: "b1", Kind: node.KindEL, Role: node.RoleBackup, HTTPURL: "http://b1", WSURL: "ws://b1"},
			{Name: "b2", Kind: node.KindEL, Role: node.RoleBackup, HTTPURL: "http://b2"},
		},
		CL: []node.Upstream{
			{Name: "c1", Kind: node.KindCL, Role: node.RolePrimary, HTTPURL: "http://c1"},
			{Name: "c2", Kind: node.KindCL, Role: node.RolePrimary, HTTPURL: "http://c2"},
		},
	}
}

// stateWith marks the given EL and CL upstreams healthy at the same head.
func stateWith(t *testing.T, topology *node.Topology, healthyEL, healthyCL []string) *node.State {
	t.Helper()
	s := node.NewState(topology, node.Limits{MaxELLag: 5, MaxCLLag: 3, MaxConsecutiveFailures: 3})

	isHealthy := func(set []string, name string) bool {
		for _, n := range set {
			if n == name {
				return true
			}
		}
		return false
	}

	var el []node.ELProbeResult
	for _, u := range topology.EL {
		el = append(el, node.ELProbeResult{Name: u.Name, OK: isHealthy(healthyEL, u.Name), BlockNumber: 100})
	}
	s.ApplyEL(el)

	var cl []node.CLProbeResult
	for _, u := range topology.CL {
		ok := isHealthy(healthyCL, u.Name)
		cl = append(cl, node.CLProbeResult{Name: u.Name, HealthOK: ok, SlotOK: ok, Slot: 50})
	}
	s.ApplyCL(cl)
	return s
}

func TestELHTTP(t *testing.T) {
	topology := topo()
	tests := []struct {
		name     string
		healthy  []string
		want     string
		wantNone bool
	}{
		{"all healthy picks first primary", []string{"p1", "p2", "b1", "b2"}, "p1", false},
		{"first primary down picks second", []string{"p2", "b1", "b2"}, "p2", false},
		{"primaries down picks first backup", []string{"b1", "b2"}, "b1", false},
		{"only second backup healthy", []string{"b2"}, "b2", false},
		{"nothing healthy", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stateWith(t, topology, tt.healthy, nil)
			got, ok := ELHTTP(topology, s)
			if ok == tt.wantNone {
				t.Fatalf("ok = %v, wantNone = %v", ok, tt.wantNone)
			}
			if !tt.wantNone && got.Name != tt.want {
				t.Errorf("selected %q, want %q", got.Name, tt.want)
			}
		})
	}
}

func TestELWS_SkipsNodesWithoutEndpoint(t *testing.T) {
	topology := topo()

	// b2 is healthy but has no ws_url; b1 is the only WS-capable backup.
	s := stateWith(t, topology, []string{"b1", "b2"}, nil)
	got, ok := ELWS(topology, s)
	if !ok || got.Name != "b1" {
		t.Errorf("ELWS = %v/%v, want b1", got.Name, ok)
	}

	// Only b2 healthy: no WS-capable node available.
	s = stateWith(t, topology, []string{"b2"}, nil)
	if _, ok := ELWS(topology, s); ok {
		t.Error("ELWS should find no node when only the non-WS backup is healthy")
	}
}

func TestCL(t *testing.T) {
	topology := topo()

	s := stateWith(t, topology, nil, []string{"c1", "c2"})
	if got, ok := CL(topology, s); !ok || got.Name != "c1" {
		t.Errorf("CL = %v/%v, want c1", got.Name, ok)
	}

	s = stateWith(t, topology, nil, []string{"c2"})
	if got, ok := CL(topology, s); !ok || got.Name != "c2" {
		t.Errorf("CL = %v/%v, want c2", got.Name, ok)
	}

	s = stateWith(t, topology, nil, nil)
	if _, ok := CL(topology, s); ok {
		t.Error("CL should find no node when none are healthy")
	}
}

func TestSelection_Deterministic(t *testing.T) {
	topology := topo()
	s := stateWith(t, topology, []string{"p2", "b1"}, []string{"c2"})

	first, _ := ELWS(topology, s)
	for i := 0; i < 100; i++ {
		got, ok := ELWS(topology, s)
		if !ok || got.Name != first.Name {
			t.Fatalf("selection changed between calls: %q then %q", first.Name, got.Name)
		}
	}
}
