// Package selection picks the best upstream for a request class from the
// frozen topology and the current health state. Selection is a pure
// function of its inputs: given the same snapshot it always returns the
// same node. Upstreams are ranked by declaration order, primaries before
// backups; there is no load balancing between healthy nodes.
package selection

import (
	"github.com/chainbound/vixy/pkg/node"
)

// ELHTTP returns the first healthy EL primary in declaration order,
// falling back to the first healthy backup. The second return value is
// false when no healthy EL upstream exists.
func ELHTTP(topo *node.Topology, state *node.State) (node.Upstream, bool) {
	return firstHealthyEL(topo.EL, state)
}

// ELWS applies the same rule over EL upstreams that declare a WebSocket
// endpoint.
func ELWS(topo *node.Topology, state *node.State) (node.Upstream, bool) {
	return firstHealthyEL(topo.ELWithWS(), state)
}

// CL returns the first healthy CL upstream in declaration order.
func CL(topo *node.Topology, state *node.State) (node.Upstream, bool) {
	for _, u := range topo.CL {
		if state.CLHealthy(u.Name) {
			return u, true
		}
	}
	return node.Upstream{}, false
}

// firstHealthyEL scans primaries first, then backups, preserving the
// declaration order within each tier.
func firstHealthyEL(upstreams []node.Upstream, state *node.State) (node.Upstream, bool) {
	for _, role := range []node.Role{node.RolePrimary, node.RoleBackup} {
		for _, u := range upstreams {
			if u.Role != role {
				continue
			}
			if state.ELHealthy(u.Name) {
				return u, true
			}
		}
	}
	return node.Upstream{}, false
}
