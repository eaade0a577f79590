package node

// Kind identifies which protocol family an upstream belongs to.
type Kind string

const (
	// KindEL is an Execution Layer node (JSON-RPC over HTTP/WebSocket).
	KindEL Kind = "el"
	// KindCL is a Consensus Layer node (Beacon REST API over HTTP).
	KindCL Kind = "cl"
)

// Role is the topology tier of an upstream. Backups are only eligible
// when no primary of the same kind is healthy.
type Role string

const (
	RolePrimary Role = "primary"
	RoleBackup  Role = "backup"
)

// Upstream is the static description of a single upstream node. It is
// frozen at startup; runtime health lives in State.
type Upstream struct {
	// Name uniquely identifies the upstream within its kind.
	Name string

	// Kind is el or cl.
	Kind Kind

	// Role is primary or backup. CL upstreams are always primary.
	Role Role

	// HTTPURL is the JSON-RPC (EL) or Beacon REST (CL) base URL.
	HTTPURL string

	// WSURL is the WebSocket endpoint. EL only; may be empty.
	WSURL string
}

// Topology is the frozen set of upstreams, in declaration order.
// Primaries precede backups in EL; selection relies on that ordering.
type Topology struct {
	EL []Upstream
	CL []Upstream
}

// ELWithWS returns the EL upstreams that declare a WebSocket endpoint,
// preserving declaration order.
func (t *Topology) ELWithWS() []Upstream {
	out := make([]Upstream, 0, len(t.EL))
	for _, u := range t.EL {
		if u.WSURL != "" {
			out = append(out, u)
		}
	}
	return out
}

// FindEL returns the EL upstream with the given name, if any.
func (t *Topology) FindEL(name string) (Upstream, bool) {
	for _, u := range t.EL {
		if u.Name == name {
			return u, true
		}
	}
	return Upstream{}, false
}
