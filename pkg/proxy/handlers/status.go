package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/chainbound/vixy/pkg/node"
)

// StatusResponse is the JSON body of /status.
type StatusResponse struct {
	ELChainHead      uint64         `json:"el_chain_head"`
	CLChainHead      uint64         `json:"cl_chain_head"`
	ELFailoverActive bool           `json:"el_failover_active"`
	ELNodes          []ELNodeStatus `json:"el_nodes"`
	CLNodes          []CLNodeStatus `json:"cl_nodes"`
}

// ELNodeStatus is one EL upstream's entry in /status.
type ELNodeStatus struct {
	Name        string `json:"name"`
	Healthy     bool   `json:"healthy"`
	BlockNumber uint64 `json:"block_number"`
	LagBlocks   uint64 `json:"lag_blocks"`
	Tier        string `json:"tier"`
}

// CLNodeStatus is one CL upstream's entry in /status.
type CLNodeStatus struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Slot     uint64 `json:"slot"`
	LagSlots uint64 `json:"lag_slots"`
	Tier     string `json:"tier"`
}

// StatusHandler serves a JSON snapshot of chain heads, the failover flag
// and per-node health.
type StatusHandler struct {
	topo  *node.Topology
	state *node.State
}

// NewStatusHandler creates the /status handler.
func NewStatusHandler(topo *node.Topology, state *node.State) *StatusHandler {
	return &StatusHandler{topo: topo, state: state}
}

// ServeHTTP implements the http.Handler interface.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		ELChainHead:      h.state.ELHead(),
		CLChainHead:      h.state.CLHead(),
		ELFailoverActive: h.state.FailoverActive(),
		ELNodes:          make([]ELNodeStatus, 0, len(h.topo.EL)),
		CLNodes:          make([]CLNodeStatus, 0, len(h.topo.CL)),
	}

	for _, u := range h.topo.EL {
		st, ok := h.state.EL(u.Name)
		if !ok {
			continue
		}
		resp.ELNodes = append(resp.ELNodes, ELNodeStatus{
			Name:        u.Name,
			Healthy:     st.Healthy,
			BlockNumber: st.BlockNumber,
			LagBlocks:   st.LagBlocks,
			Tier:        string(u.Role),
		})
	}
	for _, u := range h.topo.CL {
		st, ok := h.state.CL(u.Name)
		if !ok {
			continue
		}
		resp.CLNodes = append(resp.CLNodes, CLNodeStatus{
			Name:     u.Name,
			Healthy:  st.Healthy,
			Slot:     st.Slot,
			LagSlots: st.LagSlots,
			Tier:     string(u.Role),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
