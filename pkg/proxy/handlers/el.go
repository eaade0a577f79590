package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chainbound/vixy/pkg/node"
	"github.com/chainbound/vixy/pkg/selection"
	"github.com/chainbound/vixy/pkg/telemetry/metrics"
)

// ELHandler proxies EL JSON-RPC POST requests (single or batch) to the
// best healthy EL upstream, retrying transport failures against the
// then-best node up to the retry budget.
type ELHandler struct {
	topo    *node.Topology
	state   *node.State
	metrics *metrics.Collector

	client     *http.Client
	timeout    time.Duration
	maxRetries int
}

// NewELHandler creates the /el handler. The collector may be nil.
func NewELHandler(topo *node.Topology, state *node.State, collector *metrics.Collector, timeout time.Duration, maxRetries int) *ELHandler {
	return &ELHandler{
		topo:       topo,
		state:      state,
		metrics:    collector,
		client:     &http.Client{},
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *ELHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	// The whole request, retries included, runs under one deadline.
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	lastStatus := http.StatusBadGateway
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		target, ok := selection.ELHTTP(h.topo, h.state)
		if !ok {
			http.Error(w, "no healthy EL upstream available", http.StatusServiceUnavailable)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.HTTPURL, bytes.NewReader(body))
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		copyHeaders(req.Header, r.Header)
		req.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := h.client.Do(req)
		if err != nil {
			lastStatus = upstreamErrorStatus(err)
			slog.Warn("EL upstream request failed",
				"node", target.Name,
				"attempt", attempt,
				"error", err,
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if h.metrics != nil {
			h.metrics.Request.ObserveEL(target.Name, string(target.Role), time.Since(start))
		}
		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		resp.Body.Close()
		return
	}

	http.Error(w, "EL upstream unavailable", lastStatus)
}
