package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chainbound/vixy/pkg/node"
	"github.com/chainbound/vixy/pkg/selection"
	"github.com/chainbound/vixy/pkg/telemetry/metrics"
)

// CLHandler proxies Beacon REST requests to the best healthy CL upstream,
// preserving method, path tail and query string.
type CLHandler struct {
	topo    *node.Topology
	state   *node.State
	metrics *metrics.Collector

	// prefix is the mount path stripped from incoming requests ("/cl").
	prefix string

	client     *http.Client
	timeout    time.Duration
	maxRetries int
}

// NewCLHandler creates the /cl handler. The collector may be nil.
func NewCLHandler(topo *node.Topology, state *node.State, collector *metrics.Collector, prefix string, timeout time.Duration, maxRetries int) *CLHandler {
	return &CLHandler{
		topo:       topo,
		state:      state,
		metrics:    collector,
		prefix:     prefix,
		client:     &http.Client{},
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *CLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, h.prefix)
	if !strings.HasPrefix(tail, "/") {
		tail = "/" + tail
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	lastStatus := http.StatusBadGateway
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		target, ok := selection.CL(h.topo, h.state)
		if !ok {
			http.Error(w, "no healthy CL upstream available", http.StatusServiceUnavailable)
			return
		}

		url := strings.TrimSuffix(target.HTTPURL, "/") + tail
		if r.URL.RawQuery != "" {
			url += "?" + r.URL.RawQuery
		}

		req, err := http.NewRequestWithContext(ctx, r.Method, url, bytes.NewReader(body))
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		copyHeaders(req.Header, r.Header)

		start := time.Now()
		resp, err := h.client.Do(req)
		if err != nil {
			lastStatus = upstreamErrorStatus(err)
			slog.Warn("CL upstream request failed",
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
			h.metrics.Request.ObserveCL(target.Name, time.Since(start))
		}
		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		resp.Body.Close()
		return
	}

	http.Error(w, "CL upstream unavailable", lastStatus)
}
