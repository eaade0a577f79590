// Package handlers implements the HTTP surface of the proxy: EL JSON-RPC
// and CL REST pass-through, the status snapshot, and liveness.
package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// hopHeaders are connection-level headers that must not be forwarded in
// either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// copyHeaders copies all headers except hop-by-hop ones.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if http.CanonicalHeaderKey(key) == h {
			return true
		}
	}
	return false
}

// upstreamErrorStatus maps a transport error to the status reported to
// the client: 504 on timeout, 502 otherwise.
func upstreamErrorStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
