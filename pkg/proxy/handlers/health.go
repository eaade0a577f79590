package handlers

import "net/http"

// Health reports liveness of the proxy process itself.
func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
