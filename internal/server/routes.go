// Package server wires HTTP handlers into a ServeMux for the bridge via
// routing helpers.
package server

import (
	"net/http"

	"github.com/Tyrowin/tcpbridge/internal/metrics"
)

// SetupRoutes configures and returns an HTTP ServeMux with all bridge routes.
// It sets up handlers for health check, status snapshot, metrics and the
// WebSocket subscriber endpoint.
func SetupRoutes(b *Bridge) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", b.WebSocketHandler)
	mux.HandleFunc("/status", b.StatusHandler)
	mux.Handle("/metrics", metrics.Handler(b.metricsRegistry))
	return mux
}
