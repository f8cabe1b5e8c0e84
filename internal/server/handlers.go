// Package server exposes HTTP handlers, including the subscriber WebSocket
// upgrade, health checks, and the status snapshot.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// WebSocketHandler handles WebSocket upgrade requests for subscribers.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, creates a new Subscriber and registers it with the hub.
func (b *Bridge) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := b.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	subscriber := NewSubscriber(conn, b.hub, r.RemoteAddr)

	// The hub launches the pump goroutines once it accepts the registration.
	if err := b.hub.Register(subscriber); err != nil {
		slog.Warn("Rejecting web client, hub is stopped", "remote_addr", r.RemoteAddr)
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "TCP bridge is running!")
}

// StatusHandler serves the current registry snapshot as JSON.
func (b *Bridge) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(b.status.Snapshot()); err != nil {
		slog.Warn("Error writing status response", "error", err)
	}
}
