package server

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/Tyrowin/tcpbridge/internal/metrics"
)

// Publisher fans an event out to every subscriber.
type Publisher interface {
	Publish(event EventName, payload any) error
}

// Replier delivers an event to a single subscriber.
type Replier interface {
	Reply(event EventName, payload any) error
}

// StatusPublisher emits registry snapshots to all subscribers.
type StatusPublisher struct {
	registry *Registry
	pub      Publisher
	metrics  *metrics.BridgeMetrics

	// mu orders publications so no subscriber sees an older snapshot after a newer one.
	mu sync.Mutex
}

// NewStatusPublisher creates a StatusPublisher reading from registry.
func NewStatusPublisher(registry *Registry, pub Publisher, m *metrics.BridgeMetrics) *StatusPublisher {
	return &StatusPublisher{registry: registry, pub: pub, metrics: m}
}

// Snapshot computes the current registry view.
func (s *StatusPublisher) Snapshot() StatusSnapshot {
	clients := lo.Map(s.registry.Snapshot(), func(p *Peer, _ int) ClientInfo {
		return p.Info()
	})

	return StatusSnapshot{
		Connected:   len(clients) > 0,
		ClientCount: len(clients),
		Clients:     clients,
	}
}

// Publish broadcasts the current snapshot as a tcp-status event.
func (s *StatusPublisher) Publish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.Snapshot()
	s.metrics.PeersConnected.Set(float64(snapshot.ClientCount))

	if err := s.pub.Publish(EventTCPStatus, snapshot); err != nil {
		slog.Warn("Failed to publish TCP status", "error", err, "clients", snapshot.ClientCount)
		return
	}
	s.metrics.StatusPublished.Inc()
}
