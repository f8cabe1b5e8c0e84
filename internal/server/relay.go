// Package server relays messages between TCP peers and WebSocket subscribers.
package server

import (
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/Tyrowin/tcpbridge/internal/metrics"
)

// Relay moves messages in both directions: decoded peer frames become
// tcp-message events, and send-to-tcp requests are written to every peer.
type Relay struct {
	registry *Registry
	pub      Publisher
	status   *StatusPublisher
	clock    clockwork.Clock
	metrics  *metrics.BridgeMetrics
}

// NewRelay creates a Relay over the given registry and publisher.
func NewRelay(
	registry *Registry,
	pub Publisher,
	status *StatusPublisher,
	clock clockwork.Clock,
	m *metrics.BridgeMetrics,
) *Relay {
	return &Relay{
		registry: registry,
		pub:      pub,
		status:   status,
		clock:    clock,
		metrics:  m,
	}
}

// FromPeer decodes one frame received from p and publishes it to subscribers.
// Undecodable frames are logged and dropped; the connection stays open.
func (r *Relay) FromPeer(p *Peer, frame []byte) {
	msg, err := decodeMessage(frame)
	if err != nil {
		r.Discard(p, err)
		return
	}

	event := TCPMessageEvent{
		ClientID:  p.ID(),
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		Type:      msg.Type,
	}
	if event.Timestamp == "" {
		event.Timestamp = formatTimestamp(r.clock.Now())
	}
	if event.Type == "" {
		event.Type = MessageTypeUser
	}

	p.log.Debug("Message from TCP client", "type", event.Type, "content_length", len(event.Content))

	if err := r.pub.Publish(EventTCPMessage, event); err != nil {
		p.log.Warn("Failed to publish TCP message", "error", err)
		return
	}
	r.metrics.PeerMessagesRelayed.Inc()
}

// Discard records a frame from p that could not be relayed.
func (r *Relay) Discard(p *Peer, err error) {
	p.log.Warn("Discarding malformed message from TCP client", "error", err)
	r.metrics.PeerDecodeErrors.Inc()
}

// ToPeers writes a web-message to every registered peer, removing any peer
// whose write fails, then acknowledges the requester and republishes status.
func (r *Relay) ToPeers(from Replier, req SendToTCPRequest) MessageSentEvent {
	msg := Message{
		Type:      MessageTypeWeb,
		Content:   req.Content,
		Timestamp: req.Timestamp,
	}
	if msg.Timestamp == "" {
		msg.Timestamp = formatTimestamp(r.clock.Now())
	}
	ack := MessageSentEvent{Content: msg.Content, Timestamp: msg.Timestamp}

	frame, err := encodeFrame(msg)
	if err != nil {
		slog.Error("Failed to encode web message", "error", err)
		return ack
	}

	peers := r.registry.Snapshot()
	delivered := r.sweep(peers, frame)
	slog.Info("Relayed web message to TCP clients", "delivered", delivered, "targets", len(peers))
	r.metrics.WebMessagesRelayed.Inc()

	if from != nil {
		if err := from.Reply(EventMessageSent, ack); err != nil {
			slog.Warn("Failed to acknowledge web message", "error", err)
		}
	}

	r.status.Publish()
	return ack
}

func (r *Relay) sweep(peers []*Peer, frame []byte) int {
	delivered := 0
	for _, p := range peers {
		if err := p.Send(frame); err != nil {
			p.log.Warn("Removing TCP client after failed write", "error", err)
			r.registry.Remove(p.ID())
			p.abort()
			r.metrics.PeerWriteFailures.Inc()
			continue
		}
		delivered++
	}
	return delivered
}
