package server

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/tcpbridge/internal/metrics"
)

var testEpoch = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type publishedEvent struct {
	Event   EventName
	Payload any
}

// recordingPublisher captures published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(event EventName, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{Event: event, Payload: payload})
	return nil
}

func (p *recordingPublisher) byEvent(name EventName) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, e := range p.events {
		if e.Event == name {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (p *recordingPublisher) last() publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return publishedEvent{}
	}
	return p.events[len(p.events)-1]
}

// recordingReplier captures replies sent to a single subscriber.
type recordingReplier struct {
	replies []publishedEvent
}

func (r *recordingReplier) Reply(event EventName, payload any) error {
	r.replies = append(r.replies, publishedEvent{Event: event, Payload: payload})
	return nil
}

var errPublishFailed = errors.New("publish failed")

func newTestMetrics() *metrics.BridgeMetrics {
	return metrics.NewBridgeMetrics(prometheus.NewRegistry())
}

// relayFixture wires a Relay and StatusPublisher to a recording publisher.
type relayFixture struct {
	registry *Registry
	pub      *recordingPublisher
	status   *StatusPublisher
	relay    *Relay
	clock    *clockwork.FakeClock
	metrics  *metrics.BridgeMetrics
}

func newRelayFixture() *relayFixture {
	f := &relayFixture{
		registry: NewRegistry(),
		pub:      &recordingPublisher{},
		clock:    clockwork.NewFakeClockAt(testEpoch),
		metrics:  newTestMetrics(),
	}
	f.status = NewStatusPublisher(f.registry, f.pub, f.metrics)
	f.relay = NewRelay(f.registry, f.pub, f.status, f.clock, f.metrics)
	return f
}

// newPipePeer returns a peer backed by an in-memory connection and the
// remote end of that connection.
func newPipePeer(t *testing.T, id int) (*Peer, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})
	return newPeer(id, local, testEpoch.Add(time.Duration(id)*time.Second), *NewConfig()), remote
}

// drainFrame pops the next queued outbound frame without a write pump.
func drainFrame(t *testing.T, p *Peer) []byte {
	t.Helper()
	select {
	case frame := <-p.send:
		return frame
	case <-time.After(time.Second):
		t.Fatalf("no frame queued for peer %d", p.ID())
		return nil
	}
}
