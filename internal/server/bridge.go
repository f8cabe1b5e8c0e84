package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/tcpbridge/internal/metrics"
)

// Bridge is one relay service instance. It owns the registry and wires the
// acceptor, relays, status publisher and subscriber hub around it.
type Bridge struct {
	cfg             Config
	clock           clockwork.Clock
	registry        *Registry
	hub             *Hub
	status          *StatusPublisher
	relay           *Relay
	acceptor        *Acceptor
	metricsRegistry *prometheus.Registry
	metrics         *metrics.BridgeMetrics
	httpServer      *http.Server
	httpListener    net.Listener
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithClock replaces the wall clock used for timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(b *Bridge) { b.clock = clock }
}

// New builds a Bridge from cfg. Nothing is bound until Listen.
func New(cfg Config, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:             cfg,
		clock:           clockwork.NewRealClock(),
		registry:        NewRegistry(),
		metricsRegistry: metrics.NewRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.metrics = metrics.NewBridgeMetrics(b.metricsRegistry)
	b.hub = NewHub(cfg, b, b.metrics)
	b.status = NewStatusPublisher(b.registry, b.hub, b.metrics)
	b.relay = NewRelay(b.registry, b.hub, b.status, b.clock, b.metrics)
	b.acceptor = NewAcceptor(cfg, b.registry, b.relay, b.status, b.clock, b.metrics)
	b.httpServer = CreateServer(cfg.SocketAddr(), SetupRoutes(b))
	return b
}

// SubscriberJoined publishes the current status when a subscriber connects.
// Every subscriber receives it, not just the new one.
func (b *Bridge) SubscriberJoined(_ *Subscriber) {
	b.status.Publish()
}

// SendToTCP relays a subscriber's request to all TCP peers.
func (b *Bridge) SendToTCP(s *Subscriber, req SendToTCPRequest) {
	b.relay.ToPeers(s, req)
}

// Registry exposes the peer registry.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Listen binds both listeners. Either failure is fatal to the caller.
func (b *Bridge) Listen() error {
	if err := b.acceptor.Listen(); err != nil {
		return err
	}

	addr := b.cfg.SocketAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = b.acceptor.Shutdown(0)
		return fmt.Errorf("listen websocket on %s: %w", addr, err)
	}
	b.httpListener = ln
	return nil
}

// TCPAddr returns the bound peer listener address.
func (b *Bridge) TCPAddr() net.Addr {
	return b.acceptor.Addr()
}

// SocketAddr returns the bound subscriber listener address.
func (b *Bridge) SocketAddr() net.Addr {
	if b.httpListener == nil {
		return nil
	}
	return b.httpListener.Addr()
}

// Run serves peers and subscribers until ctx is cancelled or a listener
// fails, then shuts everything down. Listen is called first if needed.
func (b *Bridge) Run(ctx context.Context) error {
	if b.httpListener == nil {
		if err := b.Listen(); err != nil {
			return err
		}
	}

	b.hub.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.acceptor.Serve(gctx)
	})
	g.Go(func() error {
		return StartServer(b.httpServer, b.httpListener)
	})
	g.Go(func() error {
		<-gctx.Done()
		return b.shutdown()
	})

	return g.Wait()
}

func (b *Bridge) shutdown() error {
	slog.Info("Shutting down servers...")

	timeout := b.cfg.ShutdownTimeout
	tcpErr := b.acceptor.Shutdown(timeout)
	httpErr := ShutdownServer(b.httpServer, timeout)
	hubErr := b.hub.Shutdown(timeout)

	return errors.Join(tcpErr, httpErr, hubErr)
}
