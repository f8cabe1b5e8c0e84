package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Tyrowin/tcpbridge/internal/metrics"
)

// Acceptor owns the TCP listener. It assigns ids to new connections,
// registers them and runs their pumps until they close.
type Acceptor struct {
	cfg      Config
	registry *Registry
	relay    *Relay
	status   *StatusPublisher
	clock    clockwork.Clock
	metrics  *metrics.BridgeMetrics

	listener net.Listener
	nextID   atomic.Int64
	closing  atomic.Bool
	wg       sync.WaitGroup
}

// NewAcceptor creates an Acceptor. Call Listen before Serve.
func NewAcceptor(
	cfg Config,
	registry *Registry,
	relay *Relay,
	status *StatusPublisher,
	clock clockwork.Clock,
	m *metrics.BridgeMetrics,
) *Acceptor {
	return &Acceptor{
		cfg:      cfg,
		registry: registry,
		relay:    relay,
		status:   status,
		clock:    clock,
		metrics:  m,
	}
}

// Listen binds the TCP listener. A bind failure is returned to the caller,
// which must not continue serving without it.
func (a *Acceptor) Listen() error {
	addr := a.cfg.TCPAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp on %s: %w", addr, err)
	}
	a.listener = ln
	slog.Info("TCP server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (a *Acceptor) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Serve accepts connections until Shutdown is called. Any other accept
// failure is returned.
func (a *Acceptor) Serve(ctx context.Context) error {
	if a.listener == nil {
		return errors.New("tcp acceptor: Serve called before Listen")
	}

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.closing.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept tcp connection: %w", err)
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.handle(conn)
		}()
	}
}

func (a *Acceptor) handle(conn net.Conn) {
	id := int(a.nextID.Add(1))
	now := a.clock.Now()
	peer := newPeer(id, conn, now, a.cfg)

	// The welcome frame is queued before the peer is visible to any relay
	// sweep, so it is always the first frame the peer receives.
	welcome, err := encodeFrame(welcomeMessage(id, now))
	if err == nil {
		err = peer.Send(welcome)
	}
	if err != nil {
		peer.log.Error("Failed to queue welcome message", "error", err)
		peer.abort()
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		peer.writePump()
	}()

	a.registry.Add(peer)
	a.metrics.PeerConnectionsTotal.Inc()
	peer.log.Info("TCP client connected", "port", peer.RemotePort(), "clients", a.registry.Len())
	a.status.Publish()

	if a.closing.Load() {
		peer.Close()
	}

	err = peer.readPump(a.relay)
	a.disconnect(peer, err)
}

func (a *Acceptor) disconnect(p *Peer, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		p.log.Info("TCP client disconnected")
	case errors.As(err, &netErr) && netErr.Timeout():
		p.log.Info("TCP client idle timeout", "timeout", p.idleTimeout)
		a.metrics.PeerIdleTimeouts.Inc()
	default:
		p.log.Warn("TCP client error", "error", err)
	}

	a.registry.Remove(p.ID())
	p.abort()
	a.status.Publish()
}

// Shutdown stops accepting, ends every peer session after flushing queued
// frames, and waits for their goroutines up to timeout. Sessions still
// running at the deadline are aborted.
func (a *Acceptor) Shutdown(timeout time.Duration) error {
	a.closing.Store(true)
	if a.listener != nil {
		if err := a.listener.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("Error closing TCP listener", "error", err)
		}
	}

	peers := a.registry.Snapshot()
	for _, p := range peers {
		p.Close()
	}
	slog.Info("Closing TCP client connections", "count", len(peers))

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("TCP server closed")
		return nil
	case <-time.After(timeout):
		for _, p := range a.registry.Snapshot() {
			p.abort()
		}
		slog.Warn("TCP shutdown timeout reached, aborted remaining connections", "timeout", timeout)
		return nil
	}
}
