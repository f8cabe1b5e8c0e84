// Package server coordinates subscriber registration, event fan-out, and
// connection cleanup for the WebSocket side of the bridge via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/tcpbridge/internal/metrics"
)

// SubscriberHandler reacts to subscriber lifecycle and requests.
type SubscriberHandler interface {
	SubscriberJoined(s *Subscriber)
	SendToTCP(s *Subscriber, req SendToTCPRequest)
}

// Hub manages all WebSocket subscriber connections and fans events out to them.
// It maintains subscriber registration/unregistration and ensures thread-safe
// operations through mutex protection.
type Hub struct {
	subscribers map[*Subscriber]bool
	broadcast   chan []byte
	register    chan *Subscriber
	unregister  chan *Subscriber
	handler     SubscriberHandler
	cfg         Config
	upgrader    websocket.Upgrader
	metrics     *metrics.BridgeMetrics
	mutex       sync.RWMutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     atomic.Bool
	done        chan struct{}
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and the subscriber map. Run must be started before events are published.
func NewHub(cfg Config, handler SubscriberHandler, m *metrics.BridgeMetrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	origins := newOriginPolicy(cfg.AllowedOrigins)
	return &Hub{
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan []byte),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		handler:     handler,
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Publish encodes an event once and delivers it to every current subscriber.
func (h *Hub) Publish(event EventName, payload any) error {
	frame, err := encodeEnvelope(event, payload)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- frame:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	}
}

// Register hands a new subscriber to the hub and notifies the handler once
// the hub has accepted it.
func (h *Hub) Register(s *Subscriber) error {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
		return ErrHubStopped
	}

	h.handler.SubscriberJoined(s)
	return nil
}

func (h *Hub) unregisterSubscriber(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) safeSend(s *Subscriber, message []byte) bool {
	// Hold the lock during the entire send operation so the channel cannot be
	// closed underneath us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.subscribers[s]
	if !exists || s.closed {
		return false
	}

	select {
	case s.send <- message:
		return true
	default:
		return false
	}
}

// Start launches Run in its own goroutine.
func (h *Hub) Start() {
	h.started.Store(true)
	go h.Run()
	slog.Info("Hub started and ready to manage WebSocket connections")
}

// Run starts the hub's main event loop, handling subscriber registration,
// unregistration and event fan-out. This method should be called in a
// separate goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	h.started.Store(true)
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSubscribers()
			return

		case s := <-h.register:
			if s == nil {
				slog.Warn("Received nil subscriber registration; skipping")
				continue
			}

			h.mutex.Lock()
			s.closed = false
			h.subscribers[s] = true
			count := len(h.subscribers)
			h.mutex.Unlock()
			h.metrics.SubscribersConnected.Set(float64(count))
			s.log.Info("Web client connected", "remote_addr", s.addr, "subscribers", count)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				s.writePump()
			}()
			go func() {
				defer h.wg.Done()
				s.readPump()
			}()

		case s := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				s.closed = true
				count := len(h.subscribers)
				h.mutex.Unlock()
				// Close the channel after releasing the lock
				close(s.send)
				h.metrics.SubscribersConnected.Set(float64(count))
				s.log.Info("Web client disconnected", "subscribers", count)
			} else {
				h.mutex.Unlock()
			}

		case frame := <-h.broadcast:
			h.handleBroadcast(frame)
		}
	}
}

// handleBroadcast sends a frame to every subscriber and drops the ones that
// cannot keep up.
func (h *Hub) handleBroadcast(frame []byte) {
	subscribers := h.getSubscriberSnapshot()
	failed := h.broadcastToSubscribers(subscribers, frame)
	h.removeFailedSubscribers(failed)
}

// getSubscriberSnapshot returns a thread-safe snapshot of all current subscribers
func (h *Hub) getSubscriberSnapshot() []*Subscriber {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	subscribers := make([]*Subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subscribers = append(subscribers, s)
	}
	return subscribers
}

// broadcastToSubscribers sends the frame to every subscriber and returns the failed ones.
// A subscriber that disappeared since the snapshot is skipped by safeSend.
func (h *Hub) broadcastToSubscribers(subscribers []*Subscriber, frame []byte) []*Subscriber {
	var failed []*Subscriber

	for _, s := range subscribers {
		if !h.safeSend(s, frame) {
			failed = append(failed, s)
		}
	}

	return failed
}

// removeFailedSubscribers removes subscribers that failed to receive an event and closes their channels
func (h *Hub) removeFailedSubscribers(failed []*Subscriber) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, s := range failed {
		if _, exists := h.subscribers[s]; exists {
			delete(h.subscribers, s)
			s.closed = true
			channelsToClose = append(channelsToClose, s.send)
			s.log.Warn("Web client removed due to full send buffer")
		}
	}
	count := len(h.subscribers)
	h.mutex.Unlock()
	h.metrics.SubscribersConnected.Set(float64(count))

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownSubscribers detaches every subscriber and closes its send channel.
// Each write pump then sends a close frame and closes its connection, which
// in turn ends the read pump.
func (h *Hub) shutdownSubscribers() {
	slog.Info("Shutting down all web client connections...")

	h.mutex.Lock()
	subscribers := make([]*Subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		delete(h.subscribers, s)
		s.closed = true
		subscribers = append(subscribers, s)
	}
	h.mutex.Unlock()
	h.metrics.SubscribersConnected.Set(0)

	for _, s := range subscribers {
		close(s.send)
	}

	slog.Info("Closed web client connections", "count", len(subscribers))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all subscriber connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	slog.Info("Initiating hub shutdown...")

	h.cancel()
	if !h.started.Load() {
		return nil
	}

	// Wait for Run() to complete
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		slog.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
