// Package server manages individual WebSocket subscribers, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/tcpbridge/internal/logging"
)

const (
	subscriberSendBuffer = 256
	pongWait             = 60 * time.Second
	pingPeriod           = 54 * time.Second
	writeWait            = 10 * time.Second
)

// Subscriber represents a WebSocket client of the broadcast channel.
// It manages the connection state, outbound queue, hub reference,
// and client address information.
type Subscriber struct {
	id             uuid.UUID
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	log            *slog.Logger
}

// NewSubscriber creates a new Subscriber with the provided WebSocket connection,
// hub reference, and client address. The send channel is buffered to handle
// event queuing.
func NewSubscriber(conn *websocket.Conn, hub *Hub, addr string) *Subscriber {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.New()

	return &Subscriber{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, subscriberSendBuffer),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		log:            logging.WithSubscriber(id.String()),
	}
}

// ID returns the subscriber's connection id.
func (s *Subscriber) ID() uuid.UUID {
	return s.id
}

// Reply queues an event for this subscriber only. It fails with
// ErrSendBufferFull when the subscriber is gone or cannot keep up.
func (s *Subscriber) Reply(event EventName, payload any) error {
	frame, err := encodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	if !s.hub.safeSend(s, frame) {
		return ErrSendBufferFull
	}
	return nil
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (s *Subscriber) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Warn("Error setting initial read deadline", "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.log.Warn("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError logs the reason a read loop ended based on the error type.
func (s *Subscriber) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn("Message exceeded maximum size", "max_bytes", s.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		s.log.Info("Web client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		s.log.Info("Web client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		s.log.Warn("Unexpected WebSocket error", "error", err)
	default:
		s.log.Warn("WebSocket read error", "error", err)
	}
}

// checkRateLimit verifies if the subscriber has exceeded rate limits
// and returns true if the request should be processed
func (s *Subscriber) checkRateLimit() bool {
	if s.rateLimiter != nil && !s.rateLimiter.allow() {
		s.log.Warn("Rate limit exceeded; discarding request",
			"burst", s.rateLimit.Burst,
			"interval", s.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage decodes an envelope and dispatches it to the hub's handler.
// It returns true if the message was understood.
func (s *Subscriber) processMessage(raw []byte) bool {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warn("Invalid envelope from web client", "error", err)
		return false
	}

	switch env.Event {
	case EventSendToTCP:
		var req SendToTCPRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				s.log.Warn("Invalid send-to-tcp payload", "error", err)
				return false
			}
		}
		s.log.Info("Message from web client", "content_length", len(req.Content))
		s.hub.handler.SendToTCP(s, req)
		return true
	default:
		s.log.Warn("Ignoring unknown event from web client", "event", env.Event)
		return false
	}
}

func (s *Subscriber) readPump() {
	defer func() {
		s.hub.unregisterSubscriber(s)
		if err := s.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				s.log.Warn("Error closing connection in readPump", "error", err)
			}
		}
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		if !s.checkRateLimit() {
			continue
		}

		s.processMessage(raw)
	}
}

func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (s *Subscriber) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-s.send:
		return s.handleMessage(message, ok)
	case <-ticker.C:
		return s.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (s *Subscriber) closeConnection() {
	if err := s.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Warn("Error closing connection in writePump", "error", err)
		}
	}
}

// handleMessage writes one outgoing event and returns false if the connection should be closed
func (s *Subscriber) handleMessage(message []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log.Warn("Error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return s.writeCloseMessage()
	}

	// Each event is its own text frame so every frame is one JSON envelope.
	if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Warn("Error writing event", "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the subscriber
func (s *Subscriber) writeCloseMessage() bool {
	if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Warn("Error writing close message", "error", err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (s *Subscriber) handlePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log.Warn("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.log.Warn("Error writing ping message", "error", err)
		return false
	}
	return true
}
