// Package server defines the message and event payload types exchanged with
// TCP peers and WebSocket subscribers, plus the helpers that encode them.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies the origin of a relayed message.
type MessageType string

const (
	MessageTypeSystem MessageType = "system"
	MessageTypeUser   MessageType = "user-message"
	MessageTypeWeb    MessageType = "web-message"
)

// timestampLayout renders ISO-8601 UTC timestamps with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Message is the JSON object exchanged with TCP peers, one per line.
type Message struct {
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// EventName is the name carried in a subscriber envelope.
type EventName string

const (
	EventTCPMessage  EventName = "tcp-message"
	EventTCPStatus   EventName = "tcp-status"
	EventSendToTCP   EventName = "send-to-tcp"
	EventMessageSent EventName = "message-sent"
)

// Envelope wraps every WebSocket text message exchanged with subscribers.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TCPMessageEvent is published to subscribers for each decoded peer message.
type TCPMessageEvent struct {
	ClientID  int         `json:"clientId"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
	Type      MessageType `json:"type"`
}

// SendToTCPRequest is sent by a subscriber to broadcast content to all peers.
type SendToTCPRequest struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// MessageSentEvent acknowledges a completed send-to-tcp sweep.
type MessageSentEvent struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ClientInfo describes one registry entry inside a status snapshot.
type ClientInfo struct {
	ID          int    `json:"id"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	ConnectedAt string `json:"connectedAt"`
}

// StatusSnapshot summarizes registry membership at a point in time.
type StatusSnapshot struct {
	Connected   bool         `json:"connected"`
	ClientCount int          `json:"clientCount"`
	Clients     []ClientInfo `json:"clients"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func welcomeMessage(id int, now time.Time) Message {
	return Message{
		Type:      MessageTypeSystem,
		Content:   fmt.Sprintf("Welcome! You are connected as client %d", id),
		Timestamp: formatTimestamp(now),
	}
}

// encodeFrame serializes a message as a single newline-terminated JSON line.
func encodeFrame(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return append(data, '\n'), nil
}

// decodeMessage parses one peer frame. Only JSON objects are accepted.
func decodeMessage(frame []byte) (Message, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, errors.New("decode message: not a JSON object")
	}

	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

func encodeEnvelope(event EventName, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return frame, nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
