package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimestamp(t *testing.T) {
	local := time.Date(2026, 10, 17, 14, 30, 5, 123456789, time.FixedZone("CEST", 2*60*60))
	assert.Equal(t, "2026-10-17T12:30:05.123Z", formatTimestamp(local))
}

func TestWelcomeMessage(t *testing.T) {
	msg := welcomeMessage(7, testEpoch)

	assert.Equal(t, MessageTypeSystem, msg.Type)
	assert.Equal(t, "Welcome! You are connected as client 7", msg.Content)
	assert.Equal(t, "2026-10-17T12:00:00.000Z", msg.Timestamp)
}

func TestEncodeFrame(t *testing.T) {
	frame, err := encodeFrame(Message{Type: MessageTypeWeb, Content: "a\nb", Timestamp: "T"})
	require.NoError(t, err)

	// Embedded newlines are escaped so the frame stays on one line.
	assert.Equal(t, `{"type":"web-message","content":"a\nb","timestamp":"T"}`+"\n", string(frame))
}

func TestDecodeMessage(t *testing.T) {
	msg, err := decodeMessage([]byte(`  {"type":"user-message","content":"hi","extra":true}  `))
	require.NoError(t, err)
	assert.Equal(t, Message{Type: MessageTypeUser, Content: "hi"}, msg)

	for _, bad := range []string{"", "   ", "not json", "null", "[]", `"text"`, `{"type":`} {
		_, err := decodeMessage([]byte(bad))
		assert.Error(t, err, "input %q", bad)
	}
}

func TestEncodeEnvelope(t *testing.T) {
	frame, err := encodeEnvelope(EventMessageSent, MessageSentEvent{Content: "c", Timestamp: "T"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"message-sent","data":{"content":"c","timestamp":"T"}}`, string(frame))

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, EventMessageSent, env.Event)
}

func TestEncodeEnvelopeRejectsUnencodablePayload(t *testing.T) {
	_, err := encodeEnvelope(EventTCPStatus, make(chan int))
	assert.Error(t, err)
}
