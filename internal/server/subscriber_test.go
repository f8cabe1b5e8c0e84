package server

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requestRecorder records send-to-tcp requests handed to the hub's handler.
type requestRecorder struct {
	mu       sync.Mutex
	requests []SendToTCPRequest
}

func (h *requestRecorder) SubscriberJoined(*Subscriber) {}

func (h *requestRecorder) SendToTCP(_ *Subscriber, req SendToTCPRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, req)
}

func TestSubscriberProcessMessage(t *testing.T) {
	handler := &requestRecorder{}
	hub := NewHub(*NewConfig(), handler, newTestMetrics())
	s := NewSubscriber(nil, hub, "127.0.0.1:1")

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"not json", `garbage`, false},
		{"unknown event", `{"event":"nope"}`, false},
		{"wrong content type", `{"event":"send-to-tcp","data":{"content":5}}`, false},
		{"valid", `{"event":"send-to-tcp","data":{"content":"ok","timestamp":"T1"}}`, true},
		{"missing data", `{"event":"send-to-tcp"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.processMessage([]byte(tt.raw)))
		})
	}

	assert.Equal(t, []SendToTCPRequest{{Content: "ok", Timestamp: "T1"}, {}}, handler.requests)
}

// TestSubscriberRateLimitDropsExcess verifies requests beyond the burst are
// discarded until the bucket refills.
func TestSubscriberRateLimitDropsExcess(t *testing.T) {
	cfg := NewConfig()
	cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	hub := NewHub(*cfg, &requestRecorder{}, newTestMetrics())
	s := NewSubscriber(nil, hub, "127.0.0.1:1")

	require.True(t, s.checkRateLimit())
	require.True(t, s.checkRateLimit())
	assert.False(t, s.checkRateLimit())
	assert.False(t, s.checkRateLimit())
}
