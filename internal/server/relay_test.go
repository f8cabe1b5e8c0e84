package server

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayFromPeer(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  TCPMessageEvent
	}{
		{
			name:  "all fields present",
			frame: `{"type":"user-message","content":"hi","timestamp":"T1"}`,
			want:  TCPMessageEvent{ClientID: 1, Content: "hi", Timestamp: "T1", Type: MessageTypeUser},
		},
		{
			name:  "missing timestamp falls back to now",
			frame: `{"type":"user-message","content":"hi"}`,
			want:  TCPMessageEvent{ClientID: 1, Content: "hi", Timestamp: "2026-10-17T12:00:00.000Z", Type: MessageTypeUser},
		},
		{
			name:  "missing type falls back to user-message",
			frame: `{"content":"hi","timestamp":"T1"}`,
			want:  TCPMessageEvent{ClientID: 1, Content: "hi", Timestamp: "T1", Type: MessageTypeUser},
		},
		{
			name:  "other types pass through",
			frame: `{"type":"system","content":"ping","timestamp":"T2"}`,
			want:  TCPMessageEvent{ClientID: 1, Content: "ping", Timestamp: "T2", Type: MessageTypeSystem},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRelayFixture()
			peer, _ := newPipePeer(t, 1)

			f.relay.FromPeer(peer, []byte(tt.frame))

			events := f.pub.byEvent(EventTCPMessage)
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, events[0])
			assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.PeerMessagesRelayed), 0)
		})
	}
}

// TestRelayFromPeerMalformed verifies that undecodable frames produce no
// tcp-message events and leave the peer open.
func TestRelayFromPeerMalformed(t *testing.T) {
	frames := []string{
		"not json",
		`{"content":`,
		`["content"]`,
		`null`,
		`42`,
		`{"content":5}`,
	}

	f := newRelayFixture()
	peer, _ := newPipePeer(t, 1)
	f.registry.Add(peer)

	for _, frame := range frames {
		f.relay.FromPeer(peer, []byte(frame))
	}

	assert.Empty(t, f.pub.byEvent(EventTCPMessage))
	assert.InDelta(t, float64(len(frames)), testutil.ToFloat64(f.metrics.PeerDecodeErrors), 0)
	assert.False(t, peer.isClosed())
	assert.Equal(t, 1, f.registry.Len())
	require.NoError(t, peer.Send([]byte("still writable\n")))
}

// TestRelayToPeers covers a subscriber broadcast reaching every peer,
// followed by the acknowledgement and a status update.
func TestRelayToPeers(t *testing.T) {
	f := newRelayFixture()
	a, _ := newPipePeer(t, 1)
	b, _ := newPipePeer(t, 2)
	f.registry.Add(a)
	f.registry.Add(b)
	replier := &recordingReplier{}

	ack := f.relay.ToPeers(replier, SendToTCPRequest{Content: "hello all"})

	want := Message{Type: MessageTypeWeb, Content: "hello all", Timestamp: "2026-10-17T12:00:00.000Z"}
	for _, p := range []*Peer{a, b} {
		frame := drainFrame(t, p)
		assert.Equal(t, byte('\n'), frame[len(frame)-1])

		var got Message
		require.NoError(t, json.Unmarshal(frame, &got))
		assert.Equal(t, want, got)
	}

	assert.Equal(t, MessageSentEvent{Content: "hello all", Timestamp: want.Timestamp}, ack)
	require.Len(t, replier.replies, 1)
	assert.Equal(t, EventMessageSent, replier.replies[0].Event)
	assert.Equal(t, ack, replier.replies[0].Payload)

	last := f.pub.last()
	assert.Equal(t, EventTCPStatus, last.Event)
	assert.Equal(t, 2, last.Payload.(StatusSnapshot).ClientCount)
}

// TestRelayToPeersKeepsRequestTimestamp verifies that a supplied timestamp is
// used for both the peer frame and the acknowledgement.
func TestRelayToPeersKeepsRequestTimestamp(t *testing.T) {
	f := newRelayFixture()
	a, _ := newPipePeer(t, 1)
	f.registry.Add(a)

	ack := f.relay.ToPeers(nil, SendToTCPRequest{Content: "x", Timestamp: "T9"})

	var got Message
	require.NoError(t, json.Unmarshal(drainFrame(t, a), &got))
	assert.Equal(t, "T9", got.Timestamp)
	assert.Equal(t, "T9", ack.Timestamp)
}

// TestRelayToPeersRemovesFailedPeer: peer A is unreachable while peer B is
// healthy. A is removed, B still receives the message, and the following
// status reports a single client.
func TestRelayToPeersRemovesFailedPeer(t *testing.T) {
	f := newRelayFixture()
	a, _ := newPipePeer(t, 1)
	b, _ := newPipePeer(t, 2)
	f.registry.Add(a)
	f.registry.Add(b)
	a.Close()

	f.relay.ToPeers(&recordingReplier{}, SendToTCPRequest{Content: "hello"})

	_, stillThere := f.registry.Get(1)
	assert.False(t, stillThere)
	assert.Equal(t, 1, f.registry.Len())

	var got Message
	require.NoError(t, json.Unmarshal(drainFrame(t, b), &got))
	assert.Equal(t, "hello", got.Content)

	last := f.pub.last()
	require.Equal(t, EventTCPStatus, last.Event)
	status := last.Payload.(StatusSnapshot)
	assert.Equal(t, 1, status.ClientCount)
	require.Len(t, status.Clients, 1)
	assert.Equal(t, 2, status.Clients[0].ID)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.PeerWriteFailures), 0)

	// A later broadcast no longer targets the removed peer.
	f.relay.ToPeers(nil, SendToTCPRequest{Content: "again"})
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.PeerWriteFailures), 0)
	drainFrame(t, b)
}

// TestRelayToPeersRemovesSlowPeer verifies that a peer whose outbound queue
// is full is treated as disconnected.
func TestRelayToPeersRemovesSlowPeer(t *testing.T) {
	f := newRelayFixture()
	slow, _ := newPipePeer(t, 1)
	f.registry.Add(slow)
	for i := 0; i < peerSendBuffer; i++ {
		require.NoError(t, slow.Send([]byte("{}\n")))
	}

	f.relay.ToPeers(nil, SendToTCPRequest{Content: "overflow"})

	assert.Equal(t, 0, f.registry.Len())
	assert.True(t, slow.isClosed())
	status := f.pub.last().Payload.(StatusSnapshot)
	assert.False(t, status.Connected)
}

// TestRelayToPeersWithNoPeers verifies the acknowledgement is still sent
// when nobody is connected.
func TestRelayToPeersWithNoPeers(t *testing.T) {
	f := newRelayFixture()
	replier := &recordingReplier{}

	f.relay.ToPeers(replier, SendToTCPRequest{Content: "anyone?"})

	require.Len(t, replier.replies, 1)
	assert.Equal(t, EventTCPStatus, f.pub.last().Event)
}
