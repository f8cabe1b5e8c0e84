// Package metrics defines the Prometheus instruments exported by the bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tcpbridge"

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// BridgeMetrics holds the counters and gauges for both sides of the relay.
type BridgeMetrics struct {
	PeersConnected       prometheus.Gauge
	PeerConnectionsTotal prometheus.Counter
	PeerMessagesRelayed  prometheus.Counter
	PeerDecodeErrors     prometheus.Counter
	PeerWriteFailures    prometheus.Counter
	PeerIdleTimeouts     prometheus.Counter
	WebMessagesRelayed   prometheus.Counter
	SubscribersConnected prometheus.Gauge
	StatusPublished      prometheus.Counter
}

// NewBridgeMetrics creates and registers bridge metrics on the given registry.
func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "peers_connected",
			Help:      "Number of TCP peers currently in the registry.",
		}),
		PeerConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "connections_total",
			Help:      "Total number of accepted TCP connections.",
		}),
		PeerMessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "messages_relayed_total",
			Help:      "Total number of peer messages published to subscribers.",
		}),
		PeerDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "decode_errors_total",
			Help:      "Total number of discarded peer frames that could not be decoded.",
		}),
		PeerWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "write_failures_total",
			Help:      "Total number of peers removed after a failed broadcast write.",
		}),
		PeerIdleTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tcp",
			Name:      "idle_timeouts_total",
			Help:      "Total number of peers disconnected after the idle timeout.",
		}),
		WebMessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_relayed_total",
			Help:      "Total number of subscriber messages relayed to TCP peers.",
		}),
		SubscribersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "subscribers_connected",
			Help:      "Number of active WebSocket subscribers.",
		}),
		StatusPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "status_published_total",
			Help:      "Total number of tcp-status snapshots published.",
		}),
	}

	reg.MustRegister(
		m.PeersConnected,
		m.PeerConnectionsTotal,
		m.PeerMessagesRelayed,
		m.PeerDecodeErrors,
		m.PeerWriteFailures,
		m.PeerIdleTimeouts,
		m.WebMessagesRelayed,
		m.SubscribersConnected,
		m.StatusPublished,
	)
	return m
}
