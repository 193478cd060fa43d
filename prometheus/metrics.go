// Package prometheus provides a Prometheus implementation of the cinderlink.Metrics interface.
//
// All metrics use the configured namespace prefix (default: "cinderlink").
//
// # Counters
//
//	cinderlink_messages_sent_total{topic="<topic>"}
//	cinderlink_messages_received_total{topic="<topic>"}
//	cinderlink_bytes_sent_total{topic="<topic>"}
//	cinderlink_bytes_received_total{topic="<topic>"}
//	cinderlink_publish_results_total{result="success|failure"}
//	cinderlink_request_results_total{result="ok|timeout|error"}
//	cinderlink_send_retries_total
//	cinderlink_send_blocked_total
//	cinderlink_dial_attempts_total{result="success|failure|skipped"}
//	cinderlink_peers_connected_total{role="peer|server"}
//	cinderlink_peers_disconnected_total{role="peer|server"}
//	cinderlink_plugin_starts_total{result="success|failure"}
//	cinderlink_identity_resolved_total{source="local|naming|server|none"}
//	cinderlink_identity_saved_total{remote="true|false"}
//	cinderlink_events_dropped_total{bus="<bus>"}
//
// # Gauges
//
//	cinderlink_connected_peers{role="peer|server"}
//
// # Example Usage
//
//	metrics := prommetrics.NewMetrics("myapp")
//	cfg := cinderlink.NewConfig(key, cinderlink.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.Handler())
package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockberries/cinderlink"
)

// DefaultNamespace is the default namespace for all metrics.
const DefaultNamespace = "cinderlink"

// Metrics implements the cinderlink.Metrics interface using Prometheus metrics.
//
// Metrics is safe for concurrent use.
type Metrics struct {
	// Message metrics
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	publishResults   *prometheus.CounterVec
	requestResults   *prometheus.CounterVec
	sendRetries      prometheus.Counter
	sendBlocked      prometheus.Counter

	// Connection metrics
	dialAttempts      *prometheus.CounterVec
	peersConnected    *prometheus.CounterVec
	peersDisconnected *prometheus.CounterVec
	connectedPeers    *prometheus.GaugeVec

	// Plugin and identity metrics
	pluginStarts     *prometheus.CounterVec
	identityResolved *prometheus.CounterVec
	identitySaved    *prometheus.CounterVec

	eventsDropped *prometheus.CounterVec
}

// Ensure Metrics implements cinderlink.Metrics.
var _ cinderlink.Metrics = (*Metrics)(nil)

// NewMetrics creates a collector registered with the default Prometheus
// registry. It panics if the metrics are already registered; use
// NewMetricsWithRegisterer with a custom registry to avoid that.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a collector registered with registerer.
//
// If namespace is empty, DefaultNamespace is used.
// If registerer is nil, metrics are not registered.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		messagesSent:     counterVec("messages_sent_total", "Total number of direct messages sent per topic", "topic"),
		messagesReceived: counterVec("messages_received_total", "Total number of messages received per topic", "topic"),
		bytesSent:        counterVec("bytes_sent_total", "Total encoded bytes sent per topic", "topic"),
		bytesReceived:    counterVec("bytes_received_total", "Total encoded bytes received per topic", "topic"),
		publishResults:   counterVec("publish_results_total", "Total number of broadcasts by result", "result"),
		requestResults:   counterVec("request_results_total", "Total number of requests by outcome", "result"),
		sendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_retries_total",
			Help:      "Total number of direct send retries",
		}),
		sendBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_blocked_total",
			Help:      "Total number of times the outbound send window saturated",
		}),
		dialAttempts:      counterVec("dial_attempts_total", "Total number of dial attempts by result", "result"),
		peersConnected:    counterVec("peers_connected_total", "Total number of peer connections by role", "role"),
		peersDisconnected: counterVec("peers_disconnected_total", "Total number of peer disconnections by role", "role"),
		connectedPeers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Current number of connected peers by role",
		}, []string{"role"}),
		pluginStarts:     counterVec("plugin_starts_total", "Total number of plugin activations by result", "result"),
		identityResolved: counterVec("identity_resolved_total", "Total number of identity resolutions by winning source", "source"),
		identitySaved:    counterVec("identity_saved_total", "Total number of identity saves by whether servers were pushed", "remote"),
		eventsDropped:    counterVec("events_dropped_total", "Total number of events dropped due to a full queue", "bus"),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.messagesSent,
			m.messagesReceived,
			m.bytesSent,
			m.bytesReceived,
			m.publishResults,
			m.requestResults,
			m.sendRetries,
			m.sendBlocked,
			m.dialAttempts,
			m.peersConnected,
			m.peersDisconnected,
			m.connectedPeers,
			m.pluginStarts,
			m.identityResolved,
			m.identitySaved,
			m.eventsDropped,
		)
	}

	return m
}

// MessageSent implements cinderlink.Metrics.
func (m *Metrics) MessageSent(topic string, bytes int) {
	m.messagesSent.WithLabelValues(topic).Inc()
	m.bytesSent.WithLabelValues(topic).Add(float64(bytes))
}

// MessageReceived implements cinderlink.Metrics.
func (m *Metrics) MessageReceived(topic string, bytes int) {
	m.messagesReceived.WithLabelValues(topic).Inc()
	m.bytesReceived.WithLabelValues(topic).Add(float64(bytes))
}

// PublishResult implements cinderlink.Metrics.
func (m *Metrics) PublishResult(result string) {
	m.publishResults.WithLabelValues(result).Inc()
}

// RequestResult implements cinderlink.Metrics.
func (m *Metrics) RequestResult(result string) {
	m.requestResults.WithLabelValues(result).Inc()
}

// SendRetry implements cinderlink.Metrics.
func (m *Metrics) SendRetry() {
	m.sendRetries.Inc()
}

// SendBlocked implements cinderlink.Metrics.
func (m *Metrics) SendBlocked() {
	m.sendBlocked.Inc()
}

// DialAttempt implements cinderlink.Metrics.
func (m *Metrics) DialAttempt(result string) {
	m.dialAttempts.WithLabelValues(result).Inc()
}

// PeerConnected implements cinderlink.Metrics.
func (m *Metrics) PeerConnected(role string) {
	m.peersConnected.WithLabelValues(role).Inc()
	m.connectedPeers.WithLabelValues(role).Inc()
}

// PeerDisconnected implements cinderlink.Metrics.
func (m *Metrics) PeerDisconnected(role string) {
	m.peersDisconnected.WithLabelValues(role).Inc()
	m.connectedPeers.WithLabelValues(role).Dec()
}

// PluginStarted implements cinderlink.Metrics.
func (m *Metrics) PluginStarted(result string) {
	m.pluginStarts.WithLabelValues(result).Inc()
}

// IdentityResolved implements cinderlink.Metrics.
func (m *Metrics) IdentityResolved(source string) {
	m.identityResolved.WithLabelValues(source).Inc()
}

// IdentitySaved implements cinderlink.Metrics.
func (m *Metrics) IdentitySaved(remote bool) {
	m.identitySaved.WithLabelValues(strconv.FormatBool(remote)).Inc()
}

// EventDropped implements cinderlink.Metrics.
func (m *Metrics) EventDropped(bus string) {
	m.eventsDropped.WithLabelValues(bus).Inc()
}
