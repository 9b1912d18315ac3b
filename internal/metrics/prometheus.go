// ABOUTME: Prometheus metrics for connections, audio sources and ingest sessions
// ABOUTME: Metrics is an events.Sink so it observes the same feeds the diagnostics use
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speechlink/speechlink-go/pkg/audiosource"
	"github.com/speechlink/speechlink-go/pkg/transport"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	gatherer prometheus.Gatherer

	// Connection metrics
	ConnectionsOpened  prometheus.Counter
	ConnectionsFailed  *prometheus.CounterVec
	ConnectionsActive  prometheus.Gauge
	MessagesSent       *prometheus.CounterVec
	MessagesReceived   *prometheus.CounterVec
	BytesSent          prometheus.Counter
	BytesReceived      prometheus.Counter
	SendFailures       prometheus.Counter
	ConnectionDuration prometheus.Histogram

	// Source metrics
	SourceEvents  *prometheus.CounterVec
	NodesAttached prometheus.Gauge
	ReplayedBytes prometheus.Counter
	RetainedBytes prometheus.Gauge

	// Ingest metrics
	SessionsActive prometheus.Gauge
	AudioBytes     prometheus.Counter
	AcksSent       prometheus.Counter

	mu          sync.Mutex
	connectedAt map[string]time.Time
}

// New creates metrics registered on reg. A nil reg uses a private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		ConnectionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "speechlink_connections_opened_total",
			Help: "Total number of websocket connections opened",
		}),
		ConnectionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechlink_connections_failed_total",
			Help: "Total number of failed websocket handshakes by status code",
		}, []string{"status"}),
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "speechlink_connections_active",
			Help: "Number of open websocket connections",
		}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechlink_messages_sent_total",
			Help: "Total number of messages sent by path",
		}, []string{"path"}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechlink_messages_received_total",
			Help: "Total number of messages received by path",
		}, []string{"path"}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "speechlink_bytes_sent_total",
			Help: "Total message body bytes sent",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "speechlink_bytes_received_total",
			Help: "Total message body bytes received",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "speechlink_send_failures_total",
			Help: "Total number of messages that could not be sent",
		}),
		ConnectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechlink_connection_duration_seconds",
			Help:    "Lifetime of websocket connections",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}),

		SourceEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechlink_source_events_total",
			Help: "Audio source lifecycle events by kind",
		}, []string{"kind"}),
		NodesAttached: f.NewGauge(prometheus.GaugeOpts{
			Name: "speechlink_source_nodes_attached",
			Help: "Number of attached audio nodes",
		}),
		ReplayedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "speechlink_replayed_bytes_total",
			Help: "Audio bytes re-sent after a reconnect",
		}),
		RetainedBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "speechlink_retained_bytes",
			Help: "Audio bytes retained for replay",
		}),

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "speechlink_ingest_sessions_active",
			Help: "Number of active ingest sessions",
		}),
		AudioBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "speechlink_ingest_audio_bytes_total",
			Help: "Audio bytes written by the ingest server",
		}),
		AcksSent: f.NewCounter(prometheus.CounterOpts{
			Name: "speechlink_ingest_acks_total",
			Help: "Acknowledgements sent by the ingest server",
		}),

		connectedAt: make(map[string]time.Time),
	}
}

// Publish implements events.Sink
func (m *Metrics) Publish(topic string, ev any) {
	switch e := ev.(type) {
	case transport.Event:
		m.observeConnection(e)
	case audiosource.Event:
		m.observeSource(e)
	}
}

func (m *Metrics) observeConnection(e transport.Event) {
	switch e.Kind {
	case transport.EventConnected:
		m.ConnectionsOpened.Inc()
		m.ConnectionsActive.Inc()
		m.mu.Lock()
		m.connectedAt[e.ConnectionID] = e.Time
		m.mu.Unlock()
	case transport.EventConnectFailed:
		m.ConnectionsFailed.WithLabelValues(statusLabel(e.StatusCode)).Inc()
	case transport.EventMessageSent:
		m.MessagesSent.WithLabelValues(e.Path).Inc()
		m.BytesSent.Add(float64(e.Bytes))
	case transport.EventSendFailed:
		m.SendFailures.Inc()
	case transport.EventMessageReceived:
		m.MessagesReceived.WithLabelValues(e.Path).Inc()
		m.BytesReceived.Add(float64(e.Bytes))
	case transport.EventDisconnected:
		m.mu.Lock()
		at, ok := m.connectedAt[e.ConnectionID]
		delete(m.connectedAt, e.ConnectionID)
		m.mu.Unlock()
		if ok {
			m.ConnectionsActive.Dec()
			m.ConnectionDuration.Observe(e.Time.Sub(at).Seconds())
		}
	}
}

func (m *Metrics) observeSource(e audiosource.Event) {
	m.SourceEvents.WithLabelValues(e.Kind.String()).Inc()
	switch e.Kind {
	case audiosource.EventNodeAttached:
		m.NodesAttached.Inc()
	case audiosource.EventNodeDetached:
		m.NodesAttached.Dec()
	}
}

// RecordReplay records bytes re-sent from a replayable node
func (m *Metrics) RecordReplay(n int) {
	m.ReplayedBytes.Add(float64(n))
}

// SetRetained records the bytes a replayable node is holding
func (m *Metrics) SetRetained(n int64) {
	m.RetainedBytes.Set(float64(n))
}

// SessionStarted records a new ingest session
func (m *Metrics) SessionStarted() { m.SessionsActive.Inc() }

// SessionEnded records the end of an ingest session
func (m *Metrics) SessionEnded() { m.SessionsActive.Dec() }

// RecordAudio records audio bytes written by the ingest server
func (m *Metrics) RecordAudio(n int) { m.AudioBytes.Add(float64(n)) }

// RecordAck records an acknowledgement sent by the ingest server
func (m *Metrics) RecordAck() { m.AcksSent.Inc() }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func statusLabel(code int) string {
	if code == 0 {
		return "none"
	}
	return strconv.Itoa(code)
}
