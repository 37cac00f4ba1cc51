package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the bridge. All record
// methods are nil-safe so tests can pass a nil *Metrics and skip
// registration entirely.
type Metrics struct {
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	AudioChunksIn      prometheus.Counter
	AudioChunksDropped prometheus.Counter
	AudioChunksOut     prometheus.Counter

	ToolCalls *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_sessions_active",
			Help: "Current number of active relay sessions",
		}),
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_sessions_total",
			Help: "Total number of relay sessions accepted",
		}),
		AudioChunksIn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_audio_chunks_in_total",
			Help: "Audio chunks received from clients",
		}),
		AudioChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_audio_chunks_dropped_total",
			Help: "Audio chunks evicted from full session queues",
		}),
		AudioChunksOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_audio_chunks_out_total",
			Help: "Audio chunks forwarded to clients",
		}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_tool_calls_total",
			Help: "Tool calls dispatched, by tool name and result",
		}, []string{"tool", "result"}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) AudioIn(dropped bool) {
	if m == nil {
		return
	}
	m.AudioChunksIn.Inc()
	if dropped {
		m.AudioChunksDropped.Inc()
	}
}

func (m *Metrics) AudioOut() {
	if m == nil {
		return
	}
	m.AudioChunksOut.Inc()
}

func (m *Metrics) ToolCall(name, result string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(name, result).Inc()
}
