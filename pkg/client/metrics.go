package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds prometheus collectors for the connection manager.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesReceived    *prometheus.CounterVec
	framesSent        *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	parseErrors       prometheus.Counter
	reconnectAttempts prometheus.Counter
	connectionState   prometheus.Gauge
}

// NewMetrics registers collectors with reg. A nil reg creates unregistered
// collectors, which keeps tests free of global registration conflicts.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "juicechat",
			Subsystem: "realtime",
			Name:      "frames_received_total",
			Help:      "Inbound frames dispatched to handlers, by frame type.",
		}, []string{"type"}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "juicechat",
			Subsystem: "realtime",
			Name:      "frames_sent_total",
			Help:      "Outbound frames written to the transport, by frame type.",
		}, []string{"type"}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "juicechat",
			Subsystem: "realtime",
			Name:      "frames_dropped_total",
			Help:      "Outbound frames dropped because no transport was open or the write failed.",
		}, []string{"type"}),
		parseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "juicechat",
			Subsystem: "realtime",
			Name:      "parse_errors_total",
			Help:      "Inbound frames dropped because they could not be decoded.",
		}),
		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "juicechat",
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnects scheduled after an unexpected close.",
		}),
		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "juicechat",
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "Current connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=offline 5=failed).",
		}),
	}
}

func (m *Metrics) recordReceived(frameType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(frameType).Inc()
}

func (m *Metrics) recordSent(frameType string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(frameType).Inc()
}

func (m *Metrics) recordDropped(frameType string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(frameType).Inc()
}

func (m *Metrics) recordParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *Metrics) recordReconnect() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) setState(s ConnectionState) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(s))
}
