package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relay's collectors. A nil *Metrics records nothing.
type Metrics struct {
	ConnectedClients        prometheus.Gauge
	MessagesTotal           *prometheus.CounterVec
	EventProcessingDuration *prometheus.HistogramVec
	SendFailures            prometheus.Counter
	SessionsTerminated      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connected_clients",
			Help: "Number of currently registered sessions",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total inbound messages processed by kind",
		}, []string{"type"}),
		EventProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_event_processing_seconds",
			Help:    "Time to process each event type",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_send_failures_total",
			Help: "Outbound sends that exhausted their budget or failed",
		}),
		SessionsTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_sessions_terminated_total",
			Help: "Sessions terminated by reason",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConnectedClients,
			m.MessagesTotal,
			m.EventProcessingDuration,
			m.SendFailures,
			m.SessionsTerminated,
		)
	}
	return m
}

func (m *Metrics) setConnected(n int) {
	if m == nil {
		return
	}
	m.ConnectedClients.Set(float64(n))
}

func (m *Metrics) message(kind string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) observe(event string, start time.Time) {
	if m == nil {
		return
	}
	m.EventProcessingDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
}

func (m *Metrics) sendFailed() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

func (m *Metrics) terminated(reason string) {
	if m == nil {
		return
	}
	m.SessionsTerminated.WithLabelValues(reason).Inc()
}
