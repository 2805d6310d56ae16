package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Every
// Observe method is safe on a nil receiver so components can run without
// metrics in tests and CLI commands.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	DispatchAttempts *prometheus.CounterVec
	DispatchLatency  *prometheus.HistogramVec
	MemoryEvents     *prometheus.CounterVec
	TurnResponders   prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open chat and campaign sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		DispatchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_attempts_total",
			Help:      "Completion backend attempts by backend and outcome.",
		}, []string{"backend", "outcome"}),
		DispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Completion backend latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}, []string{"backend"}),
		MemoryEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_events_total",
			Help:      "Memory retrieval and write-back events.",
		}, []string{"event"}),
		TurnResponders: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_responders",
			Help:      "Character responders selected per campaign turn.",
			Buckets:   []float64{0, 1, 2},
		}),
	}
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, typ string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, typ).Inc()
}

func (m *Metrics) ObserveDispatch(backend, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchAttempts.WithLabelValues(backend, outcome).Inc()
	m.DispatchLatency.WithLabelValues(backend).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveMemoryEvent(event string) {
	if m == nil {
		return
	}
	m.MemoryEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveTurnResponders(n int) {
	if m == nil {
		return
	}
	m.TurnResponders.Observe(float64(n))
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.SessionEvents.WithLabelValues("opened").Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionEvents.WithLabelValues("closed_" + reason).Inc()
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
