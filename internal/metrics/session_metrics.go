package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionMetrics tracks live conversation sessions. It owns its registry so
// tests and multiple servers in one process do not collide.
type SessionMetrics struct {
	registry *prometheus.Registry

	ActiveSessions   prometheus.Gauge
	PhaseTransitions *prometheus.CounterVec
	Approvals        prometheus.Counter
	Specifications   prometheus.Counter
	RelayedFrames    *prometheus.CounterVec
	UpstreamErrors   prometheus.Counter
}

// NewSessionMetrics registers the session collectors on a fresh registry.
func NewSessionMetrics() *SessionMetrics {
	reg := prometheus.NewRegistry()
	m := &SessionMetrics{
		registry: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicecreation",
			Name:      "sessions_active",
			Help:      "Number of connected conversation sessions",
		}),
		PhaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecreation",
			Name:      "phase_transitions_total",
			Help:      "Conversation phase transitions by target phase",
		}, []string{"phase"}),
		Approvals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicecreation",
			Name:      "approvals_total",
			Help:      "User utterances classified as approving a specification",
		}),
		Specifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicecreation",
			Name:      "specifications_extracted_total",
			Help:      "Complete specifications extracted from assistant speech",
		}),
		RelayedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecreation",
			Name:      "relayed_frames_total",
			Help:      "Websocket frames relayed between client and speech agent",
		}, []string{"direction", "kind"}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicecreation",
			Name:      "upstream_errors_total",
			Help:      "Speech agent transport errors that reset a session",
		}),
	}
	reg.MustRegister(
		m.ActiveSessions,
		m.PhaseTransitions,
		m.Approvals,
		m.Specifications,
		m.RelayedFrames,
		m.UpstreamErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *SessionMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *SessionMetrics) Registry() *prometheus.Registry {
	return m.registry
}
