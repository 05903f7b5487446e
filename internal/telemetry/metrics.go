package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for commands and advisor calls.
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
	OutcomeError   = "error"
	OutcomeOK      = "ok"
)

// Metrics owns a private registry so several engines can coexist in one
// process (tests build many). A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	commands     *prometheus.CounterVec
	consequence  prometheus.Gauge
	bridgeFrames *prometheus.CounterVec
	advisorCalls *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_commands_total",
			Help: "Command Interface calls by action and outcome.",
		}, []string{"action", "outcome"}),
		consequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_consequence_level",
			Help: "Current consequence level (0-100).",
		}),
		bridgeFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_bridge_frames_total",
			Help: "Remote bridge frames by direction and status.",
		}, []string{"direction", "status"}),
		advisorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_advisor_calls_total",
			Help: "Advisor calls by call name and outcome.",
		}, []string{"call", "outcome"}),
	}
	reg.MustRegister(m.commands, m.consequence, m.bridgeFrames, m.advisorCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Command(action, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ConsequenceLevel(level int) {
	if m == nil {
		return
	}
	m.consequence.Set(float64(level))
}

func (m *Metrics) BridgeFrame(direction, status string) {
	if m == nil {
		return
	}
	m.bridgeFrames.WithLabelValues(direction, status).Inc()
}

func (m *Metrics) AdvisorCall(call, outcome string) {
	if m == nil {
		return
	}
	m.advisorCalls.WithLabelValues(call, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
