package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PauloHMoreti/PI-Unimax-2-Semestre/internal/telemetry"
)

const metricPrefix = "bueiro_"

const (
	ResultApplied = "applied"
	ResultDropped = "dropped"
	ResultStale   = "stale"

	ResultSuccess = "success"
	ResultDenied  = "denied"
	ResultError   = "error"
)

var allStatuses = []telemetry.Status{
	telemetry.Connecting,
	telemetry.Connected,
	telemetry.Disconnected,
	telemetry.ConnectionError,
	telemetry.SubscriptionFailed,
	telemetry.Mocked,
}

// Metrics holds the ingestion collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	messages     *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	status       *prometheus.GaugeVec
	modeSwitches *prometheus.CounterVec
	positions    *prometheus.CounterVec
}

// New registers the ingestion metrics plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_total",
				Help: "Telemetry messages by result (applied, dropped, stale)",
			},
			[]string{"result"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "status_transitions_total",
				Help: "Connection status transitions by new status",
			},
			[]string{"status"},
		),
		status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "connection_status",
				Help: "1 for the current connection status, 0 otherwise",
			},
			[]string{"status"},
		),
		modeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mode_switches_total",
				Help: "Mode switches by target mode",
			},
			[]string{"mode"},
		),
		positions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "position_acquisitions_total",
				Help: "Position acquisitions by result",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(
		m.messages, m.transitions, m.status, m.modeSwitches, m.positions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Message(result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(result).Inc()
}

func (m *Metrics) Status(st telemetry.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(st.String()).Inc()
	for _, s := range allStatuses {
		v := 0.0
		if s == st {
			v = 1
		}
		m.status.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) ModeSwitch(mode string) {
	if m == nil {
		return
	}
	m.modeSwitches.WithLabelValues(mode).Inc()
}

func (m *Metrics) Position(result string) {
	if m == nil {
		return
	}
	m.positions.WithLabelValues(result).Inc()
}
