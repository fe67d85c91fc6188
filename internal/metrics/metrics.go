// Package metrics exposes Prometheus collectors for pty sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/ptyhost/internal/pty"
)

// Metrics holds the session collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.GaugeFunc
	SessionsSpawned prometheus.Counter
	OutputBytes     prometheus.Counter
	SessionExits    *prometheus.CounterVec
}

// New creates the collectors on a private registry. active reports the
// current number of live sessions.
func New(active func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsActive: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "ptyhost_sessions_active",
				Help: "Number of live pty sessions",
			},
			func() float64 { return float64(active()) },
		),
		SessionsSpawned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ptyhost_sessions_spawned_total",
				Help: "Total number of pty sessions spawned",
			},
		),
		OutputBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ptyhost_output_bytes_total",
				Help: "Total bytes of decoded terminal output delivered",
			},
		),
		SessionExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptyhost_session_exits_total",
				Help: "Session exits by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.SessionsActive,
		m.SessionsSpawned,
		m.OutputBytes,
		m.SessionExits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSpawn counts a successfully spawned session.
func (m *Metrics) RecordSpawn(pty.SessionInfo) {
	m.SessionsSpawned.Inc()
}

func (m *Metrics) NotifyData(ev pty.DataEvent) {
	m.OutputBytes.Add(float64(len(ev.Data)))
}

func (m *Metrics) NotifyExit(ev pty.ExitEvent) {
	m.SessionExits.WithLabelValues(exitResult(ev.Code)).Inc()
}

func exitResult(code int32) string {
	switch {
	case code == pty.ExitUnknown:
		return "unknown"
	case code == 0:
		return "ok"
	default:
		return "error"
	}
}
