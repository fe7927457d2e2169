package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the server's instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	LiveConnections prometheus.Gauge
	Subscribed      prometheus.Gauge
	Dispatches      *prometheus.CounterVec
	Broadcasts      *prometheus.CounterVec
	ReapedSessions  prometheus.Counter
}

// NewMetrics builds and registers the metric set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bestiary_live_connections",
			Help: "Open websocket connections.",
		}),
		Subscribed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bestiary_subscribed_connections",
			Help: "Connections subscribed to broadcasts.",
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bestiary_dispatches_total",
			Help: "Dispatched commands by name and outcome.",
		}, []string{"command", "outcome"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bestiary_broadcasts_total",
			Help: "Broadcast envelopes by event name.",
		}, []string{"event"}),
		ReapedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bestiary_reaped_sessions_total",
			Help: "Sessions removed by the reaper.",
		}),
	}

	reg.MustRegister(m.LiveConnections, m.Subscribed, m.Dispatches, m.Broadcasts, m.ReapedSessions)
	return m
}

// Handler serves the /metrics endpoint for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
