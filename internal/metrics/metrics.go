// Package metrics exposes the service's prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RoomsActive     prometheus.Gauge
	RoomsCreated    prometheus.Counter
	Reconciliations *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec
	Executions      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codearena_rooms_active",
			Help: "Live rooms currently cached in the session registry.",
		}),
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codearena_rooms_created_total",
			Help: "Rooms created since process start.",
		}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codearena_reconciliations_total",
			Help: "Session reconstructions from durable storage, by outcome.",
		}, []string{"outcome"}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codearena_ws_events_total",
			Help: "Inbound websocket events, by type.",
		}, []string{"type"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codearena_executions_total",
			Help: "Sandbox execution requests, by final state.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.RoomsActive, m.RoomsCreated, m.Reconciliations, m.EventsProcessed, m.Executions)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
