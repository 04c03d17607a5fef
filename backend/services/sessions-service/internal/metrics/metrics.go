package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds sessions-service collectors.
type Metrics struct {
	registry        *prometheus.Registry
	Activations     *prometheus.CounterVec
	Finished        *prometheus.CounterVec
	Compensations   prometheus.Counter
	SweepActions    *prometheus.CounterVec
	DeviceEvents    *prometheus.CounterVec
	PendingTimers   prometheus.Gauge
	ReservedMinutes prometheus.Histogram
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_activations_total",
			Help: "Activation requests by result.",
		}, []string{"result"}),
		Finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_finished_total",
			Help: "Sessions that reached a terminal state.",
		}, []string{"state"}),
		Compensations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessions_compensations_total",
			Help: "Refunds issued for sessions that never ran.",
		}),
		SweepActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_sweep_actions_total",
			Help: "Stale sessions resolved by the sweeper.",
		}, []string{"action"}),
		DeviceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_device_events_total",
			Help: "Device callbacks by type.",
		}, []string{"type"}),
		PendingTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_countdown_timers",
			Help: "Countdown timers armed in this process.",
		}),
		ReservedMinutes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sessions_reserved_minutes",
			Help:    "Minutes reserved per activation.",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 60},
		}),
	}
	reg.MustRegister(
		m.Activations,
		m.Finished,
		m.Compensations,
		m.SweepActions,
		m.DeviceEvents,
		m.PendingTimers,
		m.ReservedMinutes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registerer exposes the registry for library collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
