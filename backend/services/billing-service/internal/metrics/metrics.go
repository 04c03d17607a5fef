package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds billing-service collectors.
type Metrics struct {
	registry        *prometheus.Registry
	WebhookOutcomes *prometheus.CounterVec
	WebhookDuration prometheus.Histogram
	TopUps          *prometheus.CounterVec
	CreditedAmount  prometheus.Counter
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		WebhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_webhook_notifications_total",
			Help: "Payment notifications by reconciliation outcome.",
		}, []string{"outcome"}),
		WebhookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_webhook_duration_seconds",
			Help:    "Time spent reconciling one notification.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		}),
		TopUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_topups_total",
			Help: "Top-up intents by kind and result.",
		}, []string{"kind", "result"}),
		CreditedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_credited_minor_units_total",
			Help: "Sum of approved payment amounts credited to accounts.",
		}),
	}
	reg.MustRegister(
		m.WebhookOutcomes,
		m.WebhookDuration,
		m.TopUps,
		m.CreditedAmount,
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
