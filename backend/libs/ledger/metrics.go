package ledger

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts ledger operations by outcome.
type Metrics struct {
	ops     *prometheus.CounterVec
	retries prometheus.Counter
}

// NewMetrics registers the ledger collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and result.",
		}, []string{"op", "result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_contention_retries_total",
			Help: "Attempts repeated because the account row was contended.",
		}),
	}
	reg.MustRegister(m.ops, m.retries)
	return m
}

func (m *Metrics) observe(op, result string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, result).Inc()
}

func (m *Metrics) retried() {
	if m == nil {
		return
	}
	m.retries.Inc()
}
