package llm

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts generations. A nil *Metrics records nothing.
type Metrics struct {
	generations *prometheus.CounterVec
}

// NewMetrics registers the generation counter on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_generations_total",
			Help: "Content generations by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(m.generations)
	return m
}

func (m *Metrics) observe(kind, result string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(kind, result).Inc()
}
