package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts monitor passes and publish attempts. A nil *Metrics records nothing.
type Metrics struct {
	runs      *prometheus.CounterVec
	published *prometheus.CounterVec
}

// NewMetrics registers the monitor collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_runs_total",
			Help: "Monitor passes by result.",
		}, []string{"result"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_content_published_total",
			Help: "Scheduled content publish attempts by final status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.runs, m.published)
	return m
}

func (m *Metrics) observeRun(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.runs.WithLabelValues(result).Inc()
}

func (m *Metrics) observePublish(status string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(status).Inc()
}
