package search

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tweetpilot/tweetpilot/pkg/cache"
)

// Metrics tracks search outcomes and cache occupancy.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
}

// NewMetrics registers the search collectors on reg.
// Names are unprefixed; callers wrap reg with the service prefix.
func NewMetrics(reg prometheus.Registerer, c *cache.SearchCache) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Keyword searches by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.requests)

	if c != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "search_cache_entries",
				Help: "Entries currently held by the search cache.",
			}, func() float64 { return float64(c.Len()) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "search_cache_evictions_total",
				Help: "Entries evicted from the search cache for capacity.",
			}, func() float64 { return float64(c.Evictions()) }),
		)
	}
	return m
}

func (m *Metrics) observe(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}
