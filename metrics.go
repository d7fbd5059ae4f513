package feedsearch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SearchMetrics holds the prometheus collectors of the search core.
// A nil *SearchMetrics is valid and records nothing.
type SearchMetrics struct {
	CacheLookups   *prometheus.CounterVec
	SearchDuration *prometheus.HistogramVec
	ViewUpdates    *prometheus.CounterVec
	StoreDuration  *prometheus.HistogramVec
}

// NewSearchMetrics creates the collectors and registers them on reg.
// reg may be nil to skip registration.
func NewSearchMetrics(reg prometheus.Registerer) *SearchMetrics {
	m := &SearchMetrics{
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedsearch_cache_lookups_total",
				Help: "Number of cache lookups.",
			},
			[]string{"cache", "result"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedsearch_search_duration_seconds",
				Help:    "Duration of uncached searches.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "strategy"},
		),
		ViewUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedsearch_view_updates_total",
				Help: "Number of view counter updates.",
			},
			[]string{"result"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedsearch_store_duration_seconds",
				Help:    "Duration of content store calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.CacheLookups)
		reg.MustRegister(m.SearchDuration)
		reg.MustRegister(m.ViewUpdates)
		reg.MustRegister(m.StoreDuration)
	}

	return m
}

func (m *SearchMetrics) cacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *SearchMetrics) searchDone(kind string, strategy QueryStrategy, seconds float64) {
	if m == nil {
		return
	}
	m.SearchDuration.WithLabelValues(kind, strategy.String()).Observe(seconds)
}

func (m *SearchMetrics) viewUpdate(result string) {
	if m == nil {
		return
	}
	m.ViewUpdates.WithLabelValues(result).Inc()
}
