package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ListingsSubmitted *prometheus.CounterVec
	MatchOutcomes     *prometheus.CounterVec
	MatchDuration     prometheus.Histogram
	MatchCandidates   prometheus.Histogram
	SessionOutcomes   *prometheus.CounterVec
	CacheRefreshDur   prometheus.Histogram
	CacheRefreshErrs  prometheus.Counter
	CacheSize         prometheus.Gauge
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ListingsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_listings_submitted_total",
				Help: "Total listing submissions.",
			},
			[]string{"side", "status"},
		),
		MatchOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_match_outcomes_total",
				Help: "Match attempts by outcome.",
			},
			[]string{"outcome"},
		),
		MatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marketplace_match_duration_seconds",
				Help:    "Match attempt duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		MatchCandidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marketplace_match_candidates",
				Help:    "Compatible counterparts found per match attempt.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
			},
		),
		SessionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketplace_session_outcomes_total",
				Help: "Negotiation session attempts by outcome.",
			},
			[]string{"outcome"},
		),
		CacheRefreshDur: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalog_cache_refresh_duration_seconds",
				Help:    "Catalog cache refresh duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		CacheRefreshErrs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_cache_refresh_errors_total",
				Help: "Failed catalog cache refreshes.",
			},
		),
		CacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_cache_size",
				Help: "Number of catalog items cached.",
			},
		),
	}

	registry.MustRegister(
		m.ListingsSubmitted, m.MatchOutcomes, m.MatchDuration, m.MatchCandidates,
		m.SessionOutcomes, m.CacheRefreshDur, m.CacheRefreshErrs, m.CacheSize,
	)
	return m
}

// ObserveRefresh, SetCacheSize and IncRefreshError satisfy the catalog
// cache's RefreshMetrics.
func (m *Metrics) ObserveRefresh(duration time.Duration) {
	m.CacheRefreshDur.Observe(duration.Seconds())
}

func (m *Metrics) SetCacheSize(size int) {
	m.CacheSize.Set(float64(size))
}

func (m *Metrics) IncRefreshError() {
	m.CacheRefreshErrs.Inc()
}

// ObserveMatch and ObserveCandidates satisfy the match engine's Metrics.
func (m *Metrics) ObserveMatch(outcome string, duration time.Duration) {
	m.MatchOutcomes.WithLabelValues(outcome).Inc()
	m.MatchDuration.Observe(duration.Seconds())
}

func (m *Metrics) ObserveCandidates(count int) {
	m.MatchCandidates.Observe(float64(count))
}

// ObserveSession satisfies the orchestrator's Metrics.
func (m *Metrics) ObserveSession(outcome string) {
	m.SessionOutcomes.WithLabelValues(outcome).Inc()
}
