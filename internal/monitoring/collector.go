package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/queryscope/queryscope/internal/cache"
	"github.com/queryscope/queryscope/internal/engine"
)

// stateCollector exports point-in-time gauges for the engine and the
// result cache. Counters on the hot path live in the engine itself;
// this collector covers the state that is cheaper to read on scrape.
type stateCollector struct {
	eng   *engine.Engine
	cache *cache.Cache

	metricCount     *prometheus.Desc
	patternCount    *prometheus.Desc
	suggestionCount *prometheus.Desc
	cacheEntries    *prometheus.Desc
	cacheHits       *prometheus.Desc
	cacheMisses     *prometheus.Desc
	cacheHitRate    *prometheus.Desc
	cacheEvictions  *prometheus.Desc
}

func newStateCollector(namespace string, eng *engine.Engine, c *cache.Cache) *stateCollector {
	return &stateCollector{
		eng:   eng,
		cache: c,
		metricCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "stored_metrics"),
			"Number of query metrics currently retained.", nil, nil),
		patternCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "patterns"),
			"Number of distinct query patterns seen.", nil, nil),
		suggestionCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "stored_suggestions"),
			"Number of optimization suggestions currently stored.", nil, nil),
		cacheEntries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cache_entries"),
			"Number of live result cache entries.", nil, nil),
		cacheHits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cache_hits_total"),
			"Total result cache hits.", nil, nil),
		cacheMisses: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cache_misses_total"),
			"Total result cache misses.", nil, nil),
		cacheHitRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cache_hit_rate"),
			"Result cache hit rate.", nil, nil),
		cacheEvictions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cache_evictions_total"),
			"Total result cache evictions.", nil, nil),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.metricCount
	ch <- c.patternCount
	ch <- c.suggestionCount
	ch <- c.cacheEntries
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheHitRate
	ch <- c.cacheEvictions
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.metricCount, prometheus.GaugeValue, float64(c.eng.MetricCount()))
	ch <- prometheus.MustNewConstMetric(c.patternCount, prometheus.GaugeValue, float64(c.eng.PatternCount()))
	ch <- prometheus.MustNewConstMetric(c.suggestionCount, prometheus.GaugeValue, float64(c.eng.SuggestionCount()))

	if c.cache == nil {
		return
	}
	stats := c.cache.Stats()
	ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue, float64(stats.Entries))
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.cacheHitRate, prometheus.GaugeValue, stats.HitRate)
	ch <- prometheus.MustNewConstMetric(c.cacheEvictions, prometheus.CounterValue, float64(stats.Evictions))
}
