package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics holds the engine's Prometheus instruments. A nil receiver
// is valid and makes every method a no-op, so the engine works without
// a registry.
type promMetrics struct {
	queriesTotal     prometheus.Counter
	queryDurationMs  prometheus.Histogram
	slowQueriesTotal prometheus.Counter
	nPlusOneTotal    prometheus.Counter
	suggestionsTotal *prometheus.CounterVec
}

func newPromMetrics(namespace string, reg prometheus.Registerer) *promMetrics {
	if reg == nil {
		return nil
	}
	if namespace == "" {
		namespace = "queryscope"
	}

	m := &promMetrics{
		queriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_tracked_total",
			Help:      "Total number of tracked query executions.",
		}),
		queryDurationMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_ms",
			Help:      "Observed query durations in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}),
		slowQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_queries_total",
			Help:      "Total number of queries above the slow threshold.",
		}),
		nPlusOneTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "n_plus_one_detections_total",
			Help:      "Total number of N+1 pattern detections.",
		}),
		suggestionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_total",
			Help:      "Total number of stored optimization suggestions.",
		}, []string{"severity"}),
	}
	reg.MustRegister(m.queriesTotal, m.queryDurationMs, m.slowQueriesTotal, m.nPlusOneTotal, m.suggestionsTotal)
	return m
}

func (m *promMetrics) observeQuery(durationMs float64, slow bool) {
	if m == nil {
		return
	}
	m.queriesTotal.Inc()
	m.queryDurationMs.Observe(durationMs)
	if slow {
		m.slowQueriesTotal.Inc()
	}
}

func (m *promMetrics) observeNPlusOne() {
	if m == nil {
		return
	}
	m.nPlusOneTotal.Inc()
}

func (m *promMetrics) observeSuggestion(severity Severity) {
	if m == nil {
		return
	}
	m.suggestionsTotal.WithLabelValues(string(severity)).Inc()
}
