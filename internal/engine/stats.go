package engine

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// PatternStat is one row of the slow-pattern ranking.
type PatternStat struct {
	Pattern         string  `json:"pattern"`
	Count           int64   `json:"count"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	TotalDurationMs float64 `json:"total_duration_ms"`
}

// Stats is the aggregate view computed by QueryStats.
type Stats struct {
	Count            int            `json:"count"`
	AvgDurationMs    float64        `json:"avg_duration_ms"`
	MedianMs         float64        `json:"median_ms"`
	P95Ms            float64        `json:"p95_ms"`
	P99Ms            float64        `json:"p99_ms"`
	MaxMs            float64        `json:"max_ms"`
	SlowCount        int            `json:"slow_count"`
	FastCount        int            `json:"fast_count"`
	SlowRatio        float64        `json:"slow_ratio"`
	NPlusOnePatterns int            `json:"n_plus_one_patterns"`
	CacheHitRate     float64        `json:"cache_hit_rate"`
	TopSlowPatterns  []PatternStat  `json:"top_slow_patterns"`
	QueriesByHour    map[int]int    `json:"queries_by_hour"`
	QueriesByType    map[string]int `json:"queries_by_type"`
	WindowMs         float64        `json:"window_ms,omitempty"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

// HealthStatus is the tri-state health classification.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// HealthReport is the result of HealthCheck.
type HealthReport struct {
	Status              HealthStatus `json:"status"`
	AvgDurationMs       float64      `json:"avg_duration_ms"`
	SlowRatio           float64      `json:"slow_ratio"`
	NPlusOnePatterns    int          `json:"n_plus_one_patterns"`
	CriticalSuggestions int          `json:"critical_suggestions"`
	Reasons             []string     `json:"reasons,omitempty"`
	CheckedAt           time.Time    `json:"checked_at"`
}

// QueryStats computes aggregate statistics over the metrics recorded
// within the optional window (zero means all retained metrics). It
// operates on a snapshot and never mutates engine state.
func (e *Engine) QueryStats(window time.Duration) Stats {
	cfg := e.config()
	now := e.clock.Now()

	metrics := e.store.snapshot()
	if window > 0 {
		cutoff := now.Add(-window)
		filtered := metrics[:0]
		for _, m := range metrics {
			if !m.Timestamp.Before(cutoff) {
				filtered = append(filtered, m)
			}
		}
		metrics = filtered
	}

	s := Stats{
		Count:            len(metrics),
		NPlusOnePatterns: len(e.patterns.nPlusOne()),
		QueriesByHour:    make(map[int]int),
		QueriesByType:    make(map[string]int),
		GeneratedAt:      now,
	}
	if window > 0 {
		s.WindowMs = float64(window) / float64(time.Millisecond)
	}
	if e.cache != nil {
		s.CacheHitRate = e.cache.HitRate()
	}
	if len(metrics) == 0 {
		s.TopSlowPatterns = []PatternStat{}
		return s
	}

	durations := make([]float64, 0, len(metrics))
	for _, m := range metrics {
		durations = append(durations, m.DurationMs)
		s.QueriesByHour[m.Timestamp.Hour()]++
		s.QueriesByType[queryType(m.Query)]++
		if m.DurationMs > cfg.SlowQueryMs {
			s.SlowCount++
		} else {
			s.FastCount++
		}
	}
	sort.Float64s(durations)

	s.AvgDurationMs = stat.Mean(durations, nil)
	s.MedianMs = percentile(durations, 0.50)
	s.P95Ms = percentile(durations, 0.95)
	s.P99Ms = percentile(durations, 0.99)
	s.MaxMs = durations[len(durations)-1]
	s.SlowRatio = float64(s.SlowCount) / float64(len(metrics))
	s.TopSlowPatterns = e.topSlowPatterns(10)
	return s
}

// percentile looks up the p-th percentile of an ascending-sorted slice
// using index = floor(n*p).
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (e *Engine) topSlowPatterns(limit int) []PatternStat {
	patterns := e.patterns.frequent(0)
	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].AvgDurationMs > patterns[j].AvgDurationMs
	})
	if len(patterns) > limit {
		patterns = patterns[:limit]
	}

	out := make([]PatternStat, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, PatternStat{
			Pattern:         p.Pattern,
			Count:           p.Count,
			AvgDurationMs:   p.AvgDurationMs,
			TotalDurationMs: p.TotalDurationMs,
		})
	}
	return out
}

// HealthCheck classifies engine health from the current stats, the N+1
// pattern count and outstanding critical suggestions.
func (e *Engine) HealthCheck() HealthReport {
	cfg := e.config()
	stats := e.QueryStats(0)

	report := HealthReport{
		Status:              HealthHealthy,
		AvgDurationMs:       stats.AvgDurationMs,
		SlowRatio:           stats.SlowRatio,
		NPlusOnePatterns:    stats.NPlusOnePatterns,
		CriticalSuggestions: e.suggestions.criticalCount(),
		CheckedAt:           stats.GeneratedAt,
	}

	warn := func(reason string) {
		if report.Status == HealthHealthy {
			report.Status = HealthWarning
		}
		report.Reasons = append(report.Reasons, reason)
	}
	crit := func(reason string) {
		report.Status = HealthCritical
		report.Reasons = append(report.Reasons, reason)
	}

	switch {
	case stats.AvgDurationMs > cfg.HealthAvgCriticalMs:
		crit("average query duration above critical threshold")
	case stats.AvgDurationMs > cfg.HealthAvgWarningMs:
		warn("average query duration above warning threshold")
	}
	switch {
	case stats.SlowRatio > cfg.HealthSlowCritRatio:
		crit("slow query ratio above critical threshold")
	case stats.SlowRatio > cfg.HealthSlowWarnRatio:
		warn("slow query ratio above warning threshold")
	}
	if report.NPlusOnePatterns > 0 {
		warn("n+1 query patterns detected")
	}
	if report.CriticalSuggestions > 0 {
		crit("critical optimization suggestions outstanding")
	}
	return report
}
