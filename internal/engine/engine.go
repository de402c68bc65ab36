// Package engine implements the query performance observability engine:
// per-execution metric tracking, per-pattern rolling aggregation, N+1
// detection, baseline monitoring and optimization suggestions. The
// engine is a side channel on the caller's data path; it never blocks
// on I/O and never lets its own failures reach the caller.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/queryscope/queryscope/internal/cache"
	"github.com/queryscope/queryscope/internal/config"
)

// Engine is the observability service object. Construct one at startup
// and share it by reference; there is no ambient global instance.
type Engine struct {
	logger *zap.Logger
	clock  Clock

	cfgMu sync.RWMutex
	cfg   config.EngineConfig

	normalizer  *Normalizer
	store       *metricStore
	patterns    *patternAggregator
	detector    *nPlusOneDetector
	baselines   *baselineMonitor
	suggestions *suggestionLog
	rules       []Rule
	cache       *cache.Cache
	prom        *promMetrics
	pressure    PressureProbe
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock (tests).
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithCache attaches the result cache so its hit rate appears in stats.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithPrometheus registers engine instruments on the given registerer.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.prom = newPromMetrics("", reg) }
}

// WithPressureProbe overrides the memory pressure probe (tests).
func WithPressureProbe(p PressureProbe) Option {
	return func(e *Engine) { e.pressure = p }
}

// WithRules replaces the static heuristic rule table.
func WithRules(rules []Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

// New creates an engine. cfg is expected to come from config.Default()
// or a validated config.Load.
func New(cfg config.EngineConfig, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:      logger,
		clock:       systemClock{},
		cfg:         cfg,
		normalizer:  NewNormalizer(cfg.NormalizerCacheMB),
		store:       newMetricStore(cfg.MaxMetrics),
		patterns:    newPatternAggregator(),
		detector:    newNPlusOneDetector(cfg.NPlusOneWindow, cfg.NPlusOneThreshold),
		baselines:   newBaselineMonitor(),
		suggestions: newSuggestionLog(cfg.MaxSuggestions),
		rules:       DefaultRules(),
		pressure:    systemPressure,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) config() config.EngineConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// ApplyConfig updates the hot-reloadable tunables: thresholds, windows
// and health limits. The metric store capacity and suggestion cap are
// fixed at construction and keep their original values.
func (e *Engine) ApplyConfig(cfg config.EngineConfig) {
	e.cfgMu.Lock()
	fixedMetrics := e.cfg.MaxMetrics
	fixedSuggestions := e.cfg.MaxSuggestions
	e.cfg = cfg
	e.cfg.MaxMetrics = fixedMetrics
	e.cfg.MaxSuggestions = fixedSuggestions
	e.cfgMu.Unlock()

	e.detector.setLimits(cfg.NPlusOneWindow, cfg.NPlusOneThreshold)
	e.logger.Info("Engine config applied",
		zap.Duration("n_plus_one_window", cfg.NPlusOneWindow),
		zap.Int("n_plus_one_threshold", cfg.NPlusOneThreshold),
		zap.Float64("slow_query_ms", cfg.SlowQueryMs),
	)
}

// Track records one query execution. It always retains the metric:
// failures in the analysis stages (detection, suggestions, logging) are
// confined and never reach the caller.
func (e *Engine) Track(query string, startedAt time.Time, info *TrackInfo) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Query tracking panic recovered", zap.Any("panic", r))
		}
	}()

	now := e.clock.Now()
	durationMs := float64(now.Sub(startedAt)) / float64(time.Millisecond)
	if durationMs < 0 {
		durationMs = 0
	}

	cfg := e.config()
	pattern := e.normalizer.Normalize(query)
	m := &QueryMetric{
		ID:         uuid.NewString(),
		Query:      Sanitize(query, cfg.MaxQueryLength),
		Pattern:    pattern,
		DurationMs: durationMs,
		Timestamp:  now,
		Rows:       -1,
	}
	if info != nil {
		m.Rows = info.Rows
		m.Plan = info.Plan
		m.Context = info.Context
	}

	e.store.add(m)
	e.patterns.record(pattern, durationMs, now)
	e.prom.observeQuery(durationMs, durationMs > cfg.SlowQueryMs)

	e.analyze(m, cfg, now)

	e.logger.Debug("Query tracked",
		zap.String("pattern", pattern),
		zap.Float64("duration_ms", durationMs),
		zap.String("source", m.Context.Source),
	)
}

// analyze runs the side-channel stages for one metric. Panics here are
// confined so a bad heuristic cannot lose the already-stored metric.
func (e *Engine) analyze(m *QueryMetric, cfg config.EngineConfig, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Query analysis panic recovered",
				zap.String("pattern", m.Pattern),
				zap.Any("panic", r),
			)
		}
	}()

	if e.detector.observe(m.Pattern, now) {
		remediation := []string{
			"use JOIN instead of multiple queries",
			"implement batching",
		}
		e.patterns.markNPlusOne(m.Pattern, remediation)
		e.addSuggestion(OptimizationSuggestion{
			Kind:                 KindRepeatedQuery,
			Severity:             SeverityHigh,
			Query:                m.Query,
			Suggestion:           "Repeated query detected (possible N+1); batch the lookups or use a JOIN",
			EstimatedImprovement: "60-90%",
			DetectedAt:           now,
		})
		e.prom.observeNPlusOne()
		e.logger.Warn("N+1 query pattern detected",
			zap.String("pattern", m.Pattern),
			zap.Int("threshold", cfg.NPlusOneThreshold),
			zap.Duration("window", cfg.NPlusOneWindow),
		)
	}

	if severity, overrun := e.baselines.check(m.Pattern, m.DurationMs); severity != "" {
		e.addSuggestion(OptimizationSuggestion{
			Kind:     KindMissingIndex,
			Severity: severity,
			Query:    m.Query,
			Suggestion: fmt.Sprintf("Query exceeded its performance baseline by %.0f%%; review indexes and recent plan changes",
				overrun),
			DetectedAt: now,
		})
	}

	switch {
	case m.DurationMs > cfg.CriticalQueryMs:
		e.addSuggestion(OptimizationSuggestion{
			Kind:                 KindMissingIndex,
			Severity:             SeverityCritical,
			Query:                m.Query,
			Suggestion:           fmt.Sprintf("Query took %.0fms; investigate indexes and access paths", m.DurationMs),
			EstimatedImprovement: "50-90%",
			DetectedAt:           now,
		})
	case m.DurationMs > cfg.SlowQueryMs:
		e.addSuggestion(OptimizationSuggestion{
			Kind:                 KindMissingIndex,
			Severity:             SeverityMedium,
			Query:                m.Query,
			Suggestion:           fmt.Sprintf("Query took %.0fms; consider adding an index for its filter columns", m.DurationMs),
			EstimatedImprovement: "30-70%",
			DetectedAt:           now,
		})
	}

	if m.Rows > cfg.LargeResultRows {
		e.addSuggestion(OptimizationSuggestion{
			Kind:                 KindLargeResultSet,
			Severity:             SeverityHigh,
			Query:                m.Query,
			Suggestion:           fmt.Sprintf("Query returned %d rows; add pagination or tighter filters", m.Rows),
			EstimatedImprovement: "40-80%",
			DetectedAt:           now,
		})
	}
}

func (e *Engine) addSuggestion(s OptimizationSuggestion) {
	if e.suggestions.add(s) {
		e.prom.observeSuggestion(s.Severity)
	}
}

// BatchTrack records a batch of executions. Before tracking each entry
// it pre-scans the batch: a pattern repeating past the batch threshold
// is intra-request fan-out the time-windowed detector might average
// away, so it is reported immediately.
func (e *Engine) BatchTrack(entries []BatchEntry) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Batch tracking panic recovered", zap.Any("panic", r))
		}
	}()

	cfg := e.config()
	counts := make(map[string]int, len(entries))
	for _, entry := range entries {
		counts[e.normalizer.Normalize(entry.Query)]++
	}
	for pattern, n := range counts {
		if n > cfg.BatchNPlusOneThreshold {
			e.logger.Warn("Batch-level N+1 pattern",
				zap.String("pattern", pattern),
				zap.Int("occurrences", n),
				zap.Int("batch_size", len(entries)),
			)
		}
	}

	for _, entry := range entries {
		e.Track(entry.Query, entry.StartedAt, entry.Info)
	}
}

// RegisterBaseline registers a performance expectation for a pattern.
// Thresholds are multiples of the expected duration.
func (e *Engine) RegisterBaseline(pattern string, expectedMs, warnMult, critMult float64) {
	e.baselines.register(pattern, expectedMs, warnMult, critMult)
	e.logger.Info("Baseline registered",
		zap.String("pattern", pattern),
		zap.Float64("expected_ms", expectedMs),
		zap.Float64("warn_mult", warnMult),
		zap.Float64("crit_mult", critMult),
	)
}

// OptimizeQuery runs the static heuristic table against a raw query.
func (e *Engine) OptimizeQuery(raw string) Optimization {
	return analyzeStatic(e.rules, raw, e.clock.Now())
}

// SlowQueries returns up to limit retained metrics slower than
// thresholdMs, slowest first.
func (e *Engine) SlowQueries(thresholdMs float64, limit int) []QueryMetric {
	metrics := e.store.snapshot()

	out := make([]QueryMetric, 0)
	for _, m := range metrics {
		if m.DurationMs > thresholdMs {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DurationMs > out[j].DurationMs
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FrequentQueries returns the most frequently seen patterns.
func (e *Engine) FrequentQueries(limit int) []QueryPattern {
	return e.patterns.frequent(limit)
}

// NPlusOneQueries returns every pattern flagged as an N+1 anti-pattern.
func (e *Engine) NPlusOneQueries() []QueryPattern {
	return e.patterns.nPlusOne()
}

// Suggestions returns stored suggestions, optionally filtered by
// severity (empty means all), ordered critical first.
func (e *Engine) Suggestions(severity Severity) []OptimizationSuggestion {
	return e.suggestions.list(severity)
}

// MetricCount returns the number of retained metrics.
func (e *Engine) MetricCount() int { return e.store.length() }

// PatternCount returns the number of distinct patterns seen.
func (e *Engine) PatternCount() int { return e.patterns.length() }

// SuggestionCount returns the number of stored suggestions.
func (e *Engine) SuggestionCount() int { return e.suggestions.length() }

// Snapshot is a JSON-marshalable view of the engine for the stats
// server and CLI.
type Snapshot struct {
	Stats            Stats                    `json:"stats"`
	Health           HealthReport             `json:"health"`
	Suggestions      []OptimizationSuggestion `json:"suggestions"`
	NPlusOnePatterns []QueryPattern           `json:"n_plus_one_patterns"`
	FrequentPatterns []QueryPattern           `json:"frequent_patterns"`
}

// Snapshot captures the current stats, health and suggestion state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Stats:            e.QueryStats(0),
		Health:           e.HealthCheck(),
		Suggestions:      e.suggestions.list(""),
		NPlusOnePatterns: e.patterns.nPlusOne(),
		FrequentPatterns: e.patterns.frequent(10),
	}
}
