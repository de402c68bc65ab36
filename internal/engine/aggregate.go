package engine

import (
	"sort"
	"sync"
	"time"
)

// QueryPattern is the rolling aggregate for one normalized pattern.
type QueryPattern struct {
	Pattern         string    `json:"pattern"`
	Count           int64     `json:"count"`
	TotalDurationMs float64   `json:"total_duration_ms"`
	AvgDurationMs   float64   `json:"avg_duration_ms"`
	LastSeen        time.Time `json:"last_seen"`
	IsNPlusOne      bool      `json:"is_n_plus_one"`
	Suggestions     []string  `json:"suggestions,omitempty"`
}

// patternAggregator owns the pattern map. Aggregates are created lazily
// on first occurrence and never deleted; the set of query shapes an
// application emits is finite.
type patternAggregator struct {
	mu       sync.RWMutex
	patterns map[string]*QueryPattern
}

func newPatternAggregator() *patternAggregator {
	return &patternAggregator{patterns: make(map[string]*QueryPattern)}
}

// record updates the aggregate for pattern with one observation.
// The mean is streamed as total/count, no history re-scan.
func (a *patternAggregator) record(pattern string, durationMs float64, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.patterns[pattern]
	if !ok {
		p = &QueryPattern{Pattern: pattern}
		a.patterns[pattern] = p
	}
	p.Count++
	p.TotalDurationMs += durationMs
	p.AvgDurationMs = p.TotalDurationMs / float64(p.Count)
	p.LastSeen = at
}

// markNPlusOne flags a pattern and attaches remediation suggestions.
func (a *patternAggregator) markNPlusOne(pattern string, suggestions []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.patterns[pattern]
	if !ok {
		p = &QueryPattern{Pattern: pattern}
		a.patterns[pattern] = p
	}
	p.IsNPlusOne = true
	for _, s := range suggestions {
		if !containsString(p.Suggestions, s) {
			p.Suggestions = append(p.Suggestions, s)
		}
	}
}

// frequent returns up to limit patterns ordered by count descending.
func (a *patternAggregator) frequent(limit int) []QueryPattern {
	a.mu.RLock()
	out := make([]QueryPattern, 0, len(a.patterns))
	for _, p := range a.patterns {
		out = append(out, copyPattern(p))
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Pattern < out[j].Pattern
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// nPlusOne returns all flagged patterns.
func (a *patternAggregator) nPlusOne() []QueryPattern {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]QueryPattern, 0)
	for _, p := range a.patterns {
		if p.IsNPlusOne {
			out = append(out, copyPattern(p))
		}
	}
	return out
}

func (a *patternAggregator) length() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.patterns)
}

func copyPattern(p *QueryPattern) QueryPattern {
	cp := *p
	cp.Suggestions = append([]string(nil), p.Suggestions...)
	return cp
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
