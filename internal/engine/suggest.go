package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// SuggestionKind classifies an optimization opportunity.
type SuggestionKind string

const (
	KindRepeatedQuery   SuggestionKind = "repeated_query"
	KindMissingIndex    SuggestionKind = "missing_index"
	KindInefficientJoin SuggestionKind = "inefficient_join"
	KindLargeResultSet  SuggestionKind = "large_result_set"
	KindComplexQuery    SuggestionKind = "complex_query"
)

// Severity ranks suggestions for retrieval: critical > high > medium > low.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// OptimizationSuggestion is one detected improvement opportunity.
type OptimizationSuggestion struct {
	Kind                 SuggestionKind `json:"kind"`
	Severity             Severity       `json:"severity"`
	Query                string         `json:"query"`
	Suggestion           string         `json:"suggestion"`
	EstimatedImprovement string         `json:"estimated_improvement,omitempty"`
	DetectedAt           time.Time      `json:"detected_at"`
}

// suggestionLog is the append-only, capped, deduplicated suggestion
// list. Dedup key is (query, kind); once the cap is reached the oldest
// entry is dropped, which re-arms its dedup key.
type suggestionLog struct {
	mu    sync.RWMutex
	max   int
	items []OptimizationSuggestion
	seen  map[string]struct{}
}

func newSuggestionLog(max int) *suggestionLog {
	if max <= 0 {
		max = 1
	}
	return &suggestionLog{max: max, seen: make(map[string]struct{})}
}

func suggestionKey(query string, kind SuggestionKind) string {
	return query + "\x00" + string(kind)
}

// add appends a suggestion unless an equivalent one is already stored.
// Returns whether the suggestion was accepted.
func (l *suggestionLog) add(s OptimizationSuggestion) bool {
	key := suggestionKey(s.Query, s.Kind)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.seen[key]; dup {
		return false
	}
	if len(l.items) >= l.max {
		oldest := l.items[0]
		delete(l.seen, suggestionKey(oldest.Query, oldest.Kind))
		l.items = l.items[1:]
	}
	l.items = append(l.items, s)
	l.seen[key] = struct{}{}
	return true
}

// list returns stored suggestions, optionally filtered by severity,
// ordered by severity rank then recency.
func (l *suggestionLog) list(severity Severity) []OptimizationSuggestion {
	l.mu.RLock()
	out := make([]OptimizationSuggestion, 0, len(l.items))
	for _, s := range l.items {
		if severity != "" && s.Severity != severity {
			continue
		}
		out = append(out, s)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity.rank() != out[j].Severity.rank() {
			return out[i].Severity.rank() > out[j].Severity.rank()
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out
}

func (l *suggestionLog) criticalCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, s := range l.items {
		if s.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

func (l *suggestionLog) length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Rule is one static heuristic over raw query text. Rules are data, not
// control flow: adding a heuristic means appending to the table.
type Rule struct {
	Name              string
	Kind              SuggestionKind
	Severity          Severity
	Suggestion        string
	MinImprovementPct int
	MaxImprovementPct int
	Applies           func(query string) bool
}

var (
	reWildcardSelect = regexp.MustCompile(`(?i)\bselect\s+\*`)
	reMultiFrom      = regexp.MustCompile(`(?i)\bfrom\s+[a-z_][a-z0-9_."]*(?:\s+[a-z_][a-z0-9_]*)?\s*,\s*[a-z_]`)
	reJoin           = regexp.MustCompile(`(?i)\bjoin\b`)
	reSelect         = regexp.MustCompile(`(?i)^\s*select\b`)
	reWhere          = regexp.MustCompile(`(?i)\bwhere\b`)
	reSubquery       = regexp.MustCompile(`(?i)\(\s*select\b`)
)

// DefaultRules returns the built-in heuristic table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:              "wildcard-projection",
			Kind:              KindLargeResultSet,
			Severity:          SeverityMedium,
			Suggestion:        "Avoid SELECT *; project only the columns you need",
			MinImprovementPct: 10,
			MaxImprovementPct: 30,
			Applies: func(q string) bool {
				return reWildcardSelect.MatchString(q)
			},
		},
		{
			Name:              "implicit-cross-join",
			Kind:              KindInefficientJoin,
			Severity:          SeverityMedium,
			Suggestion:        "Multiple FROM targets without an explicit JOIN; use JOIN with a join condition",
			MinImprovementPct: 30,
			MaxImprovementPct: 70,
			Applies: func(q string) bool {
				return reMultiFrom.MatchString(q) && !reJoin.MatchString(q)
			},
		},
		{
			Name:              "unbounded-select",
			Kind:              KindMissingIndex,
			Severity:          SeverityHigh,
			Suggestion:        "SELECT without a WHERE clause scans the whole table; add a filter or LIMIT",
			MinImprovementPct: 50,
			MaxImprovementPct: 90,
			Applies: func(q string) bool {
				return reSelect.MatchString(q) && !reWhere.MatchString(q)
			},
		},
		{
			Name:              "deep-subqueries",
			Kind:              KindComplexQuery,
			Severity:          SeverityMedium,
			Suggestion:        "Deeply nested subqueries; flatten with JOINs or CTEs",
			MinImprovementPct: 20,
			MaxImprovementPct: 50,
			Applies: func(q string) bool {
				return len(reSubquery.FindAllStringIndex(q, -1)) >= 3
			},
		},
	}
}

// Optimization is the result of static analysis on one query.
type Optimization struct {
	Query                string                   `json:"query"`
	Suggestions          []OptimizationSuggestion `json:"suggestions"`
	EstimatedImprovement string                   `json:"estimated_improvement,omitempty"`
	Hint                 string                   `json:"hint,omitempty"`
}

// analyzeStatic runs the rule table against one raw query. The
// estimated improvement is the widest range across matched rules.
func analyzeStatic(rules []Rule, raw string, now time.Time) Optimization {
	opt := Optimization{Query: raw}

	lo, hi := 0, 0
	for _, r := range rules {
		if r.Applies == nil || !r.Applies(raw) {
			continue
		}
		opt.Suggestions = append(opt.Suggestions, OptimizationSuggestion{
			Kind:                 r.Kind,
			Severity:             r.Severity,
			Query:                raw,
			Suggestion:           r.Suggestion,
			EstimatedImprovement: fmt.Sprintf("%d-%d%%", r.MinImprovementPct, r.MaxImprovementPct),
			DetectedAt:           now,
		})
		if r.MinImprovementPct > lo {
			lo = r.MinImprovementPct
		}
		if r.MaxImprovementPct > hi {
			hi = r.MaxImprovementPct
		}
		if r.Name == "wildcard-projection" {
			opt.Hint = reWildcardSelect.ReplaceAllString(raw, "SELECT <columns>")
		}
	}
	if len(opt.Suggestions) > 0 {
		opt.EstimatedImprovement = fmt.Sprintf("%d-%d%%", lo, hi)
	}
	return opt
}

func queryType(q string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(q)))
	if len(fields) == 0 {
		return "other"
	}
	switch fields[0] {
	case "select", "insert", "update", "delete", "create", "alter", "drop", "begin", "commit", "rollback", "with":
		return fields[0]
	}
	return "other"
}
