package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		query     string
		wantKinds []SuggestionKind
	}{
		{
			name:      "wildcard projection",
			query:     "SELECT * FROM users WHERE id = 1",
			wantKinds: []SuggestionKind{KindLargeResultSet},
		},
		{
			name:      "clean point lookup",
			query:     "SELECT id FROM users WHERE id = 1",
			wantKinds: nil,
		},
		{
			name:      "unbounded select",
			query:     "SELECT id, name FROM users",
			wantKinds: []SuggestionKind{KindMissingIndex},
		},
		{
			name:      "implicit cross join",
			query:     "SELECT u.id FROM users u, orders o WHERE u.id = o.user_id",
			wantKinds: []SuggestionKind{KindInefficientJoin},
		},
		{
			name:      "explicit join is fine",
			query:     "SELECT u.id FROM users u JOIN orders o ON u.id = o.user_id WHERE o.total > 10",
			wantKinds: nil,
		},
		{
			name: "deep subqueries",
			query: "SELECT * FROM (SELECT * FROM (SELECT * FROM (SELECT id FROM t WHERE x = 1) a) b) c" +
				" WHERE id > 0",
			wantKinds: []SuggestionKind{KindLargeResultSet, KindComplexQuery},
		},
	}

	rules := DefaultRules()
	now := time.Now()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opt := analyzeStatic(rules, tt.query, now)
			kinds := make([]SuggestionKind, 0, len(opt.Suggestions))
			for _, s := range opt.Suggestions {
				kinds = append(kinds, s.Kind)
			}
			assert.ElementsMatch(t, tt.wantKinds, kinds)
			if len(tt.wantKinds) == 0 {
				assert.Empty(t, opt.EstimatedImprovement)
			} else {
				assert.NotEmpty(t, opt.EstimatedImprovement)
			}
		})
	}
}

func TestAnalyzeStaticWildcardHint(t *testing.T) {
	t.Parallel()

	opt := analyzeStatic(DefaultRules(), "SELECT * FROM users WHERE id = 1", time.Now())
	assert.Equal(t, "SELECT <columns> FROM users WHERE id = 1", opt.Hint)
}

func TestSuggestionLogDedupe(t *testing.T) {
	t.Parallel()

	l := newSuggestionLog(100)
	s := OptimizationSuggestion{
		Kind:     KindMissingIndex,
		Severity: SeverityMedium,
		Query:    "SELECT a FROM t WHERE id = 1",
	}

	assert.True(t, l.add(s))
	assert.False(t, l.add(s), "same query and kind is a duplicate")

	s.Kind = KindLargeResultSet
	assert.True(t, l.add(s), "same query with a different kind is distinct")
	assert.Equal(t, 2, l.length())
}

func TestSuggestionLogCapEvictsOldest(t *testing.T) {
	t.Parallel()

	l := newSuggestionLog(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.True(t, l.add(OptimizationSuggestion{
			Kind:       KindMissingIndex,
			Severity:   SeverityLow,
			Query:      fmt.Sprintf("q%d", i),
			DetectedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	require.Equal(t, 3, l.length())
	got := l.list("")
	queries := []string{got[0].Query, got[1].Query, got[2].Query}
	assert.ElementsMatch(t, []string{"q2", "q3", "q4"}, queries)

	// Evicting q0 re-armed its dedup key.
	assert.True(t, l.add(OptimizationSuggestion{Kind: KindMissingIndex, Query: "q0"}))
}

func TestSuggestionListOrdering(t *testing.T) {
	t.Parallel()

	l := newSuggestionLog(100)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.add(OptimizationSuggestion{Kind: KindComplexQuery, Severity: SeverityLow, Query: "a", DetectedAt: base})
	l.add(OptimizationSuggestion{Kind: KindMissingIndex, Severity: SeverityCritical, Query: "b", DetectedAt: base.Add(time.Second)})
	l.add(OptimizationSuggestion{Kind: KindRepeatedQuery, Severity: SeverityHigh, Query: "c", DetectedAt: base.Add(2 * time.Second)})
	l.add(OptimizationSuggestion{Kind: KindMissingIndex, Severity: SeverityCritical, Query: "d", DetectedAt: base.Add(3 * time.Second)})

	got := l.list("")
	require.Len(t, got, 4)
	assert.Equal(t, "d", got[0].Query, "critical and newest first")
	assert.Equal(t, "b", got[1].Query)
	assert.Equal(t, "c", got[2].Query)
	assert.Equal(t, "a", got[3].Query)

	critical := l.list(SeverityCritical)
	require.Len(t, critical, 2)
	assert.Equal(t, 2, l.criticalCount())
}

func TestQueryType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "select", queryType("  SELECT * FROM t"))
	assert.Equal(t, "insert", queryType("INSERT INTO t VALUES (1)"))
	assert.Equal(t, "with", queryType("WITH cte AS (SELECT 1) SELECT * FROM cte"))
	assert.Equal(t, "other", queryType("EXPLAIN SELECT 1"))
	assert.Equal(t, "other", queryType(""))
}
