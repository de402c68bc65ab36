package engine

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/allegro/bigcache/v3"
)

// Normalizer maps raw query text to a canonical pattern so that
// structurally identical queries collapse to one aggregation key.
// Normalization is deterministic and total: malformed SQL degrades to a
// best-effort string, it never fails.
//
// Raw-to-pattern results are memoized in a bigcache instance because
// hot request paths tend to re-normalize a small set of raw strings;
// the memo is bounded and misses simply recompute.
type Normalizer struct {
	memo *bigcache.BigCache
}

var (
	reWhitespace  = regexp.MustCompile(`\s+`)
	reSingleQuote = regexp.MustCompile(`'(?:[^']|'')*'`)
	reDoubleQuote = regexp.MustCompile(`"[^"]*"`)
	reDollarParam = regexp.MustCompile(`\$\d+`)
	reNamedParam  = regexp.MustCompile(`:[a-zA-Z_][a-zA-Z0-9_]*`)
	reNumber      = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	reInList      = regexp.MustCompile(`(?i)\bin\s*\([^)(]*\)`)
	reValuesList  = regexp.MustCompile(`(?i)\bvalues\s*\([^)(]*\)(?:\s*,\s*\([^)(]*\))*`)
)

// NewNormalizer creates a normalizer with a memoization cache of
// roughly maxMemoMB megabytes. A zero or failing cache disables
// memoization; normalization itself is unaffected.
func NewNormalizer(maxMemoMB int) *Normalizer {
	n := &Normalizer{}
	if maxMemoMB <= 0 {
		return n
	}

	cfg := bigcache.DefaultConfig(10 * time.Minute)
	cfg.HardMaxCacheSize = maxMemoMB
	cfg.Verbose = false
	memo, err := bigcache.New(context.Background(), cfg)
	if err == nil {
		n.memo = memo
	}
	return n
}

// Normalize returns the canonical pattern for a raw query.
func (n *Normalizer) Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	if n.memo != nil {
		if cached, err := n.memo.Get(trimmed); err == nil {
			return string(cached)
		}
	}

	pattern := normalize(trimmed)

	if n.memo != nil {
		_ = n.memo.Set(trimmed, []byte(pattern))
	}
	return pattern
}

func normalize(q string) string {
	s := reWhitespace.ReplaceAllString(q, " ")
	s = reSingleQuote.ReplaceAllString(s, "?")
	s = reDoubleQuote.ReplaceAllString(s, "?")
	s = reDollarParam.ReplaceAllString(s, "?")
	s = reNamedParam.ReplaceAllString(s, "?")
	s = reNumber.ReplaceAllString(s, "?")
	s = reInList.ReplaceAllString(s, "in (?)")
	s = reValuesList.ReplaceAllString(s, "values (?)")
	return strings.ToLower(strings.TrimSpace(s))
}

// Sanitize redacts literal values from a query and truncates it for
// storage. Unlike Normalize it preserves the original casing so the
// stored text stays recognizable.
func Sanitize(raw string, maxLen int) string {
	s := reWhitespace.ReplaceAllString(strings.TrimSpace(raw), " ")
	s = reSingleQuote.ReplaceAllString(s, "?")
	s = reDoubleQuote.ReplaceAllString(s, "?")
	s = reNumber.ReplaceAllString(s, "?")
	if maxLen > 0 && len(s) > maxLen {
		s = truncateRunes(s, maxLen) + "..."
	}
	return s
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
