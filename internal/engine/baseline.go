package engine

import (
	"sync"
)

// PerformanceBaseline is an operator-registered expectation for one
// pattern. Warning and critical thresholds are absolute, derived from
// the expected duration at registration time. The warning threshold is
// reported alongside the baseline; classification escalates to critical
// at the critical threshold and treats any smaller overrun of the
// expected duration as medium.
type PerformanceBaseline struct {
	Pattern    string  `json:"pattern"`
	ExpectedMs float64 `json:"expected_ms"`
	WarningMs  float64 `json:"warning_ms"`
	CriticalMs float64 `json:"critical_ms"`
}

// baselineMonitor stores baselines and classifies observed durations
// against them. Baselines are never auto-created.
type baselineMonitor struct {
	mu        sync.RWMutex
	baselines map[string]PerformanceBaseline
}

func newBaselineMonitor() *baselineMonitor {
	return &baselineMonitor{baselines: make(map[string]PerformanceBaseline)}
}

func (b *baselineMonitor) register(pattern string, expectedMs, warnMult, critMult float64) {
	b.mu.Lock()
	b.baselines[pattern] = PerformanceBaseline{
		Pattern:    pattern,
		ExpectedMs: expectedMs,
		WarningMs:  expectedMs * warnMult,
		CriticalMs: expectedMs * critMult,
	}
	b.mu.Unlock()
}

// check classifies a duration against the pattern's baseline: above
// the critical threshold is critical, any overrun of the expected
// duration below that is medium. The returned severity is empty when no
// baseline exists or the duration is within expectation; overrun is the
// percentage above the expected duration.
func (b *baselineMonitor) check(pattern string, durationMs float64) (severity Severity, overrunPct float64) {
	b.mu.RLock()
	base, ok := b.baselines[pattern]
	b.mu.RUnlock()
	if !ok {
		return "", 0
	}

	switch {
	case durationMs > base.CriticalMs:
		severity = SeverityCritical
	case durationMs > base.ExpectedMs:
		severity = SeverityMedium
	default:
		return "", 0
	}
	if base.ExpectedMs > 0 {
		overrunPct = (durationMs - base.ExpectedMs) / base.ExpectedMs * 100
	}
	return severity, overrunPct
}

func (b *baselineMonitor) length() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.baselines)
}
