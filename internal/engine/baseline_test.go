package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaselineCheck(t *testing.T) {
	t.Parallel()

	b := newBaselineMonitor()
	b.register("p", 100, 2, 5)
	assert.Equal(t, 1, b.length())

	tests := []struct {
		name         string
		durationMs   float64
		wantSeverity Severity
		wantOverrun  float64
	}{
		{name: "within expectation", durationMs: 80, wantSeverity: ""},
		{name: "exactly at expected", durationMs: 100, wantSeverity: ""},
		{name: "small overrun", durationMs: 150, wantSeverity: SeverityMedium, wantOverrun: 50},
		{name: "warning breach", durationMs: 300, wantSeverity: SeverityMedium, wantOverrun: 200},
		{name: "exactly at critical stays medium", durationMs: 500, wantSeverity: SeverityMedium, wantOverrun: 400},
		{name: "critical breach", durationMs: 900, wantSeverity: SeverityCritical, wantOverrun: 800},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			severity, overrun := b.check("p", tt.durationMs)
			assert.Equal(t, tt.wantSeverity, severity)
			if tt.wantSeverity != "" {
				assert.InDelta(t, tt.wantOverrun, overrun, 0.1)
			}
		})
	}
}

func TestBaselineUnknownPattern(t *testing.T) {
	t.Parallel()

	b := newBaselineMonitor()
	severity, overrun := b.check("never registered", 1e9)
	assert.Equal(t, Severity(""), severity)
	assert.Zero(t, overrun)
}

func TestBaselineReRegisterReplaces(t *testing.T) {
	t.Parallel()

	b := newBaselineMonitor()
	b.register("p", 100, 2, 5)
	b.register("p", 1000, 2, 5)
	assert.Equal(t, 1, b.length())

	severity, _ := b.check("p", 300)
	assert.Equal(t, Severity(""), severity, "new baseline tolerates the old warning level")
}
