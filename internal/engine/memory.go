package engine

import (
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// PressureProbe reports system memory usage as a fraction in [0,1].
type PressureProbe func() (float64, error)

func systemPressure() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100, nil
}

// ClearOldMetrics drops metrics older than maxAge and returns how many
// were removed. It only acts when system memory pressure exceeds the
// configured threshold; under normal pressure the store is left alone
// and 0 is returned. A failing pressure probe allows the prune: the
// caller asked for relief and losing telemetry is the accepted cost.
func (e *Engine) ClearOldMetrics(maxAge time.Duration) int {
	threshold := e.config().MemoryPressureThreshold

	usage, err := e.pressure()
	if err != nil {
		e.logger.Warn("Memory pressure probe failed, pruning anyway", zap.Error(err))
	} else if usage < threshold {
		return 0
	}

	cutoff := e.clock.Now().Add(-maxAge)
	removed := e.store.removeOlderThan(cutoff)
	if removed > 0 {
		e.logger.Info("Pruned old query metrics",
			zap.Int("removed", removed),
			zap.Duration("max_age", maxAge),
			zap.Float64("memory_usage", usage),
		)
	}
	return removed
}
