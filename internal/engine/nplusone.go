package engine

import (
	"sync"
	"time"
)

// nPlusOneDetector keeps a sliding window of occurrence times per
// pattern and reports when a pattern repeats often enough inside the
// window to look like an N+1 anti-pattern.
//
// The per-pattern window is cleared after a detection so one sustained
// burst produces one report instead of one per subsequent occurrence.
// Bursts straddling the window boundary can under-count; that bias
// favors precision over recall.
type nPlusOneDetector struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	buffers   map[string]*patternWindow
}

type patternWindow struct {
	occurrences  []time.Time
	lastActivity time.Time
}

func newNPlusOneDetector(window time.Duration, threshold int) *nPlusOneDetector {
	return &nPlusOneDetector{
		window:    window,
		threshold: threshold,
		buffers:   make(map[string]*patternWindow),
	}
}

// observe records one occurrence at the given time and reports whether
// the pattern just crossed the detection threshold. Idle buffers are
// purged inline, so the map stays bounded by the set of patterns active
// within one window; within a live buffer, occurrences that fell out of
// the trailing window are aged out before the threshold check, so a
// steady drip below the threshold density never accumulates into a
// flag.
func (d *nPlusOneDetector) observe(pattern string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for p, w := range d.buffers {
		if now.Sub(w.lastActivity) > d.window {
			delete(d.buffers, p)
		}
	}

	w, ok := d.buffers[pattern]
	if !ok {
		w = &patternWindow{}
		d.buffers[pattern] = w
	}

	cutoff := now.Add(-d.window)
	kept := w.occurrences[:0]
	for _, ts := range w.occurrences {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.occurrences = append(kept, now)
	w.lastActivity = now

	if len(w.occurrences) >= d.threshold {
		delete(d.buffers, pattern)
		return true
	}
	return false
}

// setLimits updates the detection window and threshold (hot reload).
func (d *nPlusOneDetector) setLimits(window time.Duration, threshold int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if window > 0 {
		d.window = window
	}
	if threshold > 1 {
		d.threshold = threshold
	}
}

func (d *nPlusOneDetector) activeBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}
