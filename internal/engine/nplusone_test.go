package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetectorThreshold(t *testing.T) {
	t.Parallel()

	d := newNPlusOneDetector(5*time.Second, 3)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, d.observe("p", now))
	assert.False(t, d.observe("p", now.Add(time.Millisecond)))
	assert.True(t, d.observe("p", now.Add(2*time.Millisecond)))

	// Detection resets the buffer; the count starts over.
	assert.False(t, d.observe("p", now.Add(3*time.Millisecond)))
	assert.Equal(t, 1, d.activeBuffers())
}

func TestDetectorPurgesStaleBuffers(t *testing.T) {
	t.Parallel()

	d := newNPlusOneDetector(time.Second, 10)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d.observe("a", now)
	d.observe("b", now)
	assert.Equal(t, 2, d.activeBuffers())

	// Both buffers are stale by the time "c" arrives.
	d.observe("c", now.Add(5*time.Second))
	assert.Equal(t, 1, d.activeBuffers())
}

func TestDetectorAgesOutOccurrences(t *testing.T) {
	t.Parallel()

	d := newNPlusOneDetector(5*time.Second, 10)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// One occurrence per second keeps the buffer alive, but no trailing
	// five-second window ever holds ten occurrences.
	for i := 0; i < 60; i++ {
		assert.False(t, d.observe("p", now.Add(time.Duration(i)*time.Second)), "occurrence %d", i)
	}

	// A genuine burst on top of the drip still crosses the threshold.
	burstAt := now.Add(60 * time.Second)
	flagged := false
	for i := 0; i < 10; i++ {
		if d.observe("p", burstAt.Add(time.Duration(i)*time.Millisecond)) {
			flagged = true
		}
	}
	assert.True(t, flagged)
}

func TestDetectorIndependentPatterns(t *testing.T) {
	t.Parallel()

	d := newNPlusOneDetector(5*time.Second, 3)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d.observe("a", now)
	d.observe("a", now)
	assert.False(t, d.observe("b", now), "counts do not leak across patterns")
	assert.True(t, d.observe("a", now))
}

func TestDetectorSetLimits(t *testing.T) {
	t.Parallel()

	d := newNPlusOneDetector(5*time.Second, 10)
	d.setLimits(time.Second, 2)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d.observe("p", now)
	assert.True(t, d.observe("p", now.Add(time.Millisecond)))

	// Invalid limits are ignored.
	d.setLimits(0, 1)
	d.observe("q", now)
	assert.True(t, d.observe("q", now.Add(time.Millisecond)))
}
