package engine

import (
	"sync"
	"time"
)

// metricStore is a fixed-capacity ring buffer of metrics. Insertion
// overwrites the oldest entry once full, so insert and evict are both
// O(1); snapshots are returned most-recent-first.
type metricStore struct {
	mu   sync.RWMutex
	buf  []*QueryMetric
	next int
	size int
}

func newMetricStore(capacity int) *metricStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &metricStore{buf: make([]*QueryMetric, capacity)}
}

func (s *metricStore) add(m *QueryMetric) {
	s.mu.Lock()
	s.buf[s.next] = m
	s.next = (s.next + 1) % len(s.buf)
	if s.size < len(s.buf) {
		s.size++
	}
	s.mu.Unlock()
}

func (s *metricStore) length() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// snapshot copies the current contents, newest first.
func (s *metricStore) snapshot() []*QueryMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*QueryMetric, 0, s.size)
	idx := s.next - 1
	for i := 0; i < s.size; i++ {
		if idx < 0 {
			idx += len(s.buf)
		}
		out = append(out, s.buf[idx])
		idx--
	}
	return out
}

// removeOlderThan drops metrics with a timestamp before cutoff and
// returns how many were removed. Rebuilds the ring; pruning is rare
// (memory-pressure only), so O(n) is acceptable here.
func (s *metricStore) removeOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]*QueryMetric, 0, s.size)
	idx := s.next - 1
	for i := 0; i < s.size; i++ {
		if idx < 0 {
			idx += len(s.buf)
		}
		m := s.buf[idx]
		if !m.Timestamp.Before(cutoff) {
			kept = append(kept, m)
		}
		idx--
	}

	removed := s.size - len(kept)
	if removed == 0 {
		return 0
	}

	// kept is newest-first; rewrite oldest-first.
	for i := range s.buf {
		s.buf[i] = nil
	}
	for i := len(kept) - 1; i >= 0; i-- {
		s.buf[len(kept)-1-i] = kept[i]
	}
	s.size = len(kept)
	s.next = len(kept) % len(s.buf)
	return removed
}
