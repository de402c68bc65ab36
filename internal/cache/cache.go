// Package cache implements the in-process result cache: cache-aside
// key/value storage with per-entry TTL, tag-based bulk invalidation and
// hit/miss accounting. A secondary tag→keys index keeps invalidation
// sub-linear in total cache size.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/s2"
	"go.uber.org/zap"

	"github.com/queryscope/queryscope/internal/config"
)

// Clock supplies the current time; injected for TTL tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Entries     int     `json:"entries"`
	HitRate     float64 `json:"hit_rate"`
}

type entry struct {
	value      any
	compressed bool
	tags       []string
	insertedAt time.Time
	expiresAt  time.Time
	seq        uint64
	hits       int64
}

type evictRecord struct {
	key string
	seq uint64
}

// Cache is the tag-indexed result cache. All operations are safe for
// concurrent use; expiry is evaluated lazily on read and eviction is
// performed inline by the writer that overflows the bound.
type Cache struct {
	logger *zap.Logger
	clock  Clock

	mu      sync.RWMutex
	entries map[string]*entry
	tags    map[string]map[string]struct{}
	// FIFO of insertions for oldest-first eviction; stale records
	// (overwritten keys) are skipped on pop via the seq check.
	queue []evictRecord
	seq   uint64

	maxEntries        int
	defaultTTL        time.Duration
	compress          bool
	compressThreshold int

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the cache clock.
func WithClock(c Clock) Option {
	return func(cc *Cache) { cc.clock = c }
}

// New creates a cache from configuration.
func New(cfg config.CacheConfig, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		logger:            logger,
		clock:             systemClock{},
		entries:           make(map[string]*entry),
		tags:              make(map[string]map[string]struct{}),
		maxEntries:        cfg.MaxEntries,
		defaultTTL:        cfg.DefaultTTL,
		compress:          cfg.EnableCompression,
		compressThreshold: cfg.CompressionThreshold,
	}
	if c.maxEntries <= 0 {
		c.maxEntries = 10000
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultTTL returns the configured default TTL, for callers that want
// the cache-wide policy rather than a per-entry one.
func (c *Cache) DefaultTTL() time.Duration { return c.defaultTTL }

// Get returns the cached value for key. The boolean is false on a miss,
// including lazily-expired entries, which are removed from the primary
// map and every tag bucket they belonged to.
func (c *Cache) Get(key string) (any, bool) {
	now := c.clock.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	if !e.expiresAt.After(now) {
		c.mu.Lock()
		// Re-check under the write lock: another reader may have
		// already removed it, or a writer replaced it.
		if cur, still := c.entries[key]; still && cur.seq == e.seq {
			c.removeLocked(key, cur)
			c.expirations.Add(1)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	atomic.AddInt64(&e.hits, 1)
	c.hits.Add(1)

	if e.compressed {
		raw, okBytes := e.value.([]byte)
		if !okBytes {
			return e.value, true
		}
		decoded, err := s2.Decode(nil, raw)
		if err != nil {
			c.logger.Warn("Failed to decompress cache entry, dropping it",
				zap.String("key", key),
				zap.Error(err),
			)
			c.Delete(key)
			c.misses.Add(1)
			return nil, false
		}
		return decoded, true
	}
	return e.value, true
}

// Set inserts or overwrites the entry for key. A non-positive ttl
// produces an entry that is already expired on the next Get. Byte-slice
// values above the compression threshold are stored s2-compressed.
func (c *Cache) Set(key string, value any, ttl time.Duration, tags ...string) {
	now := c.clock.Now()

	compressed := false
	if c.compress {
		if raw, ok := value.([]byte); ok && len(raw) > c.compressThreshold {
			value = s2.Encode(nil, raw)
			compressed = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(key, old)
	}

	c.seq++
	e := &entry{
		value:      value,
		compressed: compressed,
		tags:       append([]string(nil), tags...),
		insertedAt: now,
		expiresAt:  now.Add(ttl),
		seq:        c.seq,
	}
	c.entries[key] = e
	for _, tag := range tags {
		bucket, ok := c.tags[tag]
		if !ok {
			bucket = make(map[string]struct{})
			c.tags[tag] = bucket
		}
		bucket[key] = struct{}{}
	}
	c.queue = append(c.queue, evictRecord{key: key, seq: c.seq})

	for len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
	}
	c.mu.Unlock()
}

// InvalidateByTags removes every entry registered under any of the
// given tags and returns the number of entries removed. Invalidating an
// unknown tag, or the same tag twice, is a no-op.
func (c *Cache) InvalidateByTags(tags ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, tag := range tags {
		bucket, ok := c.tags[tag]
		if !ok {
			continue
		}
		for key := range bucket {
			if e, present := c.entries[key]; present {
				c.removeLocked(key, e)
				removed++
			}
		}
	}
	return removed
}

// HitRate returns hits/(hits+misses), 0 when nothing was looked up.
func (c *Cache) HitRate() float64 {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Entries:     entries,
		HitRate:     c.HitRate(),
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// removeLocked deletes the entry from the primary map and every tag
// bucket it participated in. Caller holds the write lock.
func (c *Cache) removeLocked(key string, e *entry) {
	delete(c.entries, key)
	for _, tag := range e.tags {
		bucket, ok := c.tags[tag]
		if !ok {
			continue
		}
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(c.tags, tag)
		}
	}
}

func (c *Cache) evictOldestLocked() {
	for len(c.queue) > 0 {
		rec := c.queue[0]
		c.queue = c.queue[1:]
		e, ok := c.entries[rec.key]
		if !ok || e.seq != rec.seq {
			continue // overwritten or already removed
		}
		c.removeLocked(rec.key, e)
		c.evictions.Add(1)
		return
	}
}
