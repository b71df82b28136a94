package cache

import (
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"opsagent/internal/domain"
	"opsagent/internal/infra/telemetry"
)

// Entry is a cached value with its bookkeeping.
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
	TTL       time.Duration
	HitCount  int64

	seq uint64
}

func (e *Entry[V]) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) >= e.TTL
}

// Stats holds cache counters. Size is the live entry count at the time of the call.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hitRate"`
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	Health  *telemetry.HealthTracker
	Clock   func() time.Time
}

// Cache is a keyed in-memory cache with per-entry TTL and a capacity bound.
// When full, inserting a new key evicts the entry with the fewest hits,
// breaking ties by oldest insertion.
type Cache[V any] struct {
	name     string
	ttl      time.Duration
	capacity int

	mu        sync.Mutex
	entries   map[string]*Entry[V]
	seq       uint64
	hits      int64
	misses    int64
	evictions int64

	logger  *zap.Logger
	metrics domain.Metrics
	health  *telemetry.HealthTracker
	now     func() time.Time

	sweepMu     sync.Mutex
	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	sweepBeat   *telemetry.Heartbeat
}

func New[V any](name string, cfg domain.CacheConfig, opts Options) *Cache[V] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = domain.DefaultCacheCapacity
	}
	return &Cache[V]{
		name:     name,
		ttl:      cfg.TTL(),
		capacity: capacity,
		entries:  make(map[string]*Entry[V]),
		logger:   logger.Named("cache").With(zap.String(telemetry.FieldCache, name)),
		metrics:  telemetry.OrNoop(opts.Metrics),
		health:   opts.Health,
		now:      clock,
	}
}

func (c *Cache[V]) Name() string {
	return c.name
}

// Get returns the value for key if present and not expired.
// Expired entries are removed on read.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.recordMissLocked()
		var zero V
		return zero, false
	}
	if entry.expired(c.now()) {
		delete(c.entries, key)
		c.metrics.ObserveCache(c.name, domain.CacheEventExpired)
		c.metrics.SetCacheSize(c.name, len(c.entries))
		c.recordMissLocked()
		var zero V
		return zero, false
	}

	entry.HitCount++
	c.hits++
	c.metrics.ObserveCache(c.name, domain.CacheEventHit)
	return entry.Value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key. Replacing an existing key resets its
// age and hit count without evicting anything.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.seq++
	if entry, ok := c.entries[key]; ok {
		entry.Value = value
		entry.CreatedAt = now
		entry.TTL = ttl
		entry.HitCount = 0
		entry.seq = c.seq
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictLocked(now)
	}
	c.entries[key] = &Entry[V]{
		Value:     value,
		CreatedAt: now,
		TTL:       ttl,
		seq:       c.seq,
	}
	c.metrics.SetCacheSize(c.name, len(c.entries))
}

func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.metrics.SetCacheSize(c.name, len(c.entries))
	return true
}

// GetOrSet returns the cached value or stores the factory result on a miss.
// Concurrent misses on the same key may each run the factory; the last
// writer wins. Factory errors are returned and nothing is cached.
func (c *Cache[V]) GetOrSet(key string, factory func() (V, error), ttl time.Duration) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := factory()
	if err != nil {
		var zero V
		return zero, err
	}
	c.SetWithTTL(key, value, ttl)
	return value, nil
}

// InvalidatePattern removes every key matching pattern and returns the count.
func (c *Cache[V]) InvalidatePattern(pattern *regexp.Regexp) int {
	if pattern == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if pattern.MatchString(key) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.metrics.SetCacheSize(c.name, len(c.entries))
	}
	return removed
}

// Clear drops every entry. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry[V])
	c.mu.Unlock()
	c.metrics.SetCacheSize(c.name, 0)
}

// Sweep removes expired entries and returns how many were purged.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purged := 0
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			purged++
			c.metrics.ObserveCache(c.name, domain.CacheEventExpired)
		}
	}
	if purged > 0 {
		c.metrics.SetCacheSize(c.name, len(c.entries))
	}
	return purged
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Start runs a periodic sweep of expired entries until Stop is called.
func (c *Cache[V]) Start(interval time.Duration) {
	if interval <= 0 {
		interval = domain.SecondsToDuration(domain.DefaultCacheSweepSeconds)
	}
	c.sweepMu.Lock()
	if c.sweepTicker != nil {
		c.sweepMu.Unlock()
		return
	}
	c.sweepTicker = time.NewTicker(interval)
	c.stopSweep = make(chan struct{})
	ticker := c.sweepTicker
	stop := c.stopSweep
	if c.health != nil {
		c.sweepBeat = c.health.Register("cache_sweep_"+c.name, interval*3)
	}
	beat := c.sweepBeat
	c.sweepMu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				beat.Beat()
				if purged := c.Sweep(); purged > 0 {
					c.logger.Debug("cache sweep purged expired entries",
						telemetry.EventField(telemetry.EventCacheSweep),
						zap.Int("purged", purged),
					)
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *Cache[V]) Stop() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.sweepTicker == nil {
		return
	}
	c.sweepTicker.Stop()
	c.sweepTicker = nil
	close(c.stopSweep)
	c.stopSweep = nil
	c.sweepBeat.Stop()
	c.sweepBeat = nil
}

func (c *Cache[V]) recordMissLocked() {
	c.misses++
	c.metrics.ObserveCache(c.name, domain.CacheEventMiss)
}

// evictLocked drops one entry to make room. Expired entries go first.
func (c *Cache[V]) evictLocked(now time.Time) {
	var (
		victim    string
		victimEnt *Entry[V]
	)
	for key, entry := range c.entries {
		if entry.expired(now) {
			victim, victimEnt = key, entry
			break
		}
		if victimEnt == nil ||
			entry.HitCount < victimEnt.HitCount ||
			(entry.HitCount == victimEnt.HitCount && entry.seq < victimEnt.seq) {
			victim, victimEnt = key, entry
		}
	}
	if victimEnt == nil {
		return
	}
	delete(c.entries, victim)
	c.evictions++
	c.metrics.ObserveCache(c.name, domain.CacheEventEviction)
}
