// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cache

import (
	"encoding/json"
	"path"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxEntryBytes   int64   = 100 << 20
	DefaultMaxTotalBytes   int64   = 500 << 20
	DefaultMemoryHighWater float64 = 0.8
)

// Options bounds the cache.
type Options struct {
	MaxEntryBytes   int64
	MaxTotalBytes   int64
	MemoryHighWater float64
	// Probe reports the memory utilization of the process; nil means the sampled system probe.
	Probe MemoryProbe
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"totalBytes"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Rejected   int64 `json:"rejected"`
}

type stored struct {
	value     any
	sizeBytes int64
}

// flight is a Fetch computing the value of a key; it is stale once the key
// has been invalidated while the computation was running.
type flight struct {
	stale bool
}

// Cache is safe for concurrent use. Entries expire after their own TTL and
// are dropped lazily by the next write or Stats call.
type Cache struct {
	opts  Options
	items *ttlcache.Cache[string, stored]
	group singleflight.Group

	// lock serializes writes, so that size bounds and invalidations are
	// checked against a stable set of entries
	lock     sync.Mutex
	inflight map[string]*flight
	rejected int64
}

// New returns an empty cache; zero options are replaced by the defaults.
func New(opts Options) *Cache {
	if opts.MaxEntryBytes <= 0 {
		opts.MaxEntryBytes = DefaultMaxEntryBytes
	}
	if opts.MaxTotalBytes <= 0 {
		opts.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if opts.MemoryHighWater <= 0 {
		opts.MemoryHighWater = DefaultMemoryHighWater
	}
	if opts.Probe == nil {
		opts.Probe = NewSampledProbe(time.Second)
	}

	return &Cache{
		opts:     opts,
		items:    ttlcache.New(ttlcache.WithDisableTouchOnHit[string, stored]()),
		inflight: make(map[string]*flight),
	}
}

// Set stores value under key for ttl, replacing any previous entry.
// It returns false, leaving the previous entry untouched, when the value
// cannot be serialized or the size and memory bounds would be violated.
func (c *Cache) Set(key string, value any, ttl time.Duration) bool {
	return c.store(key, value, ttl, nil)
}

func (c *Cache) store(key string, value any, ttl time.Duration, current *flight) bool {
	if ttl <= 0 {
		return false
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.reject()
		return false
	}

	size := int64(len(raw))
	if size > c.opts.MaxEntryBytes || c.opts.Probe.Utilization() > c.opts.MemoryHighWater {
		c.reject()
		return false
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if current != nil && current.stale {
		return false
	}

	c.items.DeleteExpired()
	if c.usedBytesLocked(key)+size > c.opts.MaxTotalBytes {
		c.rejected++
		return false
	}

	c.items.Set(key, stored{value: value, sizeBytes: size}, ttl)
	return true
}

// Get returns the value stored under key. Expired entries are reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	item := c.items.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value().value, true
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.deleteMatching(func(candidate string) bool {
		return candidate == key
	})
}

// DeletePattern removes every key matching the shell pattern (see path.Match) and returns how many were removed.
func (c *Cache) DeletePattern(pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}

	return c.deleteMatching(func(key string) bool {
		matched, _ := path.Match(pattern, key)
		return matched
	}), nil
}

// deleteMatching removes the entries whose key satisfies match and marks the
// running computations of those keys as stale.
func (c *Cache) deleteMatching(match func(key string) bool) int {
	c.lock.Lock()
	defer c.lock.Unlock()

	for key, running := range c.inflight {
		if match(key) {
			running.stale = true
		}
	}

	c.items.DeleteExpired()
	removed := 0
	for _, key := range c.items.Keys() {
		if match(key) {
			c.items.Delete(key)
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.items.DeleteExpired()
	metrics := c.items.Metrics()
	return Stats{
		Entries:    c.items.Len(),
		TotalBytes: c.usedBytesLocked(""),
		Hits:       int64(metrics.Hits),
		Misses:     int64(metrics.Misses),
		Rejected:   c.rejected,
	}
}

// Fetch returns the cached value for key or computes it once for all
// concurrent callers. A computed value that cannot be cached is still
// returned; it is not stored when key is invalidated during the computation.
func (c *Cache) Fetch(key string, ttl time.Duration, compute func() (any, error)) (any, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		current := &flight{}
		c.lock.Lock()
		c.inflight[key] = current
		c.lock.Unlock()
		defer func() {
			c.lock.Lock()
			delete(c.inflight, key)
			c.lock.Unlock()
		}()

		value, err := compute()
		if err != nil {
			return nil, err
		}

		c.store(key, value, ttl, current)
		return value, nil
	})
	return value, err
}

// usedBytesLocked sums the sizes of the live entries other than except.
func (c *Cache) usedBytesLocked(except string) int64 {
	var total int64
	for key, item := range c.items.Items() {
		if key == except || item.IsExpired() {
			continue
		}
		total += item.Value().sizeBytes
	}
	return total
}

func (c *Cache) reject() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.rejected++
}
