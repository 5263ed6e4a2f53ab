package stats

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/goodtune/screentime/internal/metrics"
)

const (
	// DefaultCacheSize is the number of cached device-days.
	DefaultCacheSize = 4096
	// DefaultCacheTTL bounds how long a cached day is served.
	DefaultCacheTTL = 10 * time.Minute
)

// dayCache holds daily stats of completed local days. An entry stays valid
// until a commit touches its device on or before its date.
type dayCache struct {
	lru *expirable.LRU[string, DailyStats]

	// gen is bumped by every invalidation so a lookup that raced with a
	// commit does not store its stale result.
	mu  sync.Mutex
	gen uint64
}

func newDayCache(size int, ttl time.Duration) *dayCache {
	if size <= 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &dayCache{lru: expirable.NewLRU[string, DailyStats](size, nil, ttl)}
}

func cacheKey(deviceID, date string) string {
	return deviceID + "|" + date
}

func (c *dayCache) generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *dayCache) get(deviceID, date string) (DailyStats, bool) {
	if c == nil {
		return DailyStats{}, false
	}

	day, ok := c.lru.Get(cacheKey(deviceID, date))
	if !ok {
		metrics.StatsCacheMisses.Inc()
		return DailyStats{}, false
	}
	metrics.StatsCacheHits.Inc()
	return day.clone(), true
}

// put stores day unless an invalidation happened since gen was read.
func (c *dayCache) put(gen uint64, day DailyStats) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.lru.Add(cacheKey(day.DeviceID, day.Date), day.clone())
}

// invalidate drops the device's entries dated fromDate or later.
func (c *dayCache) invalidate(deviceID, fromDate string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++

	prefix := deviceID + "|"
	for _, key := range c.lru.Keys() {
		date, ok := strings.CutPrefix(key, prefix)
		if ok && date >= fromDate {
			c.lru.Remove(key)
		}
	}
}

// expire drops every entry dated before cutoffDate.
func (c *dayCache) expire(cutoffDate string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++

	for _, key := range c.lru.Keys() {
		if _, date, ok := strings.Cut(key, "|"); ok && date < cutoffDate {
			c.lru.Remove(key)
		}
	}
}
