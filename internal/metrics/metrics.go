package metrics

import (
	"sync"
	"sync/atomic"
)

// counterSet holds thread-safe counters keyed by a short label, for use
// from middlewares/services and exposition on the stats endpoint.
type counterSet struct {
	total uint64
	mu    sync.Mutex
	byKey map[string]uint64
}

func (c *counterSet) inc(key string) {
	atomic.AddUint64(&c.total, 1)
	c.mu.Lock()
	if c.byKey == nil {
		c.byKey = make(map[string]uint64)
	}
	c.byKey[key]++
	c.mu.Unlock()
}

func (c *counterSet) snapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&c.total)
	c.mu.Lock()
	defer c.mu.Unlock()
	by = make(map[string]uint64, len(c.byKey))
	for k, v := range c.byKey {
		by[k] = v
	}
	return total, by
}

var (
	rateLimit     counterSet
	dispatchDrops counterSet
)

// IncRateLimitDrop counts an HTTP 429 for the given route prefix. Use
// prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	rateLimit.inc(prefix)
}

// RateLimitSnapshot returns a copy of the rate limit counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	return rateLimit.snapshot()
}

// IncDispatchDrop counts an automation event dropped because the
// dispatcher queue was saturated, keyed by event type.
func IncDispatchDrop(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	dispatchDrops.inc(eventType)
}

// DispatchDropSnapshot returns a copy of the dispatcher drop counters.
func DispatchDropSnapshot() (total uint64, by map[string]uint64) {
	return dispatchDrops.snapshot()
}
