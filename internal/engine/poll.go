package engine

import (
	"encoding/json"
	"sync"
	"time"
)

// pollCache holds fetch-once results of time-dependent queries, keyed by
// subscription key, for the query's Poll interval.
type pollCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]pollEntry
}

type pollEntry struct {
	result  json.RawMessage
	expires time.Time
}

func newPollCache(now func() time.Time) *pollCache {
	return &pollCache{now: now, entries: make(map[string]pollEntry)}
}

func (c *pollCache) get(key string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	return e.result, true
}

func (c *pollCache) put(key string, result json.RawMessage, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = pollEntry{result: result, expires: c.now().Add(ttl)}
}

// sweep drops expired entries.
func (c *pollCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, key)
		}
	}
}

func (c *pollCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
