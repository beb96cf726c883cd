package mailapi

import (
	"sync"
	"time"
)

// ttlCache memoises provider reads for a short window so the scanner,
// auto-sync loop and dashboard do not hammer the same list endpoints.
// Process-wide; mutating client calls invalidate the affected keys.
type ttlCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]ttlItem
}

type ttlItem struct {
	at  time.Time
	val interface{}
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, items: make(map[string]ttlItem)}
}

func (c *ttlCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if time.Since(item.at) >= c.ttl {
		delete(c.items, key)
		return nil, false
	}
	return item.val, true
}

func (c *ttlCache) set(key string, val interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = ttlItem{at: time.Now(), val: val}
}

func (c *ttlCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
