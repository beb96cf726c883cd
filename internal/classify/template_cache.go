package classify

import (
	"sync"

	"github.com/ignite/dasher-monitor/internal/domain"
)

// TemplateCache maps template fingerprints to classifications for the
// duration of one fleet scan. It is shared across every worker in the scan
// so that a template seen in one inbox is never re-classified in another.
// Discarded when the scan ends; no eviction in between.
type TemplateCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    int
	misses  int
}

type cacheEntry struct {
	result Result
	source domain.Source
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Templates int `json:"templates_cached"`
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	Total     int `json:"total"`
}

func NewTemplateCache() *TemplateCache {
	return &TemplateCache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached classification for a fingerprint. Every call counts
// toward the hit/miss statistics.
func (c *TemplateCache) Get(fp string) (Result, domain.Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fp]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return e.result, e.source, ok
}

// Put stores a classification for a fingerprint unless one is already
// present, and returns the entry that won along with whether the caller's
// entry was stored. Two workers racing on the same template converge on the
// first stored classification; the loser treats its message as a dedup hit.
func (c *TemplateCache) Put(fp string, r Result, source domain.Source) (Result, domain.Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fp]; ok {
		return e.result, e.source, false
	}
	c.entries[fp] = cacheEntry{result: r, source: source}
	return r, source, true
}

// Stats snapshots the counters.
func (c *TemplateCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Templates: len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Total:     c.hits + c.misses,
	}
}
