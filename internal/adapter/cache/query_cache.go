package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"imgsearch/internal/domain"
)

// QueryCache is an LRU cache of text search results with a TTL.
// Invalidate drops every entry; call it whenever the collection changes.
// Callers read Generation before running a query and hand it to Put, so
// results computed across an Invalidate are never stored.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	gen     uint64

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	results   []domain.Hit
	timestamp time.Time
	gen       uint64
}

// Stats is a snapshot of cache usage.
type Stats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func cacheKey(query string, topN int) string {
	data := []byte(query)
	data = append(data, 0, byte(topN>>24), byte(topN>>16), byte(topN>>8), byte(topN))
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:16])
}

func (c *QueryCache) Get(query string, topN int) ([]domain.Hit, bool) {
	key := cacheKey(query, topN)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil, false
	}
	if time.Since(entry.timestamp) > c.ttl || entry.gen != c.gen {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses++
		return nil, false
	}

	c.moveToEnd(key)
	c.hits++
	return cloneHits(entry.results), true
}

// Generation returns the current invalidation counter.
func (c *QueryCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Put stores results computed while the cache was at generation gen.
// Stale results are dropped.
func (c *QueryCache) Put(query string, topN int, gen uint64, results []domain.Hit) {
	key := cacheKey(query, topN)
	entry := &cacheEntry{
		results:   cloneHits(results),
		timestamp: time.Now(),
		gen:       gen,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
}

func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
	c.gen++
}

func (c *QueryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: len(c.entries), Hits: c.hits, Misses: c.misses}
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func cloneHits(hits []domain.Hit) []domain.Hit {
	out := make([]domain.Hit, len(hits))
	copy(out, hits)
	return out
}
