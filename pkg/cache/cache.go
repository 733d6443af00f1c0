// Package cache is the in-memory response cache: a bounded LRU keyed by
// request fingerprint, with a time-to-live per call type.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/pario-ai/augur/pkg/models"
)

// Fingerprint identifies a request for caching and replay. The prompt is
// trimmed, case folded and whitespace collapsed before hashing.
func Fingerprint(callType models.CallType, prompt string) string {
	h := sha256.New()
	h.Write([]byte(callType))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(prompt)))
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize returns the form of prompt that Fingerprint hashes.
func Normalize(prompt string) string {
	return strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
}

// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache
	index    map[string]*models.CacheEntry
	capacity int
	ttls     map[models.CallType]time.Duration
	now      func() time.Time

	adding    bool
	hits      int64
	misses    int64
	evictions int64
	expired   int64
	saved     float64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache holding at most capacity entries. Call types with no
// TTL in ttls are never cached.
func New(capacity int, ttls map[models.CallType]time.Duration, opts ...Option) *Cache {
	c := &Cache{
		lru:      lru.New(capacity),
		index:    make(map[string]*models.CacheEntry),
		capacity: capacity,
		ttls:     make(map[models.CallType]time.Duration, len(ttls)),
		now:      time.Now,
	}
	for ct, ttl := range ttls {
		c.ttls[ct] = ttl
	}
	for _, o := range opts {
		o(c)
	}
	c.lru.OnEvicted = c.onEvicted
	return c
}

func (c *Cache) onEvicted(key lru.Key, _ interface{}) {
	delete(c.index, key.(string))
	if c.adding {
		c.evictions++
	}
}

// TTL returns the time-to-live for callType.
func (c *Cache) TTL(callType models.CallType) (time.Duration, bool) {
	ttl, ok := c.ttls[callType]
	return ttl, ok && ttl > 0
}

// Get looks up key. A hit promotes the entry to most recently used and
// returns a response with zero token cost. Stale entries are dropped and
// count as a miss.
func (c *Cache) Get(key string, callType models.CallType) (models.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return models.Response{}, false
	}
	e := v.(*models.CacheEntry)
	now := c.now()
	if e.CallType != callType {
		c.misses++
		return models.Response{}, false
	}
	if e.Expired(now) {
		c.lru.Remove(key)
		c.expired++
		c.misses++
		return models.Response{}, false
	}

	e.LastUsed = now
	c.hits++
	c.saved += e.Cost
	return models.Response{
		Content: e.Content,
		Success: true,
		Source:  models.SourceCache,
	}, true
}

// Put inserts or overwrites key. At capacity the least recently used entry
// is evicted first. It reports false if callType is not cacheable.
func (c *Cache) Put(key string, callType models.CallType, content string, tokensIn, tokensOut int, cost float64) bool {
	ttl, ok := c.TTL(callType)
	if !ok {
		return false
	}
	now := c.now()
	c.add(&models.CacheEntry{
		Key:       key,
		CallType:  callType,
		Content:   content,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Cost:      cost,
		CreatedAt: now,
		LastUsed:  now,
		TTL:       ttl,
	})
	return true
}

func (c *Cache) add(e *models.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adding = true
	c.lru.Add(e.Key, e)
	c.adding = false
	c.index[e.Key] = e
}

// Stats returns cache performance counters.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.CacheStats{
		Entries:   int64(c.lru.Len()),
		Capacity:  int64(c.capacity),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		SavedCost: c.saved,
	}
}

// Len returns the number of entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Snapshot returns copies of the live entries ordered from least to most
// recently used, ready to be saved and later passed to Warm.
func (c *Cache) Snapshot() []models.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]models.CacheEntry, 0, len(c.index))
	for _, e := range c.index {
		if e.Expired(now) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUsed.Equal(out[j].LastUsed) {
			return out[i].Key < out[j].Key
		}
		return out[i].LastUsed.Before(out[j].LastUsed)
	})
	return out
}

// Warm loads saved entries, oldest first, keeping their original creation
// time so TTLs keep running. Entries that are stale or of an uncacheable call
// type are skipped. It returns the number loaded.
func (c *Cache) Warm(entries []models.CacheEntry) int {
	sorted := append([]models.CacheEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LastUsed.Before(sorted[j].LastUsed) })

	now := c.now()
	n := 0
	for _, e := range sorted {
		ttl, ok := c.TTL(e.CallType)
		if !ok {
			continue
		}
		e.TTL = ttl
		if e.Expired(now) {
			continue
		}
		if e.LastUsed.IsZero() {
			e.LastUsed = e.CreatedAt
		}
		entry := e
		c.add(&entry)
		n++
	}
	return n
}

// Clear removes entries. With expiredOnly only stale entries go. It returns
// the number removed.
func (c *Cache) Clear(expiredOnly bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !expiredOnly {
		n := c.lru.Len()
		c.lru.Clear()
		c.index = make(map[string]*models.CacheEntry)
		return n
	}

	now := c.now()
	var stale []string
	for k, e := range c.index {
		if e.Expired(now) {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		c.lru.Remove(k)
	}
	c.expired += int64(len(stale))
	return len(stale)
}
