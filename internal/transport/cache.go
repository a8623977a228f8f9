package transport

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// cacheEntry is one memoized response.
type cacheEntry struct {
	fingerprint string
	status      int
	header      http.Header
	body        []byte
	storedAt    time.Time
}

// CacheStats holds response cache statistics.
type CacheStats struct {
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
}

// responseCache memoizes HTTP responses keyed by request fingerprint.
// Eviction is TTL first, then oldest insertion once capacity is
// reached. Safe for concurrent use.
type responseCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = oldest insertion
	capacity int
	ttl      time.Duration
	stats    CacheStats
}

func newResponseCache(capacity int, ttl time.Duration) *responseCache {
	return &responseCache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
	}
}

// fingerprint produces the canonical cache key for a request:
// method, target URL, and a digest of the body.
func fingerprint(method, url string, body []byte) string {
	digest := sha256.Sum256(body)
	return fmt.Sprintf("%s %s %s", method, url, hex.EncodeToString(digest[:]))
}

// get returns the cached response for a fingerprint, if present and
// within its TTL.
func (c *responseCache) get(fp string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.entries[fp]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	entry := element.Value.(*cacheEntry)
	if c.ttl >= 0 && time.Since(entry.storedAt) > c.ttl {
		c.removeLocked(element)
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	return &Response{
		StatusCode: entry.status,
		Header:     entry.header.Clone(),
		Body:       append([]byte(nil), entry.body...),
	}, true
}

// put stores a response, evicting expired entries first and then the
// oldest insertion if the cache is still over capacity.
func (c *responseCache) put(fp string, resp *Response) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()

	if element, ok := c.entries[fp]; ok {
		c.removeLocked(element)
	}
	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.stats.Evictions++
	}

	entry := &cacheEntry{
		fingerprint: fp,
		status:      resp.StatusCode,
		header:      resp.Header.Clone(),
		body:        append([]byte(nil), resp.Body...),
		storedAt:    time.Now(),
	}
	c.entries[fp] = c.order.PushBack(entry)
}

// Stats returns a snapshot of the cache counters.
func (c *responseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Items = c.order.Len()
	return stats
}

func (c *responseCache) evictExpiredLocked() {
	if c.ttl < 0 {
		return
	}
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		entry := element.Value.(*cacheEntry)
		if time.Since(entry.storedAt) > c.ttl {
			c.removeLocked(element)
			c.stats.Evictions++
		}
		element = next
	}
}

func (c *responseCache) removeLocked(element *list.Element) {
	entry := element.Value.(*cacheEntry)
	delete(c.entries, entry.fingerprint)
	c.order.Remove(element)
}
