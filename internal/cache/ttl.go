// Package cache provides a size- and TTL-bounded cache with defined
// eviction, used for per-request service instances keyed by credential.
// Bounding matters: tenant count is unbounded and a cache that only ever
// grows is a slow memory leak.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// TTL is a bounded cache. Entries expire after a fixed TTL; when the cache
// is full, the least recently used entry is evicted. Safe for concurrent use.
type TTL[V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	now func() time.Time
}

type entry[V any] struct {
	key     string
	value   V
	expires time.Time
}

// NewTTL creates a cache holding at most maxSize entries for at most ttl.
func NewTTL[V any](maxSize int, ttl time.Duration) *TTL[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &TTL[V]{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	ent := el.Value.(*entry[V])
	if c.now().After(ent.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return zero, false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is at capacity.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry[V])
		ent.value = value
		ent.expires = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry[V]).key)
	}

	el := c.order.PushFront(&entry[V]{key: key, value: value, expires: c.now().Add(c.ttl)})
	c.entries[key] = el
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len returns the number of entries, including any not yet swept expired ones.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
