// This module implements the near tier: a bounded, strict-LRU, in-process cache with per-entry TTLs.
//
// Eviction policy (strict LRU):
// Entries sit in a recency list, least recently used at the front. Every read hit and every write
// moves the entry to the back. When an insert pushes the tier over capacity, entries are evicted
// from the front until the size bound holds again; ties break by insertion order because an
// untouched entry never leaves its list position.
//
// Expiration policy (lazy TTL):
// There is no sweeper goroutine. An entry's age is checked on every read, and an expired entry is
// deleted at that moment and reported as a miss. Expired entries that are never read again leave
// via LRU eviction instead.

package cache

import (
	"sync"
	"time"

	"github.com/fieldworks/lookupcache/pkg/utils"
)

// lruEntry represents a single entry in the near tier.
type lruEntry[V any] struct {
	key        string
	value      V
	insertedAt time.Time     // When the entry was (last) written.
	ttl        time.Duration // Maximum age before the entry reads as a miss; non-positive means no expiry.
}

// expired reports whether the entry has outlived its TTL at the given instant.
func (e *lruEntry[V]) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.insertedAt) > e.ttl
}

// LRU is a thread-safe, fixed-capacity in-process cache combining strict least-recently-used
// eviction with lazy per-entry expiration. It cannot fail: every operation completes locally.
type LRU[V any] struct { // Implements Tier.
	capacity int // Maximum number of entries the tier can hold.
	// index provides lookup for an entry by its key.
	index map[string]*listNode[*lruEntry[V]]
	// recency holds the LRU order, most recently used at the back.
	recency *recencyList[*lruEntry[V]]
	mux     sync.Mutex // Provides thread-safety for concurrent operations on the tier.
}

var _ Tier[int] = (*LRU[int])(nil)

// NewLRU is the constructor for LRU with the given entry capacity.
func NewLRU[V any](capacity int) *LRU[V] {
	// Ensure capacity is at least 1.
	if capacity <= 0 {
		utils.RaiseInvariant("near", "non_positive_cache_capacity",
			"Invalid capacity has been given to the near tier.", "capacity", capacity)
		capacity = 1
	}
	return &LRU[V]{
		capacity: capacity,
		index:    make(map[string]*listNode[*lruEntry[V]], capacity),
		recency:  new(recencyList[*lruEntry[V]]),
	}
}

// Get retrieves a value for the given key. A live hit bumps the entry to the most recently used
// position. An entry past its TTL is removed right here and reported as a miss.
func (c *LRU[V]) Get(key string) (V, bool /*found*/) {
	c.mux.Lock()
	defer c.mux.Unlock()

	node, keyExists := c.index[key]
	if !keyExists {
		opsMetric.WithLabelValues(tierNear, "miss").Inc()
		return *new(V), false
	}
	if node.Value.expired(time.Now()) {
		delete(c.index, key)
		c.recency.Remove(node)
		opsMetric.WithLabelValues(tierNear, "expiry").Inc()
		opsMetric.WithLabelValues(tierNear, "miss").Inc()
		return *new(V), false
	}
	c.recency.MoveToBack(node)
	opsMetric.WithLabelValues(tierNear, "hit").Inc()
	return node.Value.value, true
}

// Set inserts or overwrites a key-value pair, marking it most recently used. If the insert pushes
// the tier over capacity, least recently used entries are evicted until the bound holds.
func (c *LRU[V]) Set(key string, value V, ttl time.Duration) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if node, keyExists := c.index[key]; keyExists {
		// Overwrite in place; the write also counts as a use.
		node.Value.value = value
		node.Value.insertedAt = time.Now()
		node.Value.ttl = ttl
		c.recency.MoveToBack(node)
		opsMetric.WithLabelValues(tierNear, "set").Inc()
		return
	}

	c.index[key] = c.recency.PushBack(&lruEntry[V]{key: key, value: value, insertedAt: time.Now(), ttl: ttl})
	for c.recency.Len() > c.capacity {
		victim := c.recency.Front()
		delete(c.index, victim.Value.key)
		c.recency.Remove(victim)
		opsMetric.WithLabelValues(tierNear, "eviction").Inc()
	}
	opsMetric.WithLabelValues(tierNear, "set").Inc()
}

// Invalidate removes one entry and its recency record, whether or not it is present.
func (c *LRU[V]) Invalidate(key string) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if node, keyExists := c.index[key]; keyExists {
		delete(c.index, key)
		c.recency.Remove(node)
	}
}

// Clear removes all entries and recency records.
func (c *LRU[V]) Clear() {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.index = make(map[string]*listNode[*lruEntry[V]], c.capacity)
	c.recency = new(recencyList[*lruEntry[V]])
}

// Len returns the number of entries currently held, including any not-yet-read expired ones.
func (c *LRU[V]) Len() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.recency.Len()
}

// Keys returns all keys currently in the tier, in no particular order.
func (c *LRU[V]) Keys() []string {
	c.mux.Lock()
	defer c.mux.Unlock()

	keys := make([]string, 0, len(c.index))
	for key := range c.index {
		keys = append(keys, key)
	}
	return keys
}
