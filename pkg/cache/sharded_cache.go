package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Sharded is a concurrent map split across fnv-hashed shards. Writes are
// last-writer-wins per key; every entry remembers when it was stored.
type Sharded[V any] struct {
	shards [numShards]*shard[V]
	now    func() time.Time
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	value     V
	updatedAt time.Time
}

// NewSharded creates a new sharded cache.
func NewSharded[V any]() *Sharded[V] {
	c := &Sharded[V]{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{
			items: make(map[string]entry[V]),
		}
	}
	return c
}

// WithClock replaces the time source used to stamp entries.
func (c *Sharded[V]) WithClock(now func() time.Time) *Sharded[V] {
	if now != nil {
		c.now = now
	}
	return c
}

// getShard returns the shard for the given key.
func (c *Sharded[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a value stamped with the current time.
func (c *Sharded[V]) Set(key string, value V) {
	c.SetAt(key, value, c.now())
}

// SetAt stores a value with an explicit timestamp.
func (c *Sharded[V]) SetAt(key string, value V, at time.Time) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, updatedAt: at}
	s.mu.Unlock()
}

// Get retrieves a value.
func (c *Sharded[V]) Get(key string) (V, bool) {
	v, _, ok := c.GetWithTime(key)
	return v, ok
}

// GetWithTime retrieves a value and the time it was stored.
func (c *Sharded[V]) GetWithTime(key string) (V, time.Time, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	return e.value, e.updatedAt, ok
}

// GetWithAge retrieves a value and its age.
func (c *Sharded[V]) GetWithAge(key string) (V, time.Duration, bool) {
	v, at, ok := c.GetWithTime(key)
	if !ok {
		return v, 0, false
	}
	return v, c.now().Sub(at), true
}

// Delete removes a key from the cache.
func (c *Sharded[V]) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// DeleteIf removes a key only when match returns true for the stored value.
func (c *Sharded[V]) DeleteIf(key string, match func(V) bool) bool {
	s := c.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok || !match(e.value) {
		return false
	}
	delete(s.items, key)
	return true
}

// Len returns total items across all shards.
func (c *Sharded[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Clear drops every entry.
func (c *Sharded[V]) Clear() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		removed += len(s.items)
		s.items = make(map[string]entry[V])
		s.mu.Unlock()
	}
	return removed
}

// Cleanup removes entries older than maxAge.
func (c *Sharded[V]) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)

	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if e.updatedAt.Before(cutoff) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Prune removes every entry for which match returns true.
func (c *Sharded[V]) Prune(match func(key string, value V) bool) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if match(k, e.value) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Range calls fn for every entry until fn returns false. fn must not call
// back into the cache.
func (c *Sharded[V]) Range(fn func(key string, value V, updatedAt time.Time) bool) {
	for _, s := range c.shards {
		s.mu.RLock()
		for k, e := range s.items {
			if !fn(k, e.value, e.updatedAt) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Stats provides cache statistics.
type Stats struct {
	TotalItems  int            `json:"total_items"`
	ShardCounts [numShards]int `json:"shard_counts"`
	OldestAge   time.Duration  `json:"oldest_age"`
}

// Stats returns cache statistics.
func (c *Sharded[V]) Stats() Stats {
	stats := Stats{}
	var oldest time.Time

	for i, s := range c.shards {
		s.mu.RLock()
		stats.ShardCounts[i] = len(s.items)
		stats.TotalItems += len(s.items)
		for _, e := range s.items {
			if oldest.IsZero() || e.updatedAt.Before(oldest) {
				oldest = e.updatedAt
			}
		}
		s.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = c.now().Sub(oldest)
	}
	return stats
}
