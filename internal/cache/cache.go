// Package cache provides the per-table local mirrors of server state.
//
// Each Cache is a dumb keyed store: a full-set mirror of one table for the
// signed-in user, with no eviction and no cross-record knowledge. Every
// operation is an idempotent upsert or delete and serializes against every
// other operation on the same cache, so change-stream callbacks and bulk
// sync replacement can interleave without lost updates.
package cache

import (
	"sync"

	"github.com/planora/planora-sync/internal/entity"
)

// Cache is a keyed in-memory store for one entity type.
type Cache[T entity.Record] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string // insertion order, for deterministic All()
}

// New creates an empty cache.
func New[T entity.Record]() *Cache[T] {
	return &Cache[T]{items: make(map[string]T)}
}

// ReplaceAll discards the cache contents and installs items wholesale.
// This is the full-sync path: the cache becomes exactly the fetched set.
func (c *Cache[T]) ReplaceAll(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]T, len(items))
	c.order = c.order[:0]
	for _, item := range items {
		id := item.EntityID()
		if id == "" {
			continue
		}
		if _, exists := c.items[id]; !exists {
			c.order = append(c.order, id)
		}
		c.items[id] = item
	}
}

// Put upserts a single record. Inserting an id twice overwrites in place.
func (c *Cache[T]) Put(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(item)
}

// PutAll upserts a batch of records, merging by id.
func (c *Cache[T]) PutAll(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range items {
		c.put(item)
	}
}

func (c *Cache[T]) put(item T) {
	id := item.EntityID()
	if id == "" {
		return
	}
	if _, exists := c.items[id]; !exists {
		c.order = append(c.order, id)
	}
	c.items[id] = item
}

// Update has upsert semantics: updating an absent record inserts it.
// There is deliberately no distinct update-vs-insert error.
func (c *Cache[T]) Update(item T) {
	c.Put(item)
}

// Delete removes the record with the given id. Deleting an absent id is a
// no-op.
func (c *Cache[T]) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[id]; !exists {
		return
	}
	delete(c.items, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Get returns the record with the given id, if present.
func (c *Cache[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	return item, ok
}

// All returns a snapshot copy of every record, in insertion order. Mutating
// the returned slice does not affect the cache.
func (c *Cache[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Len returns the number of cached records.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear empties the cache.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]T)
	c.order = nil
}
