// Package ocflcache implements the bounded, object-ID-keyed inventory cache
// described in spec.md section 5: the only piece of process-wide mutable
// state besides the object lock map.
package ocflcache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ocflkit/ocflcore"
)

// DefaultSize is the default number of inventories the cache holds.
const DefaultSize = 1024

// Cache is a bounded LRU cache of loaded inventories, keyed by object ID.
// Entries are invalidated on write (the orchestrator calls Remove after
// every successful commit) or on explicit caller request (invalidateCache).
type Cache struct {
	lru *lru.Cache[string, *ocfl.Inventory]
}

// New returns a Cache holding at most size entries. A non-positive size
// uses DefaultSize.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New[string, *ocfl.Inventory](size)
	if err != nil {
		return nil, ocfl.NewError(ocfl.IO, "ocflcache.New", err)
	}
	return &Cache{lru: l}, nil
}

// Get returns the cached inventory for objectID, if present.
func (c *Cache) Get(objectID string) (*ocfl.Inventory, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(objectID)
}

// Put stores inv under objectID, evicting the least recently used entry if
// the cache is at capacity.
func (c *Cache) Put(objectID string, inv *ocfl.Inventory) {
	if c == nil {
		return
	}
	c.lru.Add(objectID, inv)
}

// Remove evicts objectID's cached inventory, if any. Called after every
// commit (the cached inventory is now stale) and by invalidateCache.
func (c *Cache) Remove(objectID string) {
	if c == nil {
		return
	}
	c.lru.Remove(objectID)
}

// Purge evicts every cached entry.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
