// Package tilecache provides the bounded, thread-safe LRU of rendered PNG
// tile bodies described in §4.6: RAM-only, keyed by rendering parameters,
// never persisted.
package tilecache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/floodcontour/elevation-tiles/internal/colormap"
)

// Key identifies one rendered PNG: the color mode, the water-level
// quantum (part of the key in every mode; the topographic route passes 0),
// and the tile address.
type Key struct {
	Mode             colormap.Mode
	WaterLevelQuantum float64
	Z, X, Y          int
}

// Cache is a bounded LRU of PNG bytes. Insert of an identical key
// overwrites; both hit and insert touch the recency order.
type Cache struct {
	lru *lru.Cache[Key, []byte]
}

// New constructs a Cache with the given capacity (entry count).
func New(capacity int) (*Cache, error) {
	l, err := lru.New[Key, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the cached PNG bytes for key, if present.
func (c *Cache) Get(key Key) ([]byte, bool) {
	return c.lru.Get(key)
}

// Put inserts or overwrites the PNG bytes for key.
func (c *Cache) Put(key Key, png []byte) {
	c.lru.Add(key, png)
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}
