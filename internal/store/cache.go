package store

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache provides in-memory caching for objects.
type Cache interface {
	Get(key string) ([]byte, bool)
	Add(key string, value []byte)
	Has(key string) bool
	Remove(key string)
	Clear()
	Len() int
}

// LRUCache is a fixed-size least-recently-used cache.
type LRUCache struct {
	lru *lru.Cache[string, []byte]
}

func NewLRUCache(maxSize int) *LRUCache {
	// lru.New only fails for a non-positive size.
	c, _ := lru.New[string, []byte](max(maxSize, 1))
	return &LRUCache{lru: c}
}

func (c *LRUCache) Get(key string) ([]byte, bool) { return c.lru.Get(key) }
func (c *LRUCache) Add(key string, value []byte)  { c.lru.Add(key, value) }

// Has reports presence without touching recency.
func (c *LRUCache) Has(key string) bool { return c.lru.Contains(key) }

func (c *LRUCache) Remove(key string) { c.lru.Remove(key) }
func (c *LRUCache) Clear()            { c.lru.Purge() }
func (c *LRUCache) Len() int          { return c.lru.Len() }
