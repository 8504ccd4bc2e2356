package monitor

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

// MetricCache memoizes exchange rates by (market, height). Historical values
// never change, so an entry is valid for as long as it is retained.
type MetricCache interface {
	Get(key CacheKey) (decimal.Decimal, bool)
	Put(key CacheKey, value decimal.Decimal)
	Len() int
}

// MemoryCache keeps every entry for the lifetime of the process.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[CacheKey]decimal.Decimal
}

// NewMemoryCache returns an empty unbounded cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[CacheKey]decimal.Decimal)}
}

// Get returns the cached value for key.
func (c *MemoryCache) Get(key CacheKey) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put stores value under key.
func (c *MemoryCache) Put(key CacheKey, value decimal.Decimal) {
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
}

// Len reports the number of entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LRUCache bounds memory by evicting the least recently used entries. An
// evicted value is fetched again on the next access.
type LRUCache struct {
	inner *lru.Cache[CacheKey, decimal.Decimal]
}

// NewLRUCache returns a cache holding at most size entries.
func NewLRUCache(size int) (*LRUCache, error) {
	inner, err := lru.New[CacheKey, decimal.Decimal](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRUCache{inner: inner}, nil
}

func (c *LRUCache) Get(key CacheKey) (decimal.Decimal, bool) { return c.inner.Get(key) }

func (c *LRUCache) Put(key CacheKey, value decimal.Decimal) { c.inner.Add(key, value) }

func (c *LRUCache) Len() int { return c.inner.Len() }

// NewCache picks the unbounded cache for size <= 0 and an LRU otherwise.
func NewCache(size int) (MetricCache, error) {
	if size <= 0 {
		return NewMemoryCache(), nil
	}
	return NewLRUCache(size)
}

var (
	_ MetricCache = (*MemoryCache)(nil)
	_ MetricCache = (*LRUCache)(nil)
)
