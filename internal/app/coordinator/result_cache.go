package coordinator

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ResultCache keeps the views of recently finished runs so clients polling
// after completion still see the outcome.
type ResultCache struct {
	lru *expirable.LRU[Key, RunView]
}

// NewResultCache bounds the cache by size and entry age.
func NewResultCache(size int, ttl time.Duration) *ResultCache {
	if size <= 0 {
		size = DefaultResultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{lru: expirable.NewLRU[Key, RunView](size, nil, ttl)}
}

// Put stores the terminal view of a run.
func (c *ResultCache) Put(view RunView) {
	if c == nil {
		return
	}
	c.lru.Add(view.Key(), view)
}

// Get returns the cached view for key.
func (c *ResultCache) Get(key Key) (RunView, bool) {
	if c == nil {
		return RunView{}, false
	}
	return c.lru.Get(key)
}

// Len reports the number of cached entries.
func (c *ResultCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
