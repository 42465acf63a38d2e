// Package cache provides a sharded quote cache keyed by symbol. Sharding
// keeps bid/ask writes from the stream path and reads from the risk gate
// off a single lock.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Quote is a cached bid/ask observation.
type Quote struct {
	Bid float64
	Ask float64
	At  time.Time
}

// ShardedQuoteCache holds the last quote seen per symbol.
type ShardedQuoteCache struct {
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

// NewShardedQuoteCache creates an empty cache.
func NewShardedQuoteCache() *ShardedQuoteCache {
	c := &ShardedQuoteCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{
			items: make(map[string]Quote),
		}
	}
	return c
}

// getShard returns the shard for the given key.
func (c *ShardedQuoteCache) getShard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the latest quote for a symbol.
func (c *ShardedQuoteCache) Set(symbol string, q Quote) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = q
	shard.mu.Unlock()
}

// Get retrieves the last quote for a symbol.
func (c *ShardedQuoteCache) Get(symbol string) (Quote, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	q, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return q, ok
}

// GetFresh retrieves the last quote only if it is younger than maxAge.
func (c *ShardedQuoteCache) GetFresh(symbol string, maxAge time.Duration, now time.Time) (Quote, bool) {
	q, ok := c.Get(symbol)
	if !ok {
		return Quote{}, false
	}
	if maxAge > 0 && now.Sub(q.At) > maxAge {
		return Quote{}, false
	}
	return q, true
}

// Symbols lists every cached symbol.
func (c *ShardedQuoteCache) Symbols() []string {
	var out []string
	for _, shard := range c.shards {
		shard.mu.RLock()
		for sym := range shard.items {
			out = append(out, sym)
		}
		shard.mu.RUnlock()
	}
	return out
}

// Len reports how many symbols carry a quote.
func (c *ShardedQuoteCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.items)
		shard.mu.RUnlock()
	}
	return n
}
