// Package cache holds recently computed embeddings so repeated queries and
// unchanged chunks skip the embedder round trip.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// EmbeddingCache is an LRU of text → vector, keyed by model and text so a
// model change never serves stale vectors.
type EmbeddingCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	order   []string
	maxSize int
}

// New creates a cache holding up to maxSize vectors.
func New(maxSize int) *EmbeddingCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &EmbeddingCache{
		entries: make(map[string][]float32, maxSize),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

func cacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Get returns the cached vector for (model, text), if any.
func (c *EmbeddingCache) Get(model, text string) ([]float32, bool) {
	key := cacheKey(model, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToEnd(key)
	return v, true
}

// Put stores a vector for (model, text), evicting the least recently used
// entry when full.
func (c *EmbeddingCache) Put(model, text string, vector []float32) {
	key := cacheKey(model, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = vector
		c.moveToEnd(key)
		return
	}
	if len(c.entries) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = vector
	c.order = append(c.order, key)
}

// Size returns the number of cached vectors.
func (c *EmbeddingCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *EmbeddingCache) moveToEnd(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}
