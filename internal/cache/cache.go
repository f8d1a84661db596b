// Package cache is a small in-process TTL cache for presentation-layer
// results (process listings, per-process data pages). Imports invalidate it
// best-effort after completion; nothing in the import path depends on it.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultTTL applies when Set is called with a non-positive ttl.
const DefaultTTL = 5 * time.Minute

// viewPrefixes are the listing caches cleared whenever any process changes.
var viewPrefixes = []string{
	"view:process_list",
	"view:process_detail",
	"view:process_data",
	"view:analytics",
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a concurrency-safe key-value cache with TTL and prefix
// invalidation.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func New() *Cache {
	return &Cache{entries: make(map[string]entry), now: time.Now}
}

// Key builds a stable cache key from a prefix and parameters. Marshaling
// sorts map keys, so logically equal parameter sets produce the same key.
func Key(prefix string, params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(fmt.Sprint(params))
	}
	sum := md5.Sum(raw)
	return prefix + ":" + hex.EncodeToString(sum[:])
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePrefix drops every key starting with prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// InvalidateProcess clears the listing caches and, when id is non-zero, the
// per-process entries.
func (c *Cache) InvalidateProcess(id int64) {
	for _, prefix := range viewPrefixes {
		c.InvalidatePrefix(prefix)
	}
	if id != 0 {
		c.Delete(fmt.Sprintf("process:%d", id))
		c.Delete(fmt.Sprintf("process_data:%d", id))
	}
}
