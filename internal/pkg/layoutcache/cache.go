// Package layoutcache holds laid out resource maps keyed by (cluster, generation, view).
// A new source generation is a new key, so entries never need to be invalidated
// on data changes; they age out by size and TTL.
package layoutcache

import (
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kubilitics/resourcemap/internal/models"
	"github.com/kubilitics/resourcemap/internal/pkg/metrics"
)

// Cache is a bounded TTL cache of resource maps. Thread-safe. A nil *Cache
// is a disabled cache: every Get misses and Set is a no-op.
type Cache struct {
	lru *expirable.LRU[string, *models.ResourceMap]
}

// New returns a cache holding at most size maps for ttl. size <= 0 disables
// the cache (nil is returned); ttl <= 0 keeps entries until evicted.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		return nil
	}
	return &Cache{lru: expirable.NewLRU[string, *models.ResourceMap](size, nil, ttl)}
}

// Key builds the cache key of one map.
func Key(clusterID string, generation uint64, view string) string {
	return clusterID + "|" + strconv.FormatUint(generation, 10) + "|" + view
}

// Get returns a cached map. Records hit/miss.
func (c *Cache) Get(key string) (*models.ResourceMap, bool) {
	if c == nil {
		metrics.LayoutCacheMissesTotal.Inc()
		return nil, false
	}
	m, ok := c.lru.Get(key)
	if !ok {
		metrics.LayoutCacheMissesTotal.Inc()
		return nil, false
	}
	metrics.LayoutCacheHitsTotal.Inc()
	return m, true
}

func (c *Cache) Set(key string, m *models.ResourceMap) {
	if c == nil || m == nil {
		return
	}
	c.lru.Add(key, m)
}

// InvalidateForCluster removes every entry of the cluster, any generation or view.
func (c *Cache) InvalidateForCluster(clusterID string) {
	if c == nil {
		return
	}
	prefix := clusterID + "|"
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
