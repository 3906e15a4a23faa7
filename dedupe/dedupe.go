// Package dedupe tracks recently seen message IDs so the connector can
// optionally suppress broker redelivery duplicates before they reach the
// sink. At-least-once delivery still holds: suppression is best effort and
// bounded by the cache TTL and capacity.
package dedupe

import (
	"time"

	"github.com/coocood/freecache"
)

const minCacheSize = 512 * 1024

type Cache struct {
	cache *freecache.Cache
	ttl   time.Duration
}

// New creates a seen-cache of roughly sizeBytes capacity. Entries expire
// after ttl; evicted entries may cause a duplicate to pass through, which
// consumers of the sink must tolerate anyway.
func New(sizeBytes int, ttl time.Duration) *Cache {
	if sizeBytes < minCacheSize {
		sizeBytes = minCacheSize
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		cache: freecache.NewCache(sizeBytes),
		ttl:   ttl,
	}
}

// Seen reports whether the message ID was recorded before. It does not
// record the ID: recording happens only after the sink accepted the message,
// otherwise a nacked redelivery would be suppressed and the payload lost.
func (c *Cache) Seen(id string) bool {
	if id == "" {
		return false
	}
	_, err := c.cache.Get([]byte(id))
	return err == nil
}

// Record marks the message ID as processed.
func (c *Cache) Record(id string) {
	if id == "" {
		return
	}
	_ = c.cache.Set([]byte(id), nil, int(c.ttl.Seconds()))
}

// Len reports the number of tracked IDs.
func (c *Cache) Len() int64 {
	return c.cache.EntryCount()
}
