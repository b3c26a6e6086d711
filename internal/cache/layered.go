package cache

import (
	"io"
	"time"
)

// LayeredCache chains caches from fastest to slowest. Reads fall through the
// tiers and backfill the faster ones; writes go to every tier.
type LayeredCache struct {
	tiers []Cache
}

// NewLayeredCache builds a layered cache from the given tiers (fastest first)
func NewLayeredCache(tiers ...Cache) *LayeredCache {
	return &LayeredCache{tiers: tiers}
}

// NewMemoryDiskCache is the default layering: memory in front of disk
func NewMemoryDiskCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return NewLayeredCache(
		NewMemoryCache(memoryTTL, 10*time.Minute),
		NewDiskCache(diskDir, diskTTL),
	)
}

// Get checks each tier in order and promotes hits to the faster tiers
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	for i, tier := range c.tiers {
		val, found := tier.Get(key)
		if !found {
			continue
		}
		for j := 0; j < i; j++ {
			_ = c.tiers[j].Set(key, val, 0) // faster tier default TTL
		}
		return val, true
	}
	return nil, false
}

// Set stores the value in every tier and returns the first error
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	var firstErr error
	for _, tier := range c.tiers {
		if err := tier.Set(key, value, ttl); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Delete removes the key from every tier
func (c *LayeredCache) Delete(key string) error {
	var firstErr error
	for _, tier := range c.tiers {
		if err := tier.Delete(key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Clear empties every tier
func (c *LayeredCache) Clear() error {
	var firstErr error
	for _, tier := range c.tiers {
		if err := tier.Clear(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every tier that holds resources
func (c *LayeredCache) Close() error {
	var firstErr error
	for _, tier := range c.tiers {
		if closer, ok := tier.(io.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
