package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache defines the get/put/expire contract shared by every backing store.
// Expiry is per entry; a zero TTL means the backend default.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// keyPrefix namespaces every key written by tru8; bump the version when value formats change
const keyPrefix = "tru8:v1:"

// Key builds a cache key for a namespace from one or more parts.
// Parts are hashed so arbitrary text (claims, snippets) makes a safe key.
func Key(namespace string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + namespace + ":" + hex.EncodeToString(hash[:])
}

// ReadThrough returns the cached value for key, or calls load and stores its result.
// A failed load is returned as-is and never cached; a failed store is ignored because
// the loaded value is still good.
func ReadThrough(c Cache, key string, ttl time.Duration, load func() ([]byte, error)) ([]byte, error) {
	if c != nil {
		if val, found := c.Get(key); found {
			return val, nil
		}
	}

	val, err := load()
	if err != nil {
		return nil, err
	}

	if c != nil {
		_ = c.Set(key, val, ttl)
	}
	return val, nil
}

// NoopCache never stores anything (cache disabled)
type NoopCache struct{}

func (NoopCache) Get(string) ([]byte, bool)               { return nil, false }
func (NoopCache) Set(string, []byte, time.Duration) error { return nil }
func (NoopCache) Delete(string) error                     { return nil }
func (NoopCache) Clear() error                            { return nil }
