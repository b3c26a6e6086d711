package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/tru8/internal/model"
)

// New builds the cache backend named by cfg.Backend.
// A disabled cache returns NoopCache so callers never nil-check.
func New(cfg model.CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return NoopCache{}, nil
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	memTTL := cfg.MemoryTTL
	if memTTL <= 0 {
		memTTL = time.Hour
	}

	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return NewMemoryCache(memTTL, 10*time.Minute), nil
	case "disk":
		return NewDiskCache(ExpandHome(cfg.Dir), ttl), nil
	case "", "layered":
		return NewMemoryDiskCache(memTTL, ExpandHome(cfg.Dir), ttl), nil
	case "sqlite":
		store, err := OpenSQLiteCache(ExpandHome(cfg.SQLitePath), ttl)
		if err != nil {
			return nil, err
		}
		return NewLayeredCache(NewMemoryCache(memTTL, 10*time.Minute), store), nil
	case "redis":
		return NewLayeredCache(
			NewMemoryCache(memTTL, 10*time.Minute),
			NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ttl),
		), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// ExpandHome resolves a leading ~ to the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
