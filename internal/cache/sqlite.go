package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache keeps entries in a single SQLite file.
// Thread-safety: all methods are safe for concurrent use.
type SQLiteCache struct {
	db  *sql.DB
	ttl time.Duration
	mu  sync.RWMutex
}

// OpenSQLiteCache opens (or creates) the cache database at path.
// ":memory:" opens the process-wide shared in-memory database.
func OpenSQLiteCache(path string, ttl time.Duration) (*SQLiteCache, error) {
	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared"
	} else if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache(expires_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteCache{db: db, ttl: ttl}, nil
}

// Get retrieves a live entry
func (c *SQLiteCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var value []byte
	err := c.db.QueryRow(
		`SELECT value FROM cache WHERE key = ? AND expires_at > ?`,
		key, time.Now().UnixNano(),
	).Scan(&value)
	if err != nil {
		return nil, false
	}
	return value, true
}

// Set upserts an entry
func (c *SQLiteCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`
		INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, time.Now().Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes an entry
func (c *SQLiteCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec(`DELETE FROM cache WHERE key = ?`, key); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry
func (c *SQLiteCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec(`DELETE FROM cache`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed
func (c *SQLiteCache) Purge() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec(`DELETE FROM cache WHERE expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
