// Package cache is the TTL key/value store in cache.db. Values are
// msgpack-encoded; the table is safe to drop at any time.
package cache

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository reads and writes the cache table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a cache repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "cache").Logger(),
	}
}

// Set stores a value under key with a TTL (0 = no expiry).
func (r *Repository) Set(key string, value interface{}, ttl time.Duration) error {
	encoded, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}

	_, err = r.db.Exec(`
		INSERT INTO cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value, expires_at = excluded.expires_at`,
		key, encoded, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

// Get decodes the value under key into out. Returns false when absent
// or expired.
func (r *Repository) Get(key string, out interface{}) (bool, error) {
	var encoded []byte
	var expiresAt int64
	err := r.db.QueryRow("SELECT value, expires_at FROM cache WHERE key = ?", key).
		Scan(&encoded, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}

	if expiresAt > 0 && time.Now().Unix() >= expiresAt {
		_, _ = r.db.Exec("DELETE FROM cache WHERE key = ?", key)
		return false, nil
	}

	if err := msgpack.Unmarshal(encoded, out); err != nil {
		return false, fmt.Errorf("failed to decode cache value for %s: %w", key, err)
	}
	return true, nil
}

// Delete removes one key.
func (r *Repository) Delete(key string) error {
	if _, err := r.db.Exec("DELETE FROM cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key with the prefix. Used to clear the
// analysis cache before a price sync.
func (r *Repository) DeletePrefix(prefix string) (int64, error) {
	result, err := r.db.Exec("DELETE FROM cache WHERE key LIKE ?",
		strings.ReplaceAll(prefix, "%", "") + "%")
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache prefix %s: %w", prefix, err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// CleanupExpired removes expired entries and returns the number removed.
func (r *Repository) CleanupExpired() (int64, error) {
	result, err := r.db.Exec(
		"DELETE FROM cache WHERE expires_at > 0 AND expires_at <= ?",
		time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired cache entries: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
