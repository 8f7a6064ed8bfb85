package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/dlx/internal/shared"
)

var errCacheMiss = shared.ErrCacheMiss

// SQLiteResolveCache persists resolved URLs in the resolve_cache table.
type SQLiteResolveCache struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteResolveCache creates a cache over a migrated database.
func NewSQLiteResolveCache(db *sql.DB) *SQLiteResolveCache {
	return &SQLiteResolveCache{db: db, now: time.Now}
}

// Get returns unexpired URLs for query.
func (c *SQLiteResolveCache) Get(ctx context.Context, query string) ([]string, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		"SELECT urls FROM resolve_cache WHERE query = ? AND expires_at > ?",
		CacheKey(query), c.now().UTC(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read resolve cache: %w", err)
	}

	var urls []string
	if err := json.Unmarshal([]byte(raw), &urls); err != nil {
		return nil, fmt.Errorf("failed to decode cached urls: %w", err)
	}
	return urls, nil
}

// Put stores urls for query, replacing any existing entry.
func (c *SQLiteResolveCache) Put(ctx context.Context, query string, urls []string, ttl time.Duration) error {
	raw, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("failed to encode urls: %w", err)
	}

	now := c.now().UTC()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO resolve_cache (query, urls, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(query) DO UPDATE SET urls = excluded.urls, created_at = excluded.created_at, expires_at = excluded.expires_at
	`, CacheKey(query), string(raw), now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to write resolve cache: %w", err)
	}
	return nil
}

// Prune deletes expired entries and returns how many were removed.
func (c *SQLiteResolveCache) Prune(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx, "DELETE FROM resolve_cache WHERE expires_at <= ?", c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune resolve cache: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the database handle is owned by the caller.
func (c *SQLiteResolveCache) Close() error { return nil }
