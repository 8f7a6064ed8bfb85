package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/dlx/internal/shared"
)

// ResolveCache stores resolved source URLs keyed by query.
//
// Get returns [shared.ErrCacheMiss] when the key is absent or expired.
type ResolveCache interface {
	Get(ctx context.Context, query string) ([]string, error)
	Put(ctx context.Context, query string, urls []string, ttl time.Duration) error
	Prune(ctx context.Context) (int64, error)
	Close() error
}

// CacheKey normalizes a query so equivalent inputs share an entry.
//
// Catalog URLs lose their query string (share trackers such as ?si=);
// free-text queries are case-folded with collapsed whitespace.
func CacheKey(query string) string {
	query = strings.TrimSpace(query)
	if strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://") {
		if base, _, found := strings.Cut(query, "?"); found {
			query = base
		}
		return strings.TrimRight(query, "/")
	}
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]string, error) { return nil, errCacheMiss }
func (NoopCache) Put(context.Context, string, []string, time.Duration) error {
	return nil
}
func (NoopCache) Prune(context.Context) (int64, error) { return 0, nil }
func (NoopCache) Close() error                         { return nil }

// NewResolveCache builds the backend named by cfg.Backend. The sqlite
// backend requires db; "none" and "" disable caching.
func NewResolveCache(ctx context.Context, cfg shared.CacheConfig, db *sql.DB) (ResolveCache, error) {
	switch cfg.Backend {
	case "sqlite":
		if db == nil {
			return nil, fmt.Errorf("%w: sqlite cache backend requires a database", shared.ErrInvalidConfig)
		}
		return NewSQLiteResolveCache(db), nil
	case "redis":
		return NewRedisResolveCache(ctx, cfg.RedisAddr)
	case "none", "":
		return NoopCache{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", shared.ErrInvalidConfig, cfg.Backend)
	}
}
