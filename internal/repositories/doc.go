// Package repositories implements the persistence behind dlx's caches.
//
// Task state is not persisted; only derived, disposable data lives here.
//
// Key Implementations:
//   - [ResolveCache] : resolved source URLs keyed by normalized query, with TTL
//   - [SQLiteResolveCache] : resolve_cache table, expired rows removed by [SQLiteResolveCache.Prune]
//   - [RedisResolveCache] : JSON values under dlx:resolve:* with native key expiry
//   - [NoopCache] : disables caching
//   - [CatalogNameRepository] : catalog display names reused for artifact naming
//
// [NewResolveCache] picks the backend from [shared.CacheConfig].
package repositories
