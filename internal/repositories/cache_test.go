package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/desertthunder/dlx/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	shared.ConfigureDatabase(db, ":memory:", 1, 1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestCacheKey(t *testing.T) {
	tc := []struct {
		name  string
		input string
		want  string
	}{
		{name: "strips share tracker", input: "https://open.spotify.com/track/abc?si=123", want: "https://open.spotify.com/track/abc"},
		{name: "strips trailing slash", input: "https://open.spotify.com/track/abc/", want: "https://open.spotify.com/track/abc"},
		{name: "folds query text", input: "  Rick   ASTLEY never gonna ", want: "rick astley never gonna"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := CacheKey(tt.input); got != tt.want {
				t.Errorf("CacheKey(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// exerciseCache runs the behavior every backend must share.
func exerciseCache(t *testing.T, cache ResolveCache, expire func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	if _, err := cache.Get(ctx, "https://open.spotify.com/track/abc"); !errors.Is(err, shared.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss on empty cache, got %v", err)
	}

	urls := []string{"https://music.youtube.com/watch?v=1", "https://music.youtube.com/watch?v=2"}
	if err := cache.Put(ctx, "https://open.spotify.com/track/abc?si=x", urls, time.Hour); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := cache.Get(ctx, "https://open.spotify.com/track/abc")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got) != 2 || got[1] != urls[1] {
		t.Errorf("unexpected urls %v", got)
	}

	if err := cache.Put(ctx, "https://open.spotify.com/track/abc", urls[:1], time.Hour); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if got, _ := cache.Get(ctx, "https://open.spotify.com/track/abc"); len(got) != 1 {
		t.Errorf("expected overwritten entry, got %v", got)
	}

	expire(2 * time.Hour)

	if _, err := cache.Get(ctx, "https://open.spotify.com/track/abc"); !errors.Is(err, shared.ErrCacheMiss) {
		t.Errorf("expected expired entry to miss, got %v", err)
	}
}

func TestSQLiteResolveCache(t *testing.T) {
	t.Run("shared behavior", func(t *testing.T) {
		cache := NewSQLiteResolveCache(setupTestDB(t))
		now := time.Now()
		cache.now = func() time.Time { return now }

		exerciseCache(t, cache, func(d time.Duration) {
			now = now.Add(d)
		})
	})

	t.Run("Prune", func(t *testing.T) {
		cache := NewSQLiteResolveCache(setupTestDB(t))
		ctx := context.Background()
		now := time.Now()
		cache.now = func() time.Time { return now }

		cache.Put(ctx, "short", []string{"https://a"}, time.Minute)
		cache.Put(ctx, "long", []string{"https://b"}, 24*time.Hour)

		now = now.Add(time.Hour)
		removed, err := cache.Prune(ctx)
		if err != nil {
			t.Fatalf("prune failed: %v", err)
		}
		if removed != 1 {
			t.Errorf("expected 1 pruned entry, got %d", removed)
		}
		if _, err := cache.Get(ctx, "long"); err != nil {
			t.Errorf("long-lived entry should survive prune: %v", err)
		}
	})
}

func TestRedisResolveCache(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	cache, err := NewRedisResolveCache(context.Background(), s.Addr())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer cache.Close()

	exerciseCache(t, cache, s.FastForward)

	if err := cache.Put(context.Background(), "Some Song", []string{"https://x"}, time.Minute); err != nil {
		t.Fatal(err)
	}
	if !s.Exists("dlx:resolve:some song") {
		t.Errorf("expected namespaced key, have %v", s.Keys())
	}
	if ttl := s.TTL("dlx:resolve:some song"); ttl != time.Minute {
		t.Errorf("expected 1m ttl, got %v", ttl)
	}
}

func TestNewResolveCache(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		cache, err := NewResolveCache(ctx, shared.CacheConfig{Backend: "sqlite"}, setupTestDB(t))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := cache.(*SQLiteResolveCache); !ok {
			t.Errorf("expected sqlite cache, got %T", cache)
		}
	})

	t.Run("sqlite without db", func(t *testing.T) {
		if _, err := NewResolveCache(ctx, shared.CacheConfig{Backend: "sqlite"}, nil); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("redis", func(t *testing.T) {
		s := miniredis.RunT(t)
		cache, err := NewResolveCache(ctx, shared.CacheConfig{Backend: "redis", RedisAddr: s.Addr()}, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer cache.Close()
		if _, ok := cache.(*RedisResolveCache); !ok {
			t.Errorf("expected redis cache, got %T", cache)
		}
	})

	t.Run("redis unreachable", func(t *testing.T) {
		s := miniredis.RunT(t)
		addr := s.Addr()
		s.Close()

		if _, err := NewResolveCache(ctx, shared.CacheConfig{Backend: "redis", RedisAddr: addr}, nil); err == nil {
			t.Error("expected connection error")
		}
	})

	t.Run("none", func(t *testing.T) {
		cache, err := NewResolveCache(ctx, shared.CacheConfig{Backend: "none"}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := cache.Get(ctx, "x"); !errors.Is(err, shared.ErrCacheMiss) {
			t.Errorf("noop cache should always miss, got %v", err)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := NewResolveCache(ctx, shared.CacheConfig{Backend: "memcached"}, nil); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestCatalogNameRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCatalogNameRepository(setupTestDB(t))

	if _, err := repo.Name(ctx, "spotify:track:abc"); !errors.Is(err, shared.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := repo.SaveName(ctx, "spotify:track:abc", "track", "Rick Astley - Never Gonna Give You Up"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := repo.SaveName(ctx, "spotify:track:abc", "track", "Rick Astley - Together Forever"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	name, err := repo.Name(ctx, "spotify:track:abc")
	if err != nil {
		t.Fatal(err)
	}
	if name != "Rick Astley - Together Forever" {
		t.Errorf("unexpected name %q", name)
	}

	if n, _ := repo.Count(ctx); n != 1 {
		t.Errorf("expected 1 cached name, got %d", n)
	}
}
