package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/desertthunder/dlx/internal/repositories"
	"github.com/urfave/cli/v3"
)

// CachePrune deletes expired resolve cache entries from the configured backend.
func (r *Runner) CachePrune(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.Cache
	if cfg.Backend == "none" || cfg.Backend == "" {
		return r.writePlain("Resolve cache is disabled; nothing to prune.\n")
	}

	var db *sql.DB
	if cfg.Backend == "sqlite" {
		var err error
		if db, err = r.openDatabase(); err != nil {
			return err
		}
		defer db.Close()
	}

	cache, err := repositories.NewResolveCache(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("failed to open resolve cache: %w", err)
	}
	defer cache.Close()

	n, err := cache.Prune(ctx)
	if err != nil {
		return fmt.Errorf("failed to prune resolve cache: %w", err)
	}

	r.logger.Info("resolve cache pruned", "backend", cfg.Backend, "removed", n)
	return r.writePlain("✓ Removed %d expired entries from the %s cache\n", n, cfg.Backend)
}
