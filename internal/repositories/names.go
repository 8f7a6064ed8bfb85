package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/dlx/internal/shared"
)

// CatalogNameRepository caches catalog display names in the catalog_names table.
// It satisfies catalog.NameCache.
type CatalogNameRepository struct {
	db *sql.DB
}

// NewCatalogNameRepository creates a new CatalogNameRepository.
func NewCatalogNameRepository(db *sql.DB) *CatalogNameRepository {
	return &CatalogNameRepository{db: db}
}

// Name returns the stored display name for ref.
func (r *CatalogNameRepository) Name(ctx context.Context, ref string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx, "SELECT name FROM catalog_names WHERE ref = ?", ref).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", shared.ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("failed to read catalog name: %w", err)
	}
	return name, nil
}

// SaveName upserts the display name for ref.
func (r *CatalogNameRepository) SaveName(ctx context.Context, ref, kind, name string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO catalog_names (ref, kind, name) VALUES (?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET kind = excluded.kind, name = excluded.name, fetched_at = CURRENT_TIMESTAMP
	`, ref, kind, name)
	if err != nil {
		return fmt.Errorf("failed to save catalog name: %w", err)
	}
	return nil
}

// Count returns the number of cached names.
func (r *CatalogNameRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM catalog_names").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count catalog names: %w", err)
	}
	return n, nil
}
