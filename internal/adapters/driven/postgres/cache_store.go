package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CacheStore = (*CacheStore)(nil)

// CacheStore implements driven.CacheStore using PostgreSQL
type CacheStore struct {
	db *DB
}

// NewCacheStore creates a new CacheStore
func NewCacheStore(db *DB) *CacheStore {
	return &CacheStore{db: db}
}

// Get retrieves an entry and refreshes its access time in one statement
func (c *CacheStore) Get(ctx context.Context, stage string, fp domain.Fingerprint) (*domain.CacheEntry, error) {
	query := `
		UPDATE cache_entries SET accessed_at = NOW()
		WHERE stage = $1 AND fingerprint = $2
		RETURNING stage_version, value, created_at, accessed_at
	`
	entry := &domain.CacheEntry{Stage: stage, Fingerprint: fp}
	err := c.db.QueryRowContext(ctx, query, stage, fp.String()).Scan(
		&entry.StageVersion,
		&entry.Value,
		&entry.CreatedAt,
		&entry.AccessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Put stores or replaces an entry
func (c *CacheStore) Put(ctx context.Context, entry *domain.CacheEntry) error {
	query := `
		INSERT INTO cache_entries (stage, fingerprint, stage_version, value, created_at, accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stage, fingerprint) DO UPDATE SET
			stage_version = EXCLUDED.stage_version,
			value = EXCLUDED.value,
			created_at = EXCLUDED.created_at,
			accessed_at = EXCLUDED.accessed_at
	`
	_, err := c.db.ExecContext(ctx, query,
		entry.Stage,
		entry.Fingerprint.String(),
		entry.StageVersion,
		entry.Value,
		entry.CreatedAt,
		entry.AccessedAt,
	)
	return err
}

// Delete removes an entry
func (c *CacheStore) Delete(ctx context.Context, stage string, fp domain.Fingerprint) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE stage = $1 AND fingerprint = $2`, stage, fp.String())
	return err
}

// Count returns the number of stored entries
func (c *CacheStore) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n)
	return n, err
}

// Purge deletes the least recently accessed entries above maxEntries
func (c *CacheStore) Purge(ctx context.Context, maxEntries int) (int, error) {
	query := `
		DELETE FROM cache_entries
		WHERE (stage, fingerprint) IN (
			SELECT stage, fingerprint FROM cache_entries
			ORDER BY accessed_at ASC
			LIMIT GREATEST((SELECT COUNT(*) FROM cache_entries) - $1, 0)
		)
	`
	res, err := c.db.ExecContext(ctx, query, maxEntries)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
