package driven

import (
	"context"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// CacheStore persists content-addressed artifacts.
// Version checks are done by the caller; the store only keys by (stage, fingerprint).
type CacheStore interface {
	// Get retrieves an entry and refreshes its access time.
	// Returns domain.ErrCacheMiss if absent.
	Get(ctx context.Context, stage string, fp domain.Fingerprint) (*domain.CacheEntry, error)

	// Put stores or replaces an entry.
	Put(ctx context.Context, entry *domain.CacheEntry) error

	// Delete removes an entry. Missing entries are not an error.
	Delete(ctx context.Context, stage string, fp domain.Fingerprint) error

	// Count returns the number of stored entries across all stages.
	Count(ctx context.Context) (int, error)

	// Purge evicts least recently accessed entries until at most maxEntries remain.
	// Returns the number of evicted entries.
	Purge(ctx context.Context, maxEntries int) (int, error)
}
