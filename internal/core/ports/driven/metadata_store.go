package driven

import (
	"context"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// MetadataStore persists DocumentMetadata records.
type MetadataStore interface {
	// Get retrieves a record by document ID.
	// Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, documentID string) (*domain.DocumentMetadata, error)

	// FindBySource retrieves the record for a source name.
	// Returns domain.ErrNotFound if the source has never been processed.
	FindBySource(ctx context.Context, sourceName string) (*domain.DocumentMetadata, error)

	// Create stores a new record.
	// Returns domain.ErrAlreadyExists if the ID or source name is taken.
	Create(ctx context.Context, md *domain.DocumentMetadata) error

	// Update is the only way to mutate an existing record. fn runs against the
	// current persisted state under a per-document lock and its result is
	// persisted atomically. If fn returns an error nothing is written.
	Update(ctx context.Context, documentID string, fn func(*domain.DocumentMetadata) error) (*domain.DocumentMetadata, error)

	// List returns all records.
	List(ctx context.Context) ([]*domain.DocumentMetadata, error)
}
