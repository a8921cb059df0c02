package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.MetadataStore = (*MetadataStore)(nil)

// MetadataStore implements driven.MetadataStore using PostgreSQL.
// The record is kept as a JSONB body next to the columns used for lookup.
type MetadataStore struct {
	db *DB
}

// NewMetadataStore creates a new MetadataStore
func NewMetadataStore(db *DB) *MetadataStore {
	return &MetadataStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (*domain.DocumentMetadata, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return decodeMetadata(body)
}

func decodeMetadata(body []byte) (*domain.DocumentMetadata, error) {
	var md domain.DocumentMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &md, nil
}

// Get retrieves a record by document ID
func (s *MetadataStore) Get(ctx context.Context, documentID string) (*domain.DocumentMetadata, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE document_id = $1`, documentID)
	return scanMetadata(row)
}

// FindBySource retrieves the record for a source name
func (s *MetadataStore) FindBySource(ctx context.Context, sourceName string) (*domain.DocumentMetadata, error) {
	row := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE source_name = $1`, sourceName)
	return scanMetadata(row)
}

// Create stores a new record
func (s *MetadataStore) Create(ctx context.Context, md *domain.DocumentMetadata) error {
	body, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO documents (document_id, source_name, source_fingerprint, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query,
		md.DocumentID,
		md.SourceName,
		md.SourceFingerprint.String(),
		body,
		md.CreatedAt,
		md.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Update locks the row with SELECT ... FOR UPDATE, applies fn and writes the
// result in the same transaction.
func (s *MetadataStore) Update(ctx context.Context, documentID string,
	fn func(*domain.DocumentMetadata) error) (*domain.DocumentMetadata, error) {

	var updated *domain.DocumentMetadata
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT body FROM documents WHERE document_id = $1 FOR UPDATE`, documentID)
		md, err := scanMetadata(row)
		if err != nil {
			return err
		}
		if err := fn(md); err != nil {
			return err
		}
		md.Touch()

		body, err := json.Marshal(md)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		query := `
			UPDATE documents
			SET source_fingerprint = $2, body = $3, updated_at = $4
			WHERE document_id = $1
		`
		if _, err := tx.ExecContext(ctx, query, documentID, md.SourceFingerprint.String(), body, md.UpdatedAt); err != nil {
			return err
		}
		updated = md
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List returns all records ordered by document ID
func (s *MetadataStore) List(ctx context.Context) ([]*domain.DocumentMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM documents ORDER BY document_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DocumentMetadata
	for rows.Next() {
		md, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, rows.Err()
}
