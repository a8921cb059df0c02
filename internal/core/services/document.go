package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
	"github.com/custodia-labs/speccheck/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.DocumentService = (*DocumentService)(nil)

// DefaultMaxDocumentSizeMB is the largest accepted source document.
const DefaultMaxDocumentSizeMB = 4.5

// DocumentService opens source documents and binds them to their metadata record.
type DocumentService struct {
	store        driven.MetadataStore
	maxSizeBytes int64
	logger       *slog.Logger
}

// DocumentServiceConfig holds dependencies for DocumentService.
type DocumentServiceConfig struct {
	Store     driven.MetadataStore
	MaxSizeMB float64
	Logger    *slog.Logger
}

// NewDocumentService creates a new document service.
func NewDocumentService(cfg DocumentServiceConfig) *DocumentService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxMB := cfg.MaxSizeMB
	if maxMB <= 0 {
		maxMB = DefaultMaxDocumentSizeMB
	}
	return &DocumentService{
		store:        cfg.Store,
		maxSizeBytes: int64(maxMB * 1024 * 1024),
		logger:       logger,
	}
}

// Open reads and validates a source file, then finds its metadata by source
// name or creates a record with a fresh document ID.
func (s *DocumentService) Open(ctx context.Context, path string) (*domain.OpenedDocument, error) {
	src, err := ReadSource(path, s.maxSizeBytes)
	if err != nil {
		return nil, err
	}

	md, err := s.store.FindBySource(ctx, src.Name)
	if err == nil {
		changed := md.SourceFingerprint != src.Fingerprint
		if changed {
			s.logger.Warn("source changed since last run",
				"document_id", md.DocumentID,
				"source", src.Name,
				"stored_fingerprint", md.SourceFingerprint.Short(),
				"current_fingerprint", src.Fingerprint.Short(),
			)
		}
		return &domain.OpenedDocument{Source: *src, Metadata: md, FingerprintChanged: changed}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up metadata: %w", err)
	}

	md, err = domain.NewDocumentMetadata(src.Name, sourceURI(path), src.Fingerprint)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, md); err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to create metadata: %w", err)
		}
		// Lost a race with another process; use its record
		existing, getErr := s.store.FindBySource(ctx, src.Name)
		if getErr != nil {
			return nil, fmt.Errorf("failed to look up metadata: %w", getErr)
		}
		return &domain.OpenedDocument{
			Source:             *src,
			Metadata:           existing,
			FingerprintChanged: existing.SourceFingerprint != src.Fingerprint,
		}, nil
	}

	s.logger.Info("registered new document", "document_id", md.DocumentID, "source", src.Name)
	return &domain.OpenedDocument{Source: *src, Metadata: md, Created: true}, nil
}

// Status returns the stored metadata of a source without reading the file.
func (s *DocumentService) Status(ctx context.Context, path string) (*domain.DocumentMetadata, error) {
	md, err := s.store.FindBySource(ctx, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata for %s: %w", filepath.Base(path), err)
	}
	return md, nil
}

// ReadSource validates and reads a document from disk. maxBytes <= 0 disables
// the size check.
func ReadSource(path string, maxBytes int64) (*domain.Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read file %s: %v", domain.ErrInvalidInput, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrInvalidInput, path)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, fmt.Errorf("%w: file too large: %.1fMB (max: %.1fMB)", domain.ErrInvalidInput,
			float64(info.Size())/(1024*1024), float64(maxBytes)/(1024*1024))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read file %s: %v", domain.ErrInvalidInput, path, err)
	}

	return &domain.Source{
		Name:        filepath.Base(path),
		Path:        path,
		MimeType:    DetectMIMEType(path, data),
		Fingerprint: domain.FingerprintOf(data),
		Content:     data,
	}, nil
}

// DetectMIMEType guesses the MIME type from the extension, then the content.
func DetectMIMEType(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func sourceURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs)
}
