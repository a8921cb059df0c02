// Package filestore keeps metadata, cache artifacts and locks as plain files
// under a working directory. It is the default backend of the CLI.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.MetadataStore = (*MetadataStore)(nil)

const indexFile = "index.json"

// MetadataStore persists one JSON file per document in <workdir>/metadata,
// plus an index from source name to document ID.
type MetadataStore struct {
	dir string

	// indexMu guards index.json and record creation
	indexMu sync.Mutex

	locksMu  sync.Mutex
	docLocks map[string]*sync.Mutex
}

// NewMetadataStore creates the metadata directory under workdir if needed.
func NewMetadataStore(workdir string) (*MetadataStore, error) {
	dir := filepath.Join(workdir, "metadata")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	return &MetadataStore{dir: dir, docLocks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the metadata directory.
func (s *MetadataStore) Dir() string {
	return s.dir
}

func (s *MetadataStore) Get(ctx context.Context, documentID string) (*domain.DocumentMetadata, error) {
	if err := validateDocumentID(documentID); err != nil {
		return nil, err
	}
	return s.read(documentID)
}

func (s *MetadataStore) FindBySource(ctx context.Context, sourceName string) (*domain.DocumentMetadata, error) {
	s.indexMu.Lock()
	index, err := s.readIndex()
	s.indexMu.Unlock()
	if err != nil {
		return nil, err
	}

	id, ok := index[sourceName]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.read(id)
}

func (s *MetadataStore) Create(ctx context.Context, md *domain.DocumentMetadata) error {
	if err := validateDocumentID(md.DocumentID); err != nil {
		return err
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return err
	}
	if _, ok := index[md.SourceName]; ok {
		return domain.ErrAlreadyExists
	}
	if _, err := os.Stat(s.path(md.DocumentID)); err == nil {
		return domain.ErrAlreadyExists
	}

	if err := s.write(md); err != nil {
		return err
	}
	index[md.SourceName] = md.DocumentID
	return s.writeIndex(index)
}

// Update runs fn against the persisted record under a per-document lock and
// replaces the file atomically. Nothing is written when fn fails.
func (s *MetadataStore) Update(ctx context.Context, documentID string,
	fn func(*domain.DocumentMetadata) error) (*domain.DocumentMetadata, error) {

	if err := validateDocumentID(documentID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := s.lockFor(documentID)
	lock.Lock()
	defer lock.Unlock()

	md, err := s.read(documentID)
	if err != nil {
		return nil, err
	}
	if err := fn(md); err != nil {
		return nil, err
	}
	md.Touch()
	if err := s.write(md); err != nil {
		return nil, err
	}
	return md.Clone(), nil
}

func (s *MetadataStore) List(ctx context.Context) ([]*domain.DocumentMetadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}

	var out []*domain.DocumentMetadata
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == indexFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		md, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (s *MetadataStore) lockFor(documentID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.docLocks[documentID]
	if !ok {
		l = &sync.Mutex{}
		s.docLocks[documentID] = l
	}
	return l
}

func (s *MetadataStore) path(documentID string) string {
	return filepath.Join(s.dir, documentID+".json")
}

func (s *MetadataStore) read(documentID string) (*domain.DocumentMetadata, error) {
	data, err := os.ReadFile(s.path(documentID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read metadata %s: %w", documentID, err)
	}
	var md domain.DocumentMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to decode metadata %s: %w", documentID, err)
	}
	return &md, nil
}

func (s *MetadataStore) write(md *domain.DocumentMetadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return writeFileAtomic(s.path(md.DocumentID), data)
}

func (s *MetadataStore) readIndex() (map[string]string, error) {
	index := make(map[string]string)
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return index, nil
		}
		return nil, fmt.Errorf("failed to read metadata index: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to decode metadata index: %w", err)
	}
	return index, nil
}

func (s *MetadataStore) writeIndex(index map[string]string) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata index: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, indexFile), data)
}

// validateDocumentID keeps ids from escaping the metadata directory.
func validateDocumentID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: bad document id %q", domain.ErrInvalidInput, id)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path, so readers see the old or the new file only.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
