package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// MockMetadataStore is an in-memory MetadataStore for testing.
// Records are cloned on the way in and out so tests observe only persisted state.
type MockMetadataStore struct {
	mu       sync.Mutex
	records  map[string]*domain.DocumentMetadata
	bySource map[string]string

	// UpdateFn runs before each Update; returning an error aborts it (optional)
	UpdateFn func(documentID string) error

	updates int
	creates int
}

// NewMockMetadataStore creates a new MockMetadataStore
func NewMockMetadataStore() *MockMetadataStore {
	return &MockMetadataStore{
		records:  make(map[string]*domain.DocumentMetadata),
		bySource: make(map[string]string),
	}
}

func (m *MockMetadataStore) Get(ctx context.Context, documentID string) (*domain.DocumentMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.records[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return md.Clone(), nil
}

func (m *MockMetadataStore) FindBySource(ctx context.Context, sourceName string) (*domain.DocumentMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySource[sourceName]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.records[id].Clone(), nil
}

func (m *MockMetadataStore) Create(ctx context.Context, md *domain.DocumentMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[md.DocumentID]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := m.bySource[md.SourceName]; ok {
		return domain.ErrAlreadyExists
	}
	m.records[md.DocumentID] = md.Clone()
	m.bySource[md.SourceName] = md.DocumentID
	m.creates++
	return nil
}

func (m *MockMetadataStore) Update(ctx context.Context, documentID string, fn func(*domain.DocumentMetadata) error) (*domain.DocumentMetadata, error) {
	if m.UpdateFn != nil {
		if err := m.UpdateFn(documentID); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Touch()
	m.records[documentID] = working
	m.updates++
	return working.Clone(), nil
}

func (m *MockMetadataStore) List(ctx context.Context) ([]*domain.DocumentMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.DocumentMetadata, 0, len(m.records))
	for _, md := range m.records {
		out = append(out, md.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

// Updates returns the number of successful Update calls.
func (m *MockMetadataStore) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// Creates returns the number of successful Create calls.
func (m *MockMetadataStore) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}
