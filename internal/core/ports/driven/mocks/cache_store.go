package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// MockCacheStore is an in-memory CacheStore for testing
type MockCacheStore struct {
	mu      sync.Mutex
	entries map[string]*domain.CacheEntry

	// GetFn overrides Get when set (optional)
	GetFn func(stage string, fp domain.Fingerprint) (*domain.CacheEntry, error)

	puts int
}

// NewMockCacheStore creates a new MockCacheStore
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{entries: make(map[string]*domain.CacheEntry)}
}

func cacheKey(stage string, fp domain.Fingerprint) string {
	return stage + "|" + fp.String()
}

func copyEntry(e *domain.CacheEntry) *domain.CacheEntry {
	c := *e
	c.Value = append([]byte(nil), e.Value...)
	return &c
}

func (m *MockCacheStore) Get(ctx context.Context, stage string, fp domain.Fingerprint) (*domain.CacheEntry, error) {
	if m.GetFn != nil {
		return m.GetFn(stage, fp)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[cacheKey(stage, fp)]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	e.AccessedAt = time.Now()
	return copyEntry(e), nil
}

// Stored reads an entry directly, bypassing GetFn (for test hooks).
func (m *MockCacheStore) Stored(stage string, fp domain.Fingerprint) (*domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[cacheKey(stage, fp)]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return copyEntry(e), nil
}

func (m *MockCacheStore) Put(ctx context.Context, entry *domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[cacheKey(entry.Stage, entry.Fingerprint)] = copyEntry(entry)
	m.puts++
	return nil
}

func (m *MockCacheStore) Delete(ctx context.Context, stage string, fp domain.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, cacheKey(stage, fp))
	return nil
}

func (m *MockCacheStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *MockCacheStore) Purge(ctx context.Context, maxEntries int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) <= maxEntries {
		return 0, nil
	}
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.entries[keys[i]].AccessedAt.Before(m.entries[keys[j]].AccessedAt)
	})
	evict := len(keys) - maxEntries
	for _, k := range keys[:evict] {
		delete(m.entries, k)
	}
	return evict, nil
}

// Puts returns the number of Put calls.
func (m *MockCacheStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}
