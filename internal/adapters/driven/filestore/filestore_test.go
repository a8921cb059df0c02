package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

func sampleMetadata(t *testing.T, source string) *domain.DocumentMetadata {
	t.Helper()
	md, err := domain.NewDocumentMetadata(source, "file:///tmp/"+source, domain.FingerprintString(source))
	require.NoError(t, err)
	for ch := 1; ch <= 2; ch++ {
		chapter := domain.ChapterStatus{Number: ch, Title: fmt.Sprintf("Chapter %d", ch)}
		for sec := 1; sec <= 5; sec++ {
			chapter.Sections = append(chapter.Sections, domain.SectionStatus{
				ID:            domain.SectionID(ch, sec),
				ChapterNumber: ch,
				Title:         fmt.Sprintf("Section %d", sec),
			})
		}
		md.Chapters = append(md.Chapters, chapter)
	}
	md.NumChapters = 2
	return md
}

func TestMetadataStore_CreateAndFind(t *testing.T) {
	store, err := NewMetadataStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	md := sampleMetadata(t, "spec.md")
	require.NoError(t, store.Create(ctx, md))

	got, err := store.Get(ctx, md.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, md.SourceName, got.SourceName)
	assert.Len(t, got.Sections(), 10)

	found, err := store.FindBySource(ctx, "spec.md")
	require.NoError(t, err)
	assert.Equal(t, md.DocumentID, found.DocumentID)

	_, err = store.FindBySource(ctx, "other.md")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = store.Get(ctx, "0190a6a4-0000-7000-8000-000000000000")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMetadataStore_CreateRejectsDuplicates(t *testing.T) {
	store, err := NewMetadataStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	md := sampleMetadata(t, "spec.md")
	require.NoError(t, store.Create(ctx, md))

	err = store.Create(ctx, md)
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))

	again := sampleMetadata(t, "spec.md")
	err = store.Create(ctx, again)
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists), "source names are unique")
}

func TestMetadataStore_RejectsPathLikeIDs(t *testing.T) {
	store, err := NewMetadataStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "..", "../escape", `a\b`} {
		_, err := store.Get(context.Background(), id)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "id %q", id)
	}
}

func TestMetadataStore_UpdateFailureWritesNothing(t *testing.T) {
	store, err := NewMetadataStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	md := sampleMetadata(t, "spec.md")
	require.NoError(t, store.Create(ctx, md))

	_, err = store.Update(ctx, md.DocumentID, func(m *domain.DocumentMetadata) error {
		m.Section("ch1_sec1").MarkProcessed([]string{"pol-1"})
		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := store.Get(ctx, md.DocumentID)
	require.NoError(t, err)
	assert.False(t, got.Section("ch1_sec1").Processed)
}

func TestMetadataStore_ConcurrentUpdatesKeepEveryWrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewMetadataStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	md := sampleMetadata(t, "spec.md")
	require.NoError(t, store.Create(ctx, md))

	var wg sync.WaitGroup
	for _, s := range md.Sections() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := store.Update(ctx, md.DocumentID, func(m *domain.DocumentMetadata) error {
				m.Section(id).MarkProcessed([]string{"pol-" + id})
				return nil
			})
			assert.NoError(t, err)
		}(s.ID)
	}
	wg.Wait()

	got, err := store.Get(ctx, md.DocumentID)
	require.NoError(t, err)
	total, processed := got.CountSections()
	assert.Equal(t, 10, total)
	assert.Equal(t, 10, processed)

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Join(dir, "metadata"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMetadataStore_List(t *testing.T) {
	store, err := NewMetadataStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, sampleMetadata(t, "a.md")))
	require.NoError(t, store.Create(ctx, sampleMetadata(t, "b.md")))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCacheStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCacheStore(dir)
	require.NoError(t, err)
	ctx := context.Background()
	fp := domain.FingerprintString("chapter 1")

	_, err = store.Get(ctx, "sections", fp)
	assert.True(t, errors.Is(err, domain.ErrCacheMiss))

	entry := &domain.CacheEntry{Stage: "sections", Fingerprint: fp, StageVersion: "1", Value: []byte(`{"a":1}`)}
	require.NoError(t, store.Put(ctx, entry))

	got, err := store.Get(ctx, "sections", fp)
	require.NoError(t, err)
	assert.Equal(t, "1", got.StageVersion)
	assert.Equal(t, []byte(`{"a":1}`), got.Value)
	assert.False(t, got.AccessedAt.IsZero())

	_, err = os.Stat(filepath.Join(dir, "cache", "sections"))
	assert.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "sections", fp))
	require.NoError(t, store.Delete(ctx, "sections", fp), "deleting twice is fine")
	_, err = store.Get(ctx, "sections", fp)
	assert.True(t, errors.Is(err, domain.ErrCacheMiss))
}

func TestCacheStore_CorruptEntryIsMiss(t *testing.T) {
	store, err := NewCacheStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	fp := domain.FingerprintString("x")

	path, err := store.path("sections", fp)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{torn"), 0o644))

	_, err = store.Get(ctx, "sections", fp)
	assert.True(t, errors.Is(err, domain.ErrCacheMiss))
}

func TestCacheStore_RejectsBadStage(t *testing.T) {
	store, err := NewCacheStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "../etc", domain.FingerprintString("x"))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestCacheStore_PurgeEvictsLeastRecentlyAccessed(t *testing.T) {
	store, err := NewCacheStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, k := range []string{"old", "mid", "new"} {
		fp := domain.FingerprintString(k)
		require.NoError(t, store.Put(ctx, &domain.CacheEntry{Stage: "sections", Fingerprint: fp, StageVersion: "1"}))
		path, _ := store.path("sections", fp)
		stamp := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, stamp, stamp))
	}

	// Reading "old" makes it the most recent
	_, err = store.Get(ctx, "sections", domain.FingerprintString("old"))
	require.NoError(t, err)

	evicted, err := store.Purge(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	_, err = store.Get(ctx, "sections", domain.FingerprintString("mid"))
	assert.True(t, errors.Is(err, domain.ErrCacheMiss))
	_, err = store.Get(ctx, "sections", domain.FingerprintString("old"))
	assert.NoError(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	lock1, err := NewLock(dir)
	require.NoError(t, err)
	lock2, err := NewLock(dir)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := lock1.Acquire(ctx, "speccheck:document:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock2.Acquire(ctx, "speccheck:document:abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Another owner cannot release it
	require.NoError(t, lock2.Release(ctx, "speccheck:document:abc"))
	ok, _ = lock2.Acquire(ctx, "speccheck:document:abc", time.Minute)
	assert.False(t, ok)

	require.NoError(t, lock1.Release(ctx, "speccheck:document:abc"))
	ok, err = lock2.Acquire(ctx, "speccheck:document:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_ExpiredLockIsTakenOver(t *testing.T) {
	dir := t.TempDir()
	lock1, _ := NewLock(dir)
	lock2, _ := NewLock(dir)
	ctx := context.Background()

	ok, err := lock1.Acquire(ctx, "doc", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(5 * time.Millisecond)

	ok, err = lock2.Acquire(ctx, "doc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_Extend(t *testing.T) {
	dir := t.TempDir()
	lock1, _ := NewLock(dir)
	lock2, _ := NewLock(dir)
	ctx := context.Background()

	_, err := lock1.Acquire(ctx, "doc", time.Minute)
	require.NoError(t, err)

	assert.NoError(t, lock1.Extend(ctx, "doc", time.Hour))
	assert.Error(t, lock2.Extend(ctx, "doc", time.Hour))
	assert.NoError(t, lock1.Ping(ctx))
}
