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
	"time"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CacheStore = (*CacheStore)(nil)

// CacheStore keeps each entry at <workdir>/cache/<stage>/<fingerprint>.json.
// The file modification time doubles as the access time used by Purge.
type CacheStore struct {
	dir string
}

// NewCacheStore creates the cache directory under workdir if needed.
func NewCacheStore(workdir string) (*CacheStore, error) {
	dir := filepath.Join(workdir, "cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &CacheStore{dir: dir}, nil
}

func (c *CacheStore) Get(ctx context.Context, stage string, fp domain.Fingerprint) (*domain.CacheEntry, error) {
	path, err := c.path(stage, fp)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A torn or foreign file is a miss; the next Put replaces it
		return nil, domain.ErrCacheMiss
	}

	now := time.Now()
	_ = os.Chtimes(path, now, now)
	entry.AccessedAt = now.UTC()
	return &entry, nil
}

func (c *CacheStore) Put(ctx context.Context, entry *domain.CacheEntry) error {
	path, err := c.path(entry.Stage, entry.Fingerprint)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create stage directory: %w", err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return writeFileAtomic(path, data)
}

func (c *CacheStore) Delete(ctx context.Context, stage string, fp domain.Fingerprint) error {
	path, err := c.path(stage, fp)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (c *CacheStore) Count(ctx context.Context) (int, error) {
	files, err := c.files()
	return len(files), err
}

func (c *CacheStore) Purge(ctx context.Context, maxEntries int) (int, error) {
	files, err := c.files()
	if err != nil {
		return 0, err
	}
	if len(files) <= maxEntries {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	evict := len(files) - maxEntries
	removed := 0
	for _, f := range files[:evict] {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("failed to evict cache entry: %w", err)
		}
		removed++
	}
	return removed, nil
}

type cacheFile struct {
	path    string
	modTime time.Time
}

func (c *CacheStore) files() ([]cacheFile, error) {
	var out []cacheFile
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, cacheFile{path: path, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache: %w", err)
	}
	return out, nil
}

func (c *CacheStore) path(stage string, fp domain.Fingerprint) (string, error) {
	if stage == "" || strings.ContainsAny(stage, `/\.`) {
		return "", fmt.Errorf("%w: bad cache stage %q", domain.ErrInvalidInput, stage)
	}
	name := strings.ReplaceAll(fp.String(), ":", "-")
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: bad fingerprint %q", domain.ErrInvalidInput, fp)
	}
	return filepath.Join(c.dir, stage, name+".json"), nil
}
