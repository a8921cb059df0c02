package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
	"github.com/custodia-labs/speccheck/internal/metrics"
)

// CacheLayer memoises stage outputs keyed by (stage, input fingerprint).
// An entry is a hit only if it was written by the stage's current version, so
// bumping a version forces exactly one recompute per key.
type CacheLayer struct {
	store      driven.CacheStore
	metrics    *metrics.Metrics
	logger     *slog.Logger
	maxEntries int

	mu     sync.RWMutex
	stages map[string]domain.Stage

	flights singleflight.Group
}

// CacheLayerConfig holds dependencies for CacheLayer.
type CacheLayerConfig struct {
	Store driven.CacheStore

	// Stages registers extra stages or overrides the versions of built-in ones
	Stages []domain.Stage

	// MaxEntries bounds the store when Purge runs (0 = unbounded)
	MaxEntries int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewCacheLayer creates a cache layer with the built-in stages registered.
func NewCacheLayer(cfg CacheLayerConfig) *CacheLayer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &CacheLayer{
		store:      cfg.Store,
		metrics:    cfg.Metrics,
		logger:     logger,
		maxEntries: cfg.MaxEntries,
		stages:     make(map[string]domain.Stage),
	}
	for _, s := range []domain.Stage{
		domain.StageTranscription,
		domain.StageSections,
		domain.StageSectionText,
		domain.StageVariableBindings,
		domain.StagePolicyCount,
	} {
		c.RegisterStage(s)
	}
	for _, s := range cfg.Stages {
		c.RegisterStage(s)
	}
	return c
}

// RegisterStage adds a stage or replaces its version.
func (c *CacheLayer) RegisterStage(s domain.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages[s.Name] = s
}

// Stage returns the registered stage for a name.
func (c *CacheLayer) Stage(name string) (domain.Stage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stages[name]
	if !ok {
		return domain.Stage{}, fmt.Errorf("%w: unknown cache stage %q", domain.ErrInvalidInput, name)
	}
	return s, nil
}

// Get returns the artifact for (stage, fp), or domain.ErrCacheMiss if it is
// absent or was written by another stage version.
func (c *CacheLayer) Get(ctx context.Context, stageName string, fp domain.Fingerprint) ([]byte, error) {
	stage, err := c.Stage(stageName)
	if err != nil {
		return nil, err
	}

	entry, err := c.store.Get(ctx, stage.Name, fp)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			c.metrics.RecordCacheMiss(stage.Name)
			return nil, domain.ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	if !entry.Matches(stage) {
		c.metrics.RecordCacheMiss(stage.Name)
		c.logger.Debug("cache entry version mismatch",
			"stage", stage.Name,
			"fingerprint", fp.Short(),
			"stored_version", entry.StageVersion,
			"current_version", stage.Version,
		)
		return nil, domain.ErrCacheMiss
	}

	c.metrics.RecordCacheHit(stage.Name)
	return entry.Value, nil
}

// Put stores an artifact under the stage's current version.
func (c *CacheLayer) Put(ctx context.Context, stageName string, fp domain.Fingerprint, value []byte) error {
	stage, err := c.Stage(stageName)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry := &domain.CacheEntry{
		Stage:        stage.Name,
		Fingerprint:  fp,
		StageVersion: stage.Version,
		Value:        value,
		CreatedAt:    now,
		AccessedAt:   now,
	}
	if err := c.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// GetOrCompute returns the cached artifact or produces, stores and returns it.
// Concurrent callers for the same key share one compute. The second return
// value reports whether the value came from the cache.
func (c *CacheLayer) GetOrCompute(ctx context.Context, stageName string, fp domain.Fingerprint,
	compute func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {

	value, err := c.Get(ctx, stageName, fp)
	if err == nil {
		return value, true, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		return nil, false, err
	}

	return c.computeShared(ctx, stageName, fp, true, compute)
}

// Recompute ignores any cached artifact, produces a new one and stores it.
func (c *CacheLayer) Recompute(ctx context.Context, stageName string, fp domain.Fingerprint,
	compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {

	value, _, err := c.computeShared(ctx, stageName, fp, false, compute)
	return value, err
}

type flightResult struct {
	value  []byte
	cached bool
}

// computeShared runs compute once per key across concurrent callers. With
// reuse set, the store is read again inside the flight so a caller that
// missed just before another flight stored the artifact does not compute it
// a second time.
func (c *CacheLayer) computeShared(ctx context.Context, stageName string, fp domain.Fingerprint, reuse bool,
	compute func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {

	stage, err := c.Stage(stageName)
	if err != nil {
		return nil, false, err
	}

	key := stage.Name + "|" + stage.Version + "|" + fp.String()
	if !reuse {
		// a forced recompute must not join a flight that returns the stored artifact
		key = "recompute|" + key
	}
	v, err, _ := c.flights.Do(key, func() (interface{}, error) {
		if reuse {
			if entry, err := c.store.Get(ctx, stage.Name, fp); err == nil && entry.Matches(stage) {
				c.metrics.RecordCacheHit(stage.Name)
				return flightResult{value: entry.Value, cached: true}, nil
			}
		}

		c.metrics.RecordCompute(stage.Name)
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(ctx, stage.Name, fp, value); err != nil {
			// The artifact is still usable for this run
			c.logger.Warn("failed to store computed artifact",
				"stage", stage.Name,
				"fingerprint", fp.Short(),
				"error", err,
			)
		}
		return flightResult{value: value}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(flightResult)
	return r.value, r.cached, nil
}

// Invalidate removes the artifact for (stage, fp).
func (c *CacheLayer) Invalidate(ctx context.Context, stageName string, fp domain.Fingerprint) error {
	stage, err := c.Stage(stageName)
	if err != nil {
		return err
	}
	if err := c.store.Delete(ctx, stage.Name, fp); err != nil {
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	return nil
}

// Purge evicts least recently accessed entries down to the configured bound.
func (c *CacheLayer) Purge(ctx context.Context) (int, error) {
	if c.maxEntries <= 0 {
		return 0, nil
	}
	evicted, err := c.store.Purge(ctx, c.maxEntries)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	if evicted > 0 {
		c.logger.Info("cache purged", "evicted", evicted, "max_entries", c.maxEntries)
	}
	return evicted, nil
}

// CachedJSON is GetOrCompute for JSON-serialisable artifacts.
func CachedJSON[T any](ctx context.Context, c *CacheLayer, stage string, fp domain.Fingerprint,
	compute func(ctx context.Context) (T, error)) (T, bool, error) {

	var out T
	raw, hit, err := c.GetOrCompute(ctx, stage, fp, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		if !hit {
			return out, false, fmt.Errorf("failed to decode %s artifact: %w", stage, err)
		}
		// Unreadable entry: treat as a miss and rebuild it
		c.logger.Warn("discarding unreadable cache entry", "stage", stage, "fingerprint", fp.Short(), "error", err)
		raw, err = c.Recompute(ctx, stage, fp, func(ctx context.Context) ([]byte, error) {
			v, err := compute(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(v)
		})
		if err != nil {
			return out, false, err
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, false, fmt.Errorf("failed to decode %s artifact: %w", stage, err)
		}
		return out, false, nil
	}
	return out, hit, nil
}
