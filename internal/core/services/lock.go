package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

const defaultLockTTL = 2 * time.Hour

// LockName returns the lock guarding a document's stage runs.
func LockName(documentID string) string {
	return "speccheck:document:" + documentID
}

// documentLock takes the per-document lock for every stage that writes
// metadata. A nil lock disables locking.
type documentLock struct {
	lock   driven.DistributedLock
	ttl    time.Duration
	logger *slog.Logger
}

func newDocumentLock(lock driven.DistributedLock, ttl time.Duration, logger *slog.Logger) documentLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return documentLock{lock: lock, ttl: ttl, logger: logger}
}

// acquire takes the lock and extends it every ttl/2 until the returned
// release func is called. ErrLockHeld means another process holds it.
func (l documentLock) acquire(ctx context.Context, documentID string) (func(), error) {
	if l.lock == nil {
		return func() {}, nil
	}
	name := LockName(documentID)
	acquired, err := l.lock.Acquire(ctx, name, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire document lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, documentID)
	}

	hbCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := l.lock.Extend(hbCtx, name, l.ttl); err != nil {
					l.logger.Warn("failed to extend document lock", "document_id", documentID, "error", err)
				}
			}
		}
	}()

	return func() {
		stop()
		<-done
		// Release with a fresh context so cancellation still frees the lock
		if err := l.lock.Release(context.Background(), name); err != nil {
			l.logger.Warn("failed to release document lock", "document_id", documentID, "error", err)
		}
	}, nil
}
