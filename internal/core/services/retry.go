package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// RetryConfig bounds retries of transient external failures.
type RetryConfig struct {
	MaxAttempts int
	Backoff     domain.Backoff
}

// DefaultRetryConfig returns 4 attempts starting at 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		Backoff:     domain.Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second},
	}
}

// withRetry runs fn until it succeeds, fails permanently, or the attempts run out.
// Only errors for which domain.IsTransient is true are retried.
func withRetry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !domain.IsTransient(err) || attempt == attempts-1 {
			return err
		}

		delay := cfg.Backoff.Delay(attempt)
		logger.Warn("transient failure, retrying",
			"operation", op,
			"attempt", attempt+1,
			"max_attempts", attempts,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
