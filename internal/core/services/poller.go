package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
	"github.com/custodia-labs/speccheck/internal/metrics"
)

// Poller waits for policy build jobs to reach a terminal state.
type Poller struct {
	service      driven.ReasoningService
	backoff      domain.Backoff
	maxWait      time.Duration
	maxTransient int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// PollerConfig holds dependencies for Poller.
type PollerConfig struct {
	Service driven.ReasoningService

	// Backoff between polls (default 2s doubling up to 1m)
	Backoff domain.Backoff

	// MaxWait bounds the total wait for one job (default 30m)
	MaxWait time.Duration

	// MaxTransientErrors is how many consecutive transient poll failures are tolerated
	MaxTransientErrors int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewPoller creates a new poller.
func NewPoller(cfg PollerConfig) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff
	if backoff.Initial <= 0 {
		backoff = domain.Backoff{Initial: 2 * time.Second, Max: time.Minute}
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 30 * time.Minute
	}
	maxTransient := cfg.MaxTransientErrors
	if maxTransient <= 0 {
		maxTransient = 5
	}
	return &Poller{
		service:      cfg.Service,
		backoff:      backoff,
		maxWait:      maxWait,
		maxTransient: maxTransient,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// Wait polls jobID until it succeeds or fails. It returns *domain.TimeoutError
// when MaxWait elapses first, and the last error once transient failures
// exceed the tolerated count.
func (p *Poller) Wait(ctx context.Context, sectionID, jobID string) (*domain.PolicyBuildJob, error) {
	startTime := time.Now()
	deadline := startTime.Add(p.maxWait)
	logger := p.logger.With("section_id", sectionID, "job_id", jobID)

	tracker := &domain.PolicyBuildJob{JobID: jobID, SectionID: sectionID}
	transientFailures := 0

	for {
		p.metrics.RecordPoll()
		job, err := p.service.GetBuildJob(ctx, jobID)
		switch {
		case err != nil:
			if !domain.IsTransient(err) {
				return nil, err
			}
			transientFailures++
			if transientFailures > p.maxTransient {
				return nil, err
			}
			logger.Warn("transient poll failure", "consecutive_failures", transientFailures, "error", err)
		case job.Status.IsTerminal():
			logger.Debug("build job finished", "status", job.Status, "polls", tracker.Attempts+1)
			return job, nil
		default:
			transientFailures = 0
			tracker.Status = job.Status
		}

		delay := tracker.ScheduleNextPoll(p.backoff)
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &domain.TimeoutError{SectionID: sectionID, JobID: jobID, Waited: time.Since(startTime).Round(time.Millisecond)}
		}
		if delay > remaining {
			delay = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
