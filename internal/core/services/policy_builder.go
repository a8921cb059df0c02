package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
	"github.com/custodia-labs/speccheck/internal/core/ports/driving"
	"github.com/custodia-labs/speccheck/internal/metrics"
	"github.com/custodia-labs/speccheck/internal/worker"
)

// Verify interface compliance
var _ driving.PolicyBuilder = (*PolicyBuildOrchestrator)(nil)

// PolicyBuildOrchestrator drives the reasoning service until every section
// has policies. It implements the build flow:
//  1. Take the document lock
//  2. Apply force resets
//  3. Delete stale policies
//  4. For each unprocessed section: re-poll the recorded job or submit a new one
//  5. On success tag the policies and mark the section processed
//
// A section is submitted at most once per run, and a recorded pending job is
// always re-polled instead of resubmitted.
type PolicyBuildOrchestrator struct {
	store     driven.MetadataStore
	reasoning driven.ReasoningService
	texts     driving.SectionExtractor
	lock      documentLock
	poller    *Poller
	retry     RetryConfig
	pool      *worker.Pool
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// PolicyBuildConfig holds dependencies for PolicyBuildOrchestrator.
type PolicyBuildConfig struct {
	Store     driven.MetadataStore
	Reasoning driven.ReasoningService
	Texts     driving.SectionExtractor

	// Lock is optional; without it concurrent runs on one document are not prevented
	Lock    driven.DistributedLock
	LockTTL time.Duration

	Poller      *Poller
	Retry       RetryConfig
	Concurrency int
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewPolicyBuildOrchestrator creates a new orchestrator.
func NewPolicyBuildOrchestrator(cfg PolicyBuildConfig) *PolicyBuildOrchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	poller := cfg.Poller
	if poller == nil {
		poller = NewPoller(PollerConfig{Service: cfg.Reasoning, Metrics: cfg.Metrics, Logger: logger})
	}

	return &PolicyBuildOrchestrator{
		store:     cfg.Store,
		reasoning: cfg.Reasoning,
		texts:     cfg.Texts,
		lock:      newDocumentLock(cfg.Lock, cfg.LockTTL, logger),
		poller:    poller,
		retry:     retry,
		pool:      worker.NewPool(worker.PoolConfig{Logger: logger, Concurrency: cfg.Concurrency}),
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// BuildPolicies creates policies for every unprocessed section of a document.
// Per-section failures are reported in the BuildReport; the returned error is
// reserved for failures that stop the whole run.
func (o *PolicyBuildOrchestrator) BuildPolicies(ctx context.Context, documentID string, opts domain.BuildOptions) (*domain.BuildReport, error) {
	startTime := time.Now()
	defer func() { o.metrics.ObserveStage("create-policies", time.Since(startTime)) }()

	logger := o.logger.With("document_id", documentID)
	logger.Info("starting policy build", "force", opts.Force, "sections", opts.Sections)

	// Step 1: Lock the document
	release, err := o.lock.acquire(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer release()

	md, err := o.store.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	if !md.HasStructure() {
		return nil, fmt.Errorf("%w: document %s has no extracted sections, run extract-sections first", domain.ErrInvalidInput, documentID)
	}
	for _, id := range opts.Sections {
		if md.Section(id) == nil {
			return nil, fmt.Errorf("%w: unknown section %s", domain.ErrInvalidInput, id)
		}
	}

	// Step 2: Force resets
	if opts.Force {
		md, err = o.store.Update(ctx, documentID, func(current *domain.DocumentMetadata) error {
			for _, s := range selectSections(current, opts.Sections) {
				if err := current.ResetSection(s.ID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to reset sections: %w", err)
		}
		logger.Info("sections reset", "stale_policies", len(md.StalePolicyIDs))
	}

	report := &domain.BuildReport{DocumentID: documentID}

	// Step 3: Delete stale policies
	md, report.StaleDeleted, err = o.deleteStale(ctx, md)
	if err != nil {
		return nil, err
	}
	report.StaleRemaining = len(md.StalePolicyIDs)

	// Step 4: Build unprocessed sections
	targets := selectSections(md, opts.Sections)
	var tasks []worker.Task
	outcomes := make(map[string]*domain.SectionOutcome, len(targets))
	for _, s := range targets {
		outcome := &domain.SectionOutcome{SectionID: s.ID}
		outcomes[s.ID] = outcome
		if s.Processed {
			outcome.Skipped = true
			outcome.Processed = true
			outcome.PolicyIDs = s.PolicyIDs
			continue
		}
		section := s
		tasks = append(tasks, worker.Task{
			Name: section.ID,
			Run: func(ctx context.Context) error {
				ids, err := o.buildSection(ctx, documentID, section)
				outcome.PolicyIDs = ids
				outcome.Processed = err == nil
				return err
			},
		})
	}

	for _, r := range o.pool.Run(ctx, tasks) {
		outcomes[r.Name].Err = r.Err
		if r.Err != nil && outcomes[r.Name].Processed {
			outcomes[r.Name].Processed = false
		}
	}
	for _, s := range targets {
		report.Outcomes = append(report.Outcomes, *outcomes[s.ID])
	}

	// Step 5: Report chapter progress
	final, err := o.store.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload metadata: %w", err)
	}
	report.Chapters = ChapterProgressOf(final)
	for _, ch := range report.Chapters {
		if ch.Complete {
			logger.Info("chapter policies complete", "chapter", ch.Number, "sections", ch.Total)
		}
	}

	report.Duration = time.Since(startTime)
	stats := o.pool.Stats()
	logger.Info("policy build finished",
		"built", report.ProcessedCount(),
		"failed", len(report.Failed()),
		"stale_deleted", report.StaleDeleted,
		"tasks_done", stats.Done,
		"tasks_failed", stats.Failed,
		"duration", report.Duration,
	)
	return report, nil
}

// buildSection runs one section through submit, poll and record.
func (o *PolicyBuildOrchestrator) buildSection(ctx context.Context, documentID string, section domain.SectionStatus) ([]string, error) {
	logger := o.logger.With("document_id", documentID, "section_id", section.ID)

	label, err := domain.NewPolicyLabel(documentID, section.ChapterNumber, section.ID)
	if err != nil {
		return nil, err
	}

	jobID := section.PendingJobID
	if jobID != "" {
		logger.Info("resuming pending build job", "job_id", jobID)
	} else {
		jobID, err = o.submit(ctx, documentID, section, label)
		if err != nil {
			o.metrics.RecordBuildOutcome("submit_error")
			return nil, err
		}
		logger.Info("build job submitted", "job_id", jobID)
	}

	job, err := o.poller.Wait(ctx, section.ID, jobID)
	if err != nil {
		var timeoutErr *domain.TimeoutError
		var svcErr *domain.ExternalServiceError
		switch {
		case errors.As(err, &timeoutErr):
			o.metrics.RecordBuildOutcome("timeout")
			logger.Warn("build job still running, will re-poll on next run", "job_id", jobID, "waited", timeoutErr.Waited)
			return nil, err
		case errors.As(err, &svcErr) && svcErr.StatusCode == http.StatusNotFound:
			// The service no longer knows the job; a later run has to resubmit
			reason := "build job no longer known to the service"
			o.recordFailure(ctx, documentID, section.ID, reason)
			o.metrics.RecordBuildOutcome("failed")
			return nil, &domain.JobFailedError{SectionID: section.ID, JobID: jobID, Reason: reason}
		default:
			o.metrics.RecordBuildOutcome("poll_error")
			return nil, fmt.Errorf("failed to poll build job %s: %w", jobID, err)
		}
	}

	if job.Status == domain.JobStatusFailed {
		reason := job.Error
		if reason == "" {
			reason = "build failed"
		}
		o.recordFailure(ctx, documentID, section.ID, reason)
		o.metrics.RecordBuildOutcome("failed")
		logger.Warn("build job failed", "job_id", jobID, "reason", reason)
		return nil, &domain.JobFailedError{SectionID: section.ID, JobID: jobID, Reason: reason}
	}

	// Tag before recording so a processed section always has labelled policies
	for _, policyID := range job.PolicyIDs {
		policyID := policyID
		err := withRetry(ctx, o.retry, logger, "tag policy", func(ctx context.Context) error {
			return o.reasoning.TagPolicy(ctx, policyID, label)
		})
		if err != nil {
			o.metrics.RecordBuildOutcome("tag_error")
			return nil, fmt.Errorf("failed to tag policy %s: %w", policyID, err)
		}
	}

	_, err = o.store.Update(ctx, documentID, func(md *domain.DocumentMetadata) error {
		s := md.Section(section.ID)
		if s == nil {
			return fmt.Errorf("section %s: %w", section.ID, domain.ErrNotFound)
		}
		s.MarkProcessed(job.PolicyIDs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record processed section: %w", err)
	}

	o.metrics.RecordBuildOutcome("processed")
	logger.Info("section processed", "policies", len(job.PolicyIDs))
	return job.PolicyIDs, nil
}

// submit creates the build job and records its id before anything else happens.
func (o *PolicyBuildOrchestrator) submit(ctx context.Context, documentID string, section domain.SectionStatus, label domain.PolicyLabel) (string, error) {
	text, err := o.texts.SectionText(ctx, section)
	if err != nil {
		return "", err
	}

	draft := domain.PolicyDraft{Label: label, Title: section.Title, Markdown: text}
	var jobID string
	err = withRetry(ctx, o.retry, o.logger, "create policy", func(ctx context.Context) error {
		var err error
		jobID, err = o.reasoning.CreatePolicy(ctx, draft)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit section %s: %w", section.ID, err)
	}
	o.metrics.RecordSubmission()

	_, err = o.store.Update(ctx, documentID, func(md *domain.DocumentMetadata) error {
		s := md.Section(section.ID)
		if s == nil {
			return fmt.Errorf("section %s: %w", section.ID, domain.ErrNotFound)
		}
		s.MarkSubmitted(jobID)
		return nil
	})
	if err != nil {
		o.logger.Error("build job submitted but not recorded",
			"section_id", section.ID,
			"job_id", jobID,
			"error", err,
		)
		return "", fmt.Errorf("failed to record build job %s: %w", jobID, err)
	}
	return jobID, nil
}

func (o *PolicyBuildOrchestrator) recordFailure(ctx context.Context, documentID, sectionID, reason string) {
	_, err := o.store.Update(ctx, documentID, func(md *domain.DocumentMetadata) error {
		s := md.Section(sectionID)
		if s == nil {
			return fmt.Errorf("section %s: %w", sectionID, domain.ErrNotFound)
		}
		s.MarkFailed(reason)
		return nil
	})
	if err != nil {
		o.logger.Error("failed to record build failure", "section_id", sectionID, "error", err)
	}
}

// deleteStale removes queued policies from the service. Failures are kept for
// the next run.
func (o *PolicyBuildOrchestrator) deleteStale(ctx context.Context, md *domain.DocumentMetadata) (*domain.DocumentMetadata, int, error) {
	if len(md.StalePolicyIDs) == 0 {
		return md, 0, nil
	}

	var deleted []string
	for _, policyID := range md.StalePolicyIDs {
		policyID := policyID
		err := withRetry(ctx, o.retry, o.logger, "delete policy", func(ctx context.Context) error {
			return o.reasoning.DeletePolicy(ctx, policyID)
		})
		if err != nil {
			o.logger.Warn("failed to delete stale policy", "policy_id", policyID, "error", err)
			continue
		}
		deleted = append(deleted, policyID)
	}
	if len(deleted) == 0 {
		return md, 0, nil
	}

	updated, err := o.store.Update(ctx, md.DocumentID, func(current *domain.DocumentMetadata) error {
		current.RemoveStalePolicies(deleted)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to record deleted policies: %w", err)
	}
	o.metrics.RecordStaleDeleted(len(deleted))
	o.logger.Info("stale policies deleted", "document_id", md.DocumentID, "deleted", len(deleted), "remaining", len(updated.StalePolicyIDs))
	return updated, len(deleted), nil
}

// selectSections returns sections in document order, limited to ids when given.
func selectSections(md *domain.DocumentMetadata, ids []string) []domain.SectionStatus {
	all := md.Sections()
	if len(ids) == 0 {
		return all
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []domain.SectionStatus
	for _, s := range all {
		if _, ok := want[s.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}

// ChapterProgressOf summarises per-chapter build progress.
func ChapterProgressOf(md *domain.DocumentMetadata) []domain.ChapterProgress {
	out := make([]domain.ChapterProgress, 0, len(md.Chapters))
	for i := range md.Chapters {
		ch := &md.Chapters[i]
		p := domain.ChapterProgress{Number: ch.Number, Title: ch.Title, Total: len(ch.Sections), Complete: ch.ChapterComplete()}
		for _, s := range ch.Sections {
			if s.Processed {
				p.Processed++
			}
		}
		out = append(out, p)
	}
	return out
}
