package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
	"github.com/custodia-labs/speccheck/internal/core/ports/driving"
	"github.com/custodia-labs/speccheck/internal/metrics"
	"github.com/custodia-labs/speccheck/internal/worker"
)

// Verify interface compliance
var _ driving.ComplianceEvaluator = (*ComplianceEvaluator)(nil)

// MaxProposals is the largest number of proposals evaluated together.
const MaxProposals = 4

// ComplianceEvaluator checks proposals against a document's live policies.
type ComplianceEvaluator struct {
	store        driven.MetadataStore
	reasoning    driven.ReasoningService
	evaluation   driven.EvaluationService
	cache        *CacheLayer
	retry        RetryConfig
	maxSizeBytes int64
	pool         *worker.Pool
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// ComplianceEvaluatorConfig holds dependencies for ComplianceEvaluator.
type ComplianceEvaluatorConfig struct {
	Store      driven.MetadataStore
	Reasoning  driven.ReasoningService
	Evaluation driven.EvaluationService
	Cache      *CacheLayer
	Retry      RetryConfig

	// MaxSizeMB bounds each proposal file (default DefaultMaxDocumentSizeMB)
	MaxSizeMB float64

	Concurrency int
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewComplianceEvaluator creates a new evaluator.
func NewComplianceEvaluator(cfg ComplianceEvaluatorConfig) *ComplianceEvaluator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	maxMB := cfg.MaxSizeMB
	if maxMB <= 0 {
		maxMB = DefaultMaxDocumentSizeMB
	}
	return &ComplianceEvaluator{
		store:        cfg.Store,
		reasoning:    cfg.Reasoning,
		evaluation:   cfg.Evaluation,
		cache:        cfg.Cache,
		retry:        retry,
		maxSizeBytes: int64(maxMB * 1024 * 1024),
		pool:         worker.NewPool(worker.PoolConfig{Logger: logger, Concurrency: cfg.Concurrency}),
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// Evaluate returns findings for every live policy of the document.
func (e *ComplianceEvaluator) Evaluate(ctx context.Context, documentID string, proposalPaths []string) (*domain.ResolvedPolicySet, error) {
	startTime := time.Now()
	defer func() { e.metrics.ObserveStage("evaluate-proposal", time.Since(startTime)) }()

	// Bounded input is checked before anything else happens
	if len(proposalPaths) > MaxProposals {
		return nil, &domain.TooManyProposalsError{Count: len(proposalPaths), Max: MaxProposals}
	}
	if len(proposalPaths) == 0 {
		return nil, fmt.Errorf("%w: at least one proposal is required", domain.ErrInvalidInput)
	}

	proposals := make([]domain.Source, 0, len(proposalPaths))
	for _, path := range proposalPaths {
		src, err := ReadSource(path, e.maxSizeBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to read proposal: %w", err)
		}
		proposals = append(proposals, *src)
	}

	logger := e.logger.With("document_id", documentID)

	md, err := e.store.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	// The service is authoritative; policies are always listed live
	var policies []*domain.Policy
	err = withRetry(ctx, e.retry, logger, "list policies", func(ctx context.Context) error {
		var err error
		policies, err = e.reasoning.ListPolicies(ctx, documentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	e.comparePolicyCount(ctx, documentID, len(policies))

	bySection, dropped := e.groupPolicies(md, policies)

	var evaluable []*domain.Policy
	for _, s := range md.Sections() {
		for _, p := range bySection[s.ID] {
			if len(p.BindableVariables()) == 0 {
				logger.Debug("skipping policy without variables", "policy_id", p.ID)
				continue
			}
			evaluable = append(evaluable, p)
		}
	}
	logger.Info("evaluating proposals",
		"proposals", len(proposals),
		"policies", len(evaluable),
		"dropped", dropped,
	)

	var mu sync.Mutex
	findings := make(map[string]domain.PolicyFinding, len(evaluable))
	tasks := make([]worker.Task, 0, len(evaluable))
	for _, p := range evaluable {
		policy := p
		tasks = append(tasks, worker.Task{
			Name: policy.ID,
			Run: func(ctx context.Context) error {
				f := e.evaluatePolicy(ctx, policy, proposals)
				mu.Lock()
				findings[policy.ID] = f
				mu.Unlock()
				return nil
			},
		})
	}
	for _, r := range e.pool.Run(ctx, tasks) {
		if r.Err != nil {
			// Only cancellation reaches here
			return nil, r.Err
		}
	}

	set := &domain.ResolvedPolicySet{
		DocumentID:  documentID,
		Title:       md.Title,
		GeneratedAt: time.Now().UTC(),
		Chapters:    make([]domain.ChapterFindings, 0, len(md.Chapters)),
	}
	for _, src := range proposals {
		set.Proposals = append(set.Proposals, src.Name)
	}
	for _, ch := range md.Chapters {
		cf := domain.ChapterFindings{Number: ch.Number, Title: ch.Title, Sections: make([]domain.SectionFindings, 0, len(ch.Sections))}
		for _, s := range ch.Sections {
			sf := sectionFindings(s, bySection[s.ID])
			for _, p := range bySection[s.ID] {
				if f, ok := findings[p.ID]; ok {
					sf.Policies = append(sf.Policies, f)
				}
			}
			cf.Sections = append(cf.Sections, sf)
		}
		set.Chapters = append(set.Chapters, cf)
	}
	set.Summarize(dropped)

	stats := e.pool.Stats()
	logger.Info("evaluation finished",
		"policies", set.Summary.Policies,
		"tasks_done", stats.Done,
		"sections_absent", set.Summary.SectionsAbsent,
		"sections_pending", set.Summary.SectionsPending,
		"duration", time.Since(startTime),
	)
	return set, nil
}

// evaluatePolicy never fails; service errors become INDETERMINATE findings.
func (e *ComplianceEvaluator) evaluatePolicy(ctx context.Context, policy *domain.Policy, proposals []domain.Source) domain.PolicyFinding {
	logger := e.logger.With("policy_id", policy.ID)
	vars := policy.BindableVariables()

	perProposal := make([][]domain.Binding, 0, len(proposals))
	var extractErrs []error
	for _, src := range proposals {
		bindings, err := e.extract(ctx, src, policy)
		if err != nil {
			logger.Warn("variable extraction failed", "proposal", src.Name, "error", err)
			extractErrs = append(extractErrs, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}
		perProposal = append(perProposal, bindings)
	}
	merged := domain.MergeBindings(vars, perProposal...)

	var ev domain.Evaluation
	switch {
	case !domain.AnyBound(merged):
		ev = domain.Evaluation{Verdict: domain.VerdictIndeterminate, Commentary: "no variable of this policy is stated in the proposals"}
		if len(extractErrs) > 0 {
			ev.Commentary = "variable extraction failed: " + errors.Join(extractErrs...).Error()
		}
	default:
		result, err := e.evaluate(ctx, policy, merged)
		switch {
		case err != nil:
			logger.Warn("evaluation failed", "error", err)
			ev = domain.Evaluation{Verdict: domain.VerdictIndeterminate, Commentary: "evaluation failed: " + err.Error()}
		case !result.Verdict.Valid():
			ev = *result
			ev.Commentary = fmt.Sprintf("unrecognised verdict %q", result.Verdict)
			ev.Verdict = domain.VerdictIndeterminate
		default:
			ev = *result
		}
	}

	e.metrics.RecordVerdict(string(ev.Verdict))
	return domain.NewPolicyFinding(policy, merged, ev)
}

// extract returns the bindings of one proposal, memoised per proposal content
// and policy variable schema.
func (e *ComplianceEvaluator) extract(ctx context.Context, src domain.Source, policy *domain.Policy) ([]domain.Binding, error) {
	key := domain.FingerprintParts(src.Fingerprint.String(), policy.SchemaFingerprint().String())
	bindings, _, err := CachedJSON(ctx, e.cache, domain.StageVariableBindings.Name, key, func(ctx context.Context) ([]domain.Binding, error) {
		var out []domain.Binding
		err := withRetry(ctx, e.retry, e.logger, "extract variables", func(ctx context.Context) error {
			var err error
			out, err = e.evaluation.ExtractVariables(ctx, src, policy)
			return err
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}
	// The same content may have been cached under another file name
	for i := range bindings {
		bindings[i].Source = src.Name
	}
	return bindings, nil
}

func (e *ComplianceEvaluator) evaluate(ctx context.Context, policy *domain.Policy, bindings []domain.Binding) (*domain.Evaluation, error) {
	premises := make([]domain.Binding, 0, len(bindings))
	for _, b := range bindings {
		if b.Bound() {
			premises = append(premises, b)
		}
	}
	var result *domain.Evaluation
	err := withRetry(ctx, e.retry, e.logger, "evaluate", func(ctx context.Context) error {
		var err error
		result, err = e.evaluation.Evaluate(ctx, policy, premises)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// groupPolicies keys policies by section and drops any that cannot be traced
// back to a known section of this document.
func (e *ComplianceEvaluator) groupPolicies(md *domain.DocumentMetadata, policies []*domain.Policy) (map[string][]*domain.Policy, int) {
	bySection := make(map[string][]*domain.Policy)
	dropped := 0
	for _, p := range policies {
		label, err := p.Label()
		if err != nil {
			e.logger.Warn("dropping policy with invalid label", "policy_id", p.ID, "error", err)
			dropped++
			continue
		}
		if label.DocumentID != md.DocumentID {
			e.logger.Warn("dropping policy of another document", "policy_id", p.ID, "label", label.String())
			dropped++
			continue
		}
		section := md.Section(label.SectionID)
		if section == nil || section.ChapterNumber != label.ChapterNumber {
			e.logger.Warn("dropping policy of unknown section", "policy_id", p.ID, "label", label.String())
			dropped++
			continue
		}
		bySection[label.SectionID] = append(bySection[label.SectionID], p)
	}
	for id := range bySection {
		ps := bySection[id]
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	}
	return bySection, dropped
}

// comparePolicyCount logs drift between the cached and live policy counts.
func (e *ComplianceEvaluator) comparePolicyCount(ctx context.Context, documentID string, live int) {
	key := domain.FingerprintString(documentID)
	raw, err := e.cache.Get(ctx, domain.StagePolicyCount.Name, key)
	if err == nil {
		if cached, convErr := strconv.Atoi(string(raw)); convErr == nil && cached != live {
			e.logger.Info("policy count changed since last evaluation",
				"document_id", documentID,
				"previous", cached,
				"current", live,
			)
		}
	}
	if err := e.cache.Put(ctx, domain.StagePolicyCount.Name, key, []byte(strconv.Itoa(live))); err != nil {
		e.logger.Warn("failed to store policy count", "document_id", documentID, "error", err)
	}
}

func sectionFindings(s domain.SectionStatus, live []*domain.Policy) domain.SectionFindings {
	sf := domain.SectionFindings{ID: s.ID, Title: s.Title, Policies: []domain.PolicyFinding{}}
	switch {
	case s.Processed && len(s.PolicyIDs) == 0:
		sf.Status = domain.SectionReportProcessed
		sf.Note = "no policies were derived from this section"
	case s.Processed && len(live) == 0:
		sf.Status = domain.SectionReportAbsent
		sf.Note = "policies recorded for this section no longer exist at the reasoning service"
	case s.Processed:
		sf.Status = domain.SectionReportProcessed
	case s.LastError != "":
		sf.Status = domain.SectionReportFailed
		sf.Note = s.LastError
	default:
		sf.Status = domain.SectionReportPending
		if s.PendingJobID != "" {
			sf.Note = "policy build job " + s.PendingJobID + " still running"
		}
	}
	return sf
}
