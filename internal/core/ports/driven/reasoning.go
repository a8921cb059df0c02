package driven

import (
	"context"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// ReasoningService is the external authority that builds and stores policies.
// Errors are reported as *domain.ExternalServiceError so callers can tell
// transient failures from permanent ones.
type ReasoningService interface {
	// CreatePolicy submits a section for policy building and returns the build job ID.
	CreatePolicy(ctx context.Context, draft domain.PolicyDraft) (jobID string, err error)

	// GetBuildJob returns the current state of a build job.
	GetBuildJob(ctx context.Context, jobID string) (*domain.PolicyBuildJob, error)

	// TagPolicy attaches the label to a policy.
	TagPolicy(ctx context.Context, policyID string, label domain.PolicyLabel) error

	// ListPolicies returns every policy tagged with the document ID.
	ListPolicies(ctx context.Context, documentID string) ([]*domain.Policy, error)

	// DeletePolicy removes a policy. Deleting a missing policy succeeds.
	DeletePolicy(ctx context.Context, policyID string) error
}

// EvaluationService extracts variable values from proposals and checks them
// against a policy.
type EvaluationService interface {
	// ExtractVariables returns one binding per requested variable; Value is nil
	// when the proposal does not state it.
	ExtractVariables(ctx context.Context, proposal domain.Source, policy *domain.Policy) ([]domain.Binding, error)

	// Evaluate checks bound premises against the policy.
	Evaluate(ctx context.Context, policy *domain.Policy, bindings []domain.Binding) (*domain.Evaluation, error)
}

// ReportWriter renders a ResolvedPolicySet to a file.
type ReportWriter interface {
	// Write renders set to path. The format is chosen from the path extension.
	Write(ctx context.Context, set *domain.ResolvedPolicySet, path string) error
}
