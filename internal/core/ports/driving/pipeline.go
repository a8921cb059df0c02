package driving

import (
	"context"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// DocumentService opens source documents and binds them to their metadata
type DocumentService interface {
	// Open validates the file and finds or creates its metadata record
	Open(ctx context.Context, path string) (*domain.OpenedDocument, error)

	// Status returns the stored metadata for a source file without reading it
	Status(ctx context.Context, path string) (*domain.DocumentMetadata, error)
}

// SectionExtractor turns a source document into persisted chapters and sections
type SectionExtractor interface {
	// Extract transcribes and partitions the document, reusing prior work
	Extract(ctx context.Context, doc *domain.OpenedDocument, opts domain.ExtractOptions) (*domain.ExtractionResult, error)

	// SectionText returns the stored markdown of a section
	SectionText(ctx context.Context, section domain.SectionStatus) (string, error)
}

// PolicyBuilder creates policies at the reasoning service for every unprocessed section
type PolicyBuilder interface {
	// BuildPolicies submits, polls and records builds for the document's sections
	BuildPolicies(ctx context.Context, documentID string, opts domain.BuildOptions) (*domain.BuildReport, error)
}

// ComplianceEvaluator checks proposal documents against a document's policies
type ComplianceEvaluator interface {
	// Evaluate returns findings for every policy of the document
	Evaluate(ctx context.Context, documentID string, proposalPaths []string) (*domain.ResolvedPolicySet, error)
}
