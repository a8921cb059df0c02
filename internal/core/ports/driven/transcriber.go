package driven

import (
	"context"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// Transcriber converts a source document into a markdown transcript split by chapter.
type Transcriber interface {
	// Transcribe returns the transcript of src.
	// Failures are reported as *domain.TranscriptionError.
	Transcribe(ctx context.Context, src domain.Source) (*domain.Transcript, error)

	// Name identifies the transcriber in logs and cache keys.
	Name() string

	// SupportedTypes returns MIME types this transcriber handles.
	// Can include wildcards like "text/*".
	SupportedTypes() []string

	// Priority returns the transcriber priority (higher = more specific).
	//   50-100: Format-specific (markdown, yaml)
	//   1-9:    Fallback (remote transcription service)
	Priority() int
}

// TranscriberRegistry selects a transcriber by MIME type.
type TranscriberRegistry interface {
	// Get retrieves the best-matching transcriber, or nil.
	Get(mimeType string) Transcriber

	// Register registers a transcriber.
	Register(t Transcriber)

	// List returns all registered MIME types.
	List() []string
}

// Sectioner transforms the sections of one chapter.
// Sectioners form a pipeline: heading split -> merge small -> split large.
type Sectioner interface {
	// Process transforms the section drafts of a chapter.
	Process(drafts []SectionDraft) []SectionDraft

	// Name returns the sectioner name for logging.
	Name() string

	// Order returns the position in the pipeline (lower = earlier).
	Order() int
}

// SectionDraft is a section before identifiers are assigned.
type SectionDraft struct {
	Title    string
	Markdown string
}

// SectionerPipeline partitions a chapter into sections.
type SectionerPipeline interface {
	// Partition splits a chapter into ordered sections with ids ch{N}_sec{M}.
	Partition(chapter domain.TranscriptChapter) []domain.Section

	// Add adds a sectioner to the pipeline.
	Add(s Sectioner)

	// List returns sectioner names in order.
	List() []string

	// Version identifies the pipeline configuration for cache keys.
	Version() string
}
