package domain

import "time"

// OpenedDocument is a validated source file together with its metadata record
type OpenedDocument struct {
	Source   Source
	Metadata *DocumentMetadata

	// Created is true when the record was created by this open
	Created bool

	// FingerprintChanged is true when the stored fingerprint differs from the file
	FingerprintChanged bool
}

// ExtractOptions controls section extraction
type ExtractOptions struct {
	// Force re-extracts even when the stored structure matches the source
	Force bool
}

// ExtractionResult summarises an extraction run
type ExtractionResult struct {
	DocumentID string
	Reused     bool
	Chapters   int
	Sections   int

	// Carried counts sections whose processed state survived a source change
	Carried int

	// Reset counts processed sections invalidated by a source change
	Reset int
}

// BuildOptions controls a policy build run
type BuildOptions struct {
	// Force resets the named sections (or all when empty) before building
	Force bool

	// Sections limits the run to these section IDs
	Sections []string
}

// SectionOutcome is the result of building one section
type SectionOutcome struct {
	SectionID string
	Skipped   bool
	Processed bool
	PolicyIDs []string
	Err       error
}

// ChapterProgress reports how far a chapter is through policy building
type ChapterProgress struct {
	Number    int
	Title     string
	Total     int
	Processed int
	Complete  bool
}

// BuildReport summarises a policy build run
type BuildReport struct {
	DocumentID     string
	Outcomes       []SectionOutcome
	Chapters       []ChapterProgress
	StaleDeleted   int
	StaleRemaining int
	Duration       time.Duration
}

// Failed returns the outcomes that ended in an error
func (r *BuildReport) Failed() []SectionOutcome {
	var out []SectionOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// ProcessedCount returns how many sections were built during this run
func (r *BuildReport) ProcessedCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Processed && !o.Skipped {
			n++
		}
	}
	return n
}
