package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentMetadata is the persisted processing state of one technical specification.
// It is the single source of truth for which sections exist and which of them
// already have policies at the reasoning service.
type DocumentMetadata struct {
	// DocumentID is a UUIDv7 assigned on first processing and never regenerated
	DocumentID string `json:"document_id"`

	// SourceName is the base file name of the source, used to find the record again
	SourceName string `json:"source_name"`

	// SourceURI records where the source was read from on first processing
	SourceURI string `json:"source_uri"`

	// SourceFingerprint is the content fingerprint of the source bytes
	SourceFingerprint Fingerprint `json:"source_fingerprint"`

	Title           string     `json:"title,omitempty"`
	Author          string     `json:"author,omitempty"`
	Revision        string     `json:"revision,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	NumChapters     int        `json:"num_chapters"`

	// IntroductionKey is the cache key of the text preceding chapter 1, if any
	IntroductionKey Fingerprint `json:"introduction_key,omitempty"`

	Chapters []ChapterStatus `json:"chapters"`

	// StalePolicyIDs are service policies that no longer belong to any section
	// and still need deleting
	StalePolicyIDs []string `json:"stale_policy_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChapterStatus holds the processing state of one chapter
type ChapterStatus struct {
	Number             int             `json:"number"`
	Title              string          `json:"title"`
	ContentFingerprint Fingerprint     `json:"content_fingerprint"`
	Sections           []SectionStatus `json:"sections"`
}

// SectionStatus holds the processing state of one section
type SectionStatus struct {
	// ID has the form ch{N}_sec{M} and is unique within the document
	ID                 string      `json:"id"`
	ChapterNumber      int         `json:"chapter_number"`
	Title              string      `json:"title"`
	ContentFingerprint Fingerprint `json:"content_fingerprint"`

	// ArtifactKey addresses the section text in the section-text cache stage
	ArtifactKey Fingerprint `json:"artifact_key"`

	// Processed only moves false -> true, except through ResetSection
	Processed bool     `json:"processed"`
	PolicyIDs []string `json:"policy_ids"`

	// PendingJobID is recorded at submission so a restart re-polls instead of resubmitting
	PendingJobID string `json:"pending_job_id,omitempty"`

	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// NewDocumentMetadata creates a fresh record with a new UUIDv7 identity
func NewDocumentMetadata(sourceName, sourceURI string, fp Fingerprint) (*DocumentMetadata, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate document id: %w", err)
	}
	now := time.Now().UTC()
	return &DocumentMetadata{
		DocumentID:        id.String(),
		SourceName:        sourceName,
		SourceURI:         sourceURI,
		SourceFingerprint: fp,
		Chapters:          []ChapterStatus{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// SectionID builds the identifier of section m in chapter n
func SectionID(chapter, section int) string {
	return fmt.Sprintf("ch%d_sec%d", chapter, section)
}

// HasStructure reports whether sections have been extracted
func (m *DocumentMetadata) HasStructure() bool {
	return len(m.Chapters) > 0
}

// Section returns a pointer to the section with the given id, or nil
func (m *DocumentMetadata) Section(id string) *SectionStatus {
	for ci := range m.Chapters {
		for si := range m.Chapters[ci].Sections {
			if m.Chapters[ci].Sections[si].ID == id {
				return &m.Chapters[ci].Sections[si]
			}
		}
	}
	return nil
}

// Sections returns copies of all sections in document order
func (m *DocumentMetadata) Sections() []SectionStatus {
	var out []SectionStatus
	for _, ch := range m.Chapters {
		out = append(out, ch.Sections...)
	}
	return out
}

// CountSections returns the total and processed section counts
func (m *DocumentMetadata) CountSections() (total, processed int) {
	for _, ch := range m.Chapters {
		for _, s := range ch.Sections {
			total++
			if s.Processed {
				processed++
			}
		}
	}
	return total, processed
}

// ChapterComplete reports whether every section of the chapter is processed.
// A chapter with no sections counts as complete.
func (c *ChapterStatus) ChapterComplete() bool {
	for _, s := range c.Sections {
		if !s.Processed {
			return false
		}
	}
	return true
}

// MarkSubmitted records an in-flight build job for the section
func (s *SectionStatus) MarkSubmitted(jobID string) {
	s.PendingJobID = jobID
	s.Attempts++
	s.LastError = ""
}

// MarkProcessed records a successful build. The policy ids and the processed
// flag are always set together.
func (s *SectionStatus) MarkProcessed(policyIDs []string) {
	now := time.Now().UTC()
	if policyIDs == nil {
		policyIDs = []string{}
	}
	s.Processed = true
	s.PolicyIDs = policyIDs
	s.PendingJobID = ""
	s.LastError = ""
	s.ProcessedAt = &now
}

// MarkFailed records a terminal build failure and clears the pending job
func (s *SectionStatus) MarkFailed(reason string) {
	s.PendingJobID = ""
	s.LastError = reason
}

// ResetSection clears a section's processed state. Its policies are moved to
// the document's stale list so the next build deletes them at the service.
func (m *DocumentMetadata) ResetSection(id string) error {
	s := m.Section(id)
	if s == nil {
		return fmt.Errorf("section %s: %w", id, ErrNotFound)
	}
	m.StalePolicyIDs = appendUnique(m.StalePolicyIDs, s.PolicyIDs...)
	s.Processed = false
	s.PolicyIDs = nil
	s.PendingJobID = ""
	s.LastError = ""
	s.ProcessedAt = nil
	return nil
}

// Touch updates the modification timestamp
func (m *DocumentMetadata) Touch() {
	m.UpdatedAt = time.Now().UTC()
}

// RemoveStalePolicies drops deleted ids from the stale list
func (m *DocumentMetadata) RemoveStalePolicies(deleted []string) {
	if len(deleted) == 0 {
		return
	}
	gone := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		gone[id] = struct{}{}
	}
	kept := m.StalePolicyIDs[:0]
	for _, id := range m.StalePolicyIDs {
		if _, ok := gone[id]; !ok {
			kept = append(kept, id)
		}
	}
	m.StalePolicyIDs = kept
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (m *DocumentMetadata) Clone() *DocumentMetadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.PublicationDate != nil {
		d := *m.PublicationDate
		c.PublicationDate = &d
	}
	c.StalePolicyIDs = append([]string(nil), m.StalePolicyIDs...)
	c.Chapters = make([]ChapterStatus, len(m.Chapters))
	for i, ch := range m.Chapters {
		cc := ch
		cc.Sections = make([]SectionStatus, len(ch.Sections))
		for j, s := range ch.Sections {
			sc := s
			if s.PolicyIDs != nil {
				sc.PolicyIDs = append([]string{}, s.PolicyIDs...)
			}
			if s.ProcessedAt != nil {
				t := *s.ProcessedAt
				sc.ProcessedAt = &t
			}
			cc.Sections[j] = sc
		}
		c.Chapters[i] = cc
	}
	return &c
}

func appendUnique(dst []string, ids ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, id := range dst {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		dst = append(dst, id)
	}
	return dst
}
