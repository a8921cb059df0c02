package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
	"github.com/custodia-labs/speccheck/internal/core/ports/driving"
	"github.com/custodia-labs/speccheck/internal/metrics"
)

// Verify interface compliance
var _ driving.SectionExtractor = (*SectionExtractionPipeline)(nil)

// SectionExtractionPipeline turns a source document into persisted chapters and sections.
// The flow is:
//  1. Reuse the stored structure when the source is unchanged
//  2. Take the document lock, then transcribe (cached by source fingerprint)
//  3. Validate chapter structure
//  4. Partition chapters into sections (cached by chapter fingerprint)
//  5. Store section texts and write all statuses in one metadata update
type SectionExtractionPipeline struct {
	store        driven.MetadataStore
	cache        *CacheLayer
	transcribers driven.TranscriberRegistry
	sectioners   driven.SectionerPipeline
	lock         documentLock
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// SectionExtractionConfig holds dependencies for SectionExtractionPipeline.
type SectionExtractionConfig struct {
	Store        driven.MetadataStore
	Cache        *CacheLayer
	Transcribers driven.TranscriberRegistry
	Sectioners   driven.SectionerPipeline

	// Lock serialises metadata writes with other processes; nil disables it
	Lock    driven.DistributedLock
	LockTTL time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewSectionExtractionPipeline creates a new extraction pipeline.
func NewSectionExtractionPipeline(cfg SectionExtractionConfig) *SectionExtractionPipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SectionExtractionPipeline{
		store:        cfg.Store,
		cache:        cfg.Cache,
		transcribers: cfg.Transcribers,
		sectioners:   cfg.Sectioners,
		lock:         newDocumentLock(cfg.Lock, cfg.LockTTL, logger),
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// sectionArtifact is the stored text of a section
type sectionArtifact struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// Extract produces the chapter and section structure of a document.
func (p *SectionExtractionPipeline) Extract(ctx context.Context, doc *domain.OpenedDocument, opts domain.ExtractOptions) (*domain.ExtractionResult, error) {
	startTime := time.Now()
	defer func() { p.metrics.ObserveStage("extract-sections", time.Since(startTime)) }()

	md := doc.Metadata
	logger := p.logger.With("document_id", md.DocumentID, "source", doc.Source.Name)

	// Step 1: Reuse stored structure
	if md.HasStructure() && !doc.FingerprintChanged && !opts.Force {
		if p.artifactsPresent(ctx, md) {
			total, _ := md.CountSections()
			logger.Info("source unchanged, reusing extracted sections", "chapters", len(md.Chapters), "sections", total)
			return &domain.ExtractionResult{
				DocumentID: md.DocumentID,
				Reused:     true,
				Chapters:   len(md.Chapters),
				Sections:   total,
			}, nil
		}
		logger.Warn("section artifacts missing from cache, re-extracting")
	}

	// Step 2: Lock the document, then transcribe
	release, err := p.lock.acquire(ctx, md.DocumentID)
	if err != nil {
		return nil, err
	}
	defer release()

	transcript, transcriptKey, err := p.transcribe(ctx, doc.Source, opts.Force)
	if err != nil {
		return nil, err
	}

	// Step 3: Validate before anything is written
	if err := transcript.ValidateStructure(); err != nil {
		// A later run should transcribe again rather than replay the bad transcript
		if invErr := p.cache.Invalidate(ctx, domain.StageTranscription.Name, transcriptKey); invErr != nil {
			logger.Warn("failed to drop malformed transcript", "error", invErr)
		}
		return nil, err
	}

	// Step 4: Partition chapters
	chapters := make([]domain.ChapterStatus, 0, len(transcript.Chapters))
	sectionCount := 0
	for _, ch := range transcript.Chapters {
		sections, err := p.partition(ctx, ch)
		if err != nil {
			return nil, err
		}

		status := domain.ChapterStatus{
			Number:             ch.Number,
			Title:              ch.Title,
			ContentFingerprint: chapterFingerprint(ch),
			Sections:           make([]domain.SectionStatus, 0, len(sections)),
		}

		// Step 5a: Store section texts
		for _, sec := range sections {
			key, err := p.storeSection(ctx, sec)
			if err != nil {
				return nil, err
			}
			status.Sections = append(status.Sections, domain.SectionStatus{
				ID:                 sec.ID,
				ChapterNumber:      ch.Number,
				Title:              sec.Title,
				ContentFingerprint: key,
				ArtifactKey:        key,
				PolicyIDs:          []string{},
			})
		}
		sectionCount += len(sections)
		chapters = append(chapters, status)
	}

	var introKey domain.Fingerprint
	if transcript.Introduction != "" {
		introKey, err = p.storeSection(ctx, domain.Section{ID: "introduction", Title: "Introduction", Markdown: transcript.Introduction})
		if err != nil {
			return nil, err
		}
	}

	// Step 5b: One metadata update for the whole structure
	result := &domain.ExtractionResult{
		DocumentID: md.DocumentID,
		Chapters:   len(chapters),
		Sections:   sectionCount,
	}
	updated, err := p.store.Update(ctx, md.DocumentID, func(current *domain.DocumentMetadata) error {
		result.Carried, result.Reset = mergeStructure(current, chapters)
		current.SourceFingerprint = doc.Source.Fingerprint
		current.Title = transcript.Title
		current.Author = transcript.Author
		current.Revision = transcript.Revision
		current.PublicationDate = transcript.PublicationDate
		current.NumChapters = len(chapters)
		current.IntroductionKey = introKey
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save extracted sections: %w", err)
	}
	doc.Metadata = updated
	doc.FingerprintChanged = false

	logger.Info("sections extracted",
		"chapters", result.Chapters,
		"sections", result.Sections,
		"carried_over", result.Carried,
		"reset", result.Reset,
		"stale_policies", len(updated.StalePolicyIDs),
	)
	return result, nil
}

// SectionText returns the stored markdown of a section.
func (p *SectionExtractionPipeline) SectionText(ctx context.Context, section domain.SectionStatus) (string, error) {
	raw, err := p.cache.Get(ctx, domain.StageSectionText.Name, section.ArtifactKey)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return "", fmt.Errorf("text of section %s is missing, run extract-sections again: %w", section.ID, err)
		}
		return "", err
	}
	var a sectionArtifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", fmt.Errorf("failed to decode text of section %s: %w", section.ID, err)
	}
	return a.Markdown, nil
}

func (p *SectionExtractionPipeline) transcribe(ctx context.Context, src domain.Source, force bool) (*domain.Transcript, domain.Fingerprint, error) {
	t := p.transcribers.Get(src.MimeType)
	if t == nil {
		return nil, "", fmt.Errorf("%w: no transcriber for %s (%s)", domain.ErrInvalidInput, src.Name, src.MimeType)
	}

	key := domain.FingerprintParts(src.Fingerprint.String(), t.Name())
	compute := func(ctx context.Context) ([]byte, error) {
		p.logger.Info("transcribing document", "source", src.Name, "transcriber", t.Name())
		tr, err := t.Transcribe(ctx, src)
		if err != nil {
			return nil, err
		}
		return json.Marshal(tr)
	}

	var raw []byte
	var err error
	if force {
		raw, err = p.cache.Recompute(ctx, domain.StageTranscription.Name, key, compute)
	} else {
		raw, _, err = p.cache.GetOrCompute(ctx, domain.StageTranscription.Name, key, compute)
	}
	if err != nil {
		var trErr *domain.TranscriptionError
		if errors.As(err, &trErr) {
			return nil, key, err
		}
		return nil, key, &domain.TranscriptionError{Source: src.Name, Err: err}
	}

	var tr domain.Transcript
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, key, &domain.TranscriptionError{Source: src.Name, Err: fmt.Errorf("unreadable transcript: %w", err)}
	}
	return &tr, key, nil
}

func (p *SectionExtractionPipeline) partition(ctx context.Context, ch domain.TranscriptChapter) ([]domain.Section, error) {
	key := domain.FingerprintParts(chapterFingerprint(ch).String(), p.sectioners.Version())
	sections, _, err := CachedJSON(ctx, p.cache, domain.StageSections.Name, key, func(ctx context.Context) ([]domain.Section, error) {
		return p.sectioners.Partition(ch), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to partition chapter %d: %w", ch.Number, err)
	}
	return sections, nil
}

func (p *SectionExtractionPipeline) storeSection(ctx context.Context, sec domain.Section) (domain.Fingerprint, error) {
	key := domain.FingerprintString(sec.Markdown)
	raw, err := json.Marshal(sectionArtifact{ID: sec.ID, Title: sec.Title, Markdown: sec.Markdown})
	if err != nil {
		return "", err
	}
	if err := p.cache.Put(ctx, domain.StageSectionText.Name, key, raw); err != nil {
		return "", fmt.Errorf("failed to store section %s: %w", sec.ID, err)
	}
	return key, nil
}

func (p *SectionExtractionPipeline) artifactsPresent(ctx context.Context, md *domain.DocumentMetadata) bool {
	for _, s := range md.Sections() {
		if _, err := p.cache.Get(ctx, domain.StageSectionText.Name, s.ArtifactKey); err != nil {
			return false
		}
	}
	return true
}

func chapterFingerprint(ch domain.TranscriptChapter) domain.Fingerprint {
	return domain.FingerprintParts(strconv.Itoa(ch.Number), ch.Title, ch.Markdown)
}

// mergeStructure installs new chapters into md. A section keeps its build state
// only when both its id and content fingerprint are unchanged; policies of every
// other previous section are queued for deletion.
func mergeStructure(md *domain.DocumentMetadata, chapters []domain.ChapterStatus) (carried, reset int) {
	oldSections := md.Sections()
	previous := make(map[string]domain.SectionStatus, len(oldSections))
	for _, s := range oldSections {
		previous[s.ID] = s
	}

	var stale []string
	for ci := range chapters {
		for si := range chapters[ci].Sections {
			next := &chapters[ci].Sections[si]
			old, ok := previous[next.ID]
			if !ok {
				continue
			}
			delete(previous, next.ID)

			if old.ContentFingerprint == next.ContentFingerprint {
				next.Processed = old.Processed
				next.PolicyIDs = old.PolicyIDs
				next.PendingJobID = old.PendingJobID
				next.Attempts = old.Attempts
				next.LastError = old.LastError
				next.ProcessedAt = old.ProcessedAt
				if old.Processed {
					carried++
				}
				continue
			}
			if old.Processed || len(old.PolicyIDs) > 0 {
				reset++
			}
			stale = append(stale, old.PolicyIDs...)
		}
	}
	for _, old := range oldSections {
		if _, unmatched := previous[old.ID]; !unmatched {
			continue
		}
		if old.Processed || len(old.PolicyIDs) > 0 {
			reset++
		}
		stale = append(stale, old.PolicyIDs...)
	}

	md.Chapters = chapters
	seen := make(map[string]struct{}, len(md.StalePolicyIDs))
	for _, id := range md.StalePolicyIDs {
		seen[id] = struct{}{}
	}
	for _, id := range stale {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		md.StalePolicyIDs = append(md.StalePolicyIDs, id)
	}
	return carried, reset
}
