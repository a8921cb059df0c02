package sectioners

import (
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SectionerPipeline = (*Pipeline)(nil)

// pipelineVersion is bumped when Partition itself changes behaviour.
const pipelineVersion = "1"

// signer is implemented by sectioners whose output depends on configuration.
type signer interface {
	Signature() string
}

// Pipeline implements SectionerPipeline.
// It starts from one draft holding the whole chapter and applies each
// sectioner in order.
type Pipeline struct {
	mu         sync.RWMutex
	sectioners []driven.Sectioner
	sorted     bool
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		sectioners: make([]driven.Sectioner, 0),
	}
}

// Add adds a sectioner. Sectioners are sorted by Order() before use.
func (p *Pipeline) Add(s driven.Sectioner) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sectioners = append(p.sectioners, s)
	p.sorted = false
}

func (p *Pipeline) ordered() []driven.Sectioner {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.sorted {
		sort.SliceStable(p.sectioners, func(i, j int) bool {
			return p.sectioners[i].Order() < p.sectioners[j].Order()
		})
		p.sorted = true
	}
	out := make([]driven.Sectioner, len(p.sectioners))
	copy(out, p.sectioners)
	return out
}

// Partition splits a chapter into sections numbered from 1 in reading order.
// A chapter always yields at least one section.
func (p *Pipeline) Partition(chapter domain.TranscriptChapter) []domain.Section {
	drafts := []driven.SectionDraft{{Title: chapter.Title, Markdown: chapter.Markdown}}
	for _, s := range p.ordered() {
		drafts = s.Process(drafts)
	}

	sections := make([]domain.Section, 0, len(drafts))
	for _, d := range drafts {
		md := strings.TrimSpace(d.Markdown)
		if md == "" {
			continue
		}
		title := d.Title
		if title == "" {
			title = chapter.Title
		}
		sections = append(sections, domain.Section{
			ID:            domain.SectionID(chapter.Number, len(sections)+1),
			ChapterNumber: chapter.Number,
			Title:         title,
			Markdown:      md,
		})
	}
	if len(sections) == 0 {
		sections = append(sections, domain.Section{
			ID:            domain.SectionID(chapter.Number, 1),
			ChapterNumber: chapter.Number,
			Title:         chapter.Title,
			Markdown:      strings.TrimSpace(chapter.Markdown),
		})
	}
	return sections
}

// List returns sectioner names in order.
func (p *Pipeline) List() []string {
	sectioners := p.ordered()
	names := make([]string, len(sectioners))
	for i, s := range sectioners {
		names[i] = s.Name()
	}
	return names
}

// Version identifies the sectioners and their settings. Cached partitions
// made by a differently configured pipeline stop matching.
func (p *Pipeline) Version() string {
	parts := []string{pipelineVersion}
	for _, s := range p.ordered() {
		part := s.Name()
		if sg, ok := s.(signer); ok {
			part += "(" + sg.Signature() + ")"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "|")
}

// Config sets the sectioner thresholds.
type Config struct {
	// HeadingLevel is the markdown heading depth that starts a section
	HeadingLevel int

	// MinChars merges sections shorter than this into their neighbour
	MinChars int

	// MaxChars splits sections longer than this at paragraph boundaries
	MaxChars int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		HeadingLevel: 2,
		MinChars:     200,
		MaxChars:     8000,
	}
}

// DefaultPipeline creates a pipeline: heading split, merge small, split large.
func DefaultPipeline(cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.HeadingLevel <= 0 {
		cfg.HeadingLevel = def.HeadingLevel
	}
	if cfg.MinChars < 0 {
		cfg.MinChars = def.MinChars
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}

	p := NewPipeline()
	p.Add(NewHeadingSplitter(cfg.HeadingLevel))
	p.Add(NewSmallSectionMerger(cfg.MinChars))
	p.Add(NewLargeSectionSplitter(cfg.MaxChars))
	return p
}
