package transcribers

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.Transcriber = (*YAMLTranscriber)(nil)

// yamlTranscript is a transcript produced ahead of time, for example by an
// external tool, and checked into the working directory.
type yamlTranscript struct {
	Title           string        `yaml:"title"`
	Author          string        `yaml:"author"`
	Revision        string        `yaml:"revision"`
	PublicationDate string        `yaml:"publication_date"`
	Introduction    string        `yaml:"introduction"`
	Chapters        []yamlChapter `yaml:"chapters"`
}

type yamlChapter struct {
	Number   int    `yaml:"number"`
	Title    string `yaml:"title"`
	Markdown string `yaml:"markdown"`
}

// YAMLTranscriber loads pre-transcribed documents.
type YAMLTranscriber struct{}

// NewYAMLTranscriber creates a YAML transcriber.
func NewYAMLTranscriber() *YAMLTranscriber {
	return &YAMLTranscriber{}
}

func (t *YAMLTranscriber) Name() string { return "yaml" }

func (t *YAMLTranscriber) SupportedTypes() []string {
	return []string{"application/yaml", "application/x-yaml", "text/yaml"}
}

func (t *YAMLTranscriber) Priority() int { return 50 }

// Transcribe decodes the YAML document.
func (t *YAMLTranscriber) Transcribe(_ context.Context, src domain.Source) (*domain.Transcript, error) {
	var doc yamlTranscript
	if err := yaml.Unmarshal(src.Content, &doc); err != nil {
		return nil, &domain.TranscriptionError{Source: src.Name, Err: fmt.Errorf("failed to unmarshal transcript: %w", err)}
	}

	tr := &domain.Transcript{
		Title:        doc.Title,
		Author:       doc.Author,
		Revision:     doc.Revision,
		Introduction: strings.TrimSpace(doc.Introduction),
		Chapters:     make([]domain.TranscriptChapter, 0, len(doc.Chapters)),
	}
	if doc.PublicationDate != "" {
		d, err := parseDate(doc.PublicationDate)
		if err != nil {
			return nil, &domain.TranscriptionError{Source: src.Name, Err: err}
		}
		tr.PublicationDate = d
	}
	for _, ch := range doc.Chapters {
		tr.Chapters = append(tr.Chapters, domain.TranscriptChapter{
			Number:   ch.Number,
			Title:    strings.TrimSpace(ch.Title),
			Markdown: strings.TrimSpace(ch.Markdown),
		})
	}
	return tr, nil
}
