package transcribers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.Transcriber = (*MarkdownTranscriber)(nil)

// chapterHeading matches "# 3. Title", "# Chapter 3: Title" and "# 3 Title".
var chapterHeading = regexp.MustCompile(`(?i)^(?:chapter\s+)?(\d+)\s*[.:)\-]?\s+(.*)$`)

// frontMatter holds document metadata from an optional leading YAML block.
type frontMatter struct {
	Title           string `yaml:"title"`
	Author          string `yaml:"author"`
	Revision        string `yaml:"revision"`
	PublicationDate string `yaml:"publication_date"`
}

// MarkdownTranscriber reads documents that are already markdown.
// Every level-one heading starts a chapter; text before the first one is the
// introduction. Headings inside fenced code blocks are ignored.
type MarkdownTranscriber struct{}

// NewMarkdownTranscriber creates a markdown transcriber.
func NewMarkdownTranscriber() *MarkdownTranscriber {
	return &MarkdownTranscriber{}
}

func (t *MarkdownTranscriber) Name() string { return "markdown" }

func (t *MarkdownTranscriber) SupportedTypes() []string {
	return []string{"text/markdown", "text/x-markdown", "text/plain"}
}

func (t *MarkdownTranscriber) Priority() int { return 50 }

// Transcribe splits the markdown into chapters.
func (t *MarkdownTranscriber) Transcribe(_ context.Context, src domain.Source) (*domain.Transcript, error) {
	content := normaliseNewlines(string(src.Content))

	fm, body, err := splitFrontMatter(content)
	if err != nil {
		return nil, &domain.TranscriptionError{Source: src.Name, Err: err}
	}
	tr := &domain.Transcript{Title: fm.Title, Author: fm.Author, Revision: fm.Revision}
	if fm.PublicationDate != "" {
		d, err := parseDate(fm.PublicationDate)
		if err != nil {
			return nil, &domain.TranscriptionError{Source: src.Name, Err: err}
		}
		tr.PublicationDate = d
	}

	var (
		current *domain.TranscriptChapter
		lines   []string
		inFence bool
		intro   []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Markdown = strings.TrimSpace(strings.Join(lines, "\n"))
		tr.Chapters = append(tr.Chapters, *current)
	}

	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(line, "# ") {
			flush()
			current = newChapter(strings.TrimSpace(line[2:]), len(tr.Chapters), tr.Chapters)
			lines = nil
			continue
		}
		if current == nil {
			intro = append(intro, line)
			continue
		}
		lines = append(lines, line)
	}
	flush()

	tr.Introduction = strings.TrimSpace(strings.Join(intro, "\n"))
	if tr.Title == "" {
		tr.Title = strings.TrimSuffix(src.Name, ".md")
	}
	return tr, nil
}

// newChapter numbers a heading. Explicit numbers are kept as written so that
// malformed numbering is caught by structure validation.
func newChapter(heading string, index int, previous []domain.TranscriptChapter) *domain.TranscriptChapter {
	if m := chapterHeading.FindStringSubmatch(heading); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return &domain.TranscriptChapter{Number: n, Title: strings.TrimSpace(m[2])}
		}
	}
	next := index + 1
	if len(previous) > 0 {
		next = previous[len(previous)-1].Number + 1
	}
	return &domain.TranscriptChapter{Number: next, Title: heading}
}

func splitFrontMatter(content string) (frontMatter, string, error) {
	var fm frontMatter
	if !strings.HasPrefix(content, "---\n") {
		return fm, content, nil
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return fm, content, nil
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return fm, "", fmt.Errorf("invalid front matter: %w", err)
	}
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return fm, body, nil
}

func parseDate(s string) (*time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if d, err := time.Parse(layout, s); err == nil {
			d = d.UTC()
			return &d, nil
		}
	}
	return nil, fmt.Errorf("invalid publication date %q", s)
}

func normaliseNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimPrefix(s, "\ufeff")
}
