package sectioners

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// HeadingSplitter starts a new section at every heading of the configured
// level. The heading line stays in the section text.
type HeadingSplitter struct {
	prefix string
}

// Verify interface compliance
var _ driven.Sectioner = (*HeadingSplitter)(nil)

// NewHeadingSplitter splits on headings of depth level (2 = "## ").
func NewHeadingSplitter(level int) *HeadingSplitter {
	if level <= 0 {
		level = 2
	}
	return &HeadingSplitter{prefix: strings.Repeat("#", level) + " "}
}

func (h *HeadingSplitter) Process(drafts []driven.SectionDraft) []driven.SectionDraft {
	var result []driven.SectionDraft
	for _, d := range drafts {
		result = append(result, h.split(d)...)
	}
	return result
}

func (h *HeadingSplitter) split(d driven.SectionDraft) []driven.SectionDraft {
	var (
		out     []driven.SectionDraft
		title   = d.Title
		lines   []string
		inFence bool
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(lines, "\n"))
		if text != "" {
			out = append(out, driven.SectionDraft{Title: title, Markdown: text})
		}
	}

	for _, line := range strings.Split(d.Markdown, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(line, h.prefix) {
			flush()
			title = strings.TrimSpace(strings.TrimPrefix(line, h.prefix))
			lines = []string{line}
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return out
}

func (h *HeadingSplitter) Name() string { return "heading-split" }

func (h *HeadingSplitter) Order() int { return 0 }

func (h *HeadingSplitter) Signature() string { return strconv.Itoa(len(h.prefix) - 1) }

// SmallSectionMerger folds sections shorter than MinChars into the previous
// section, or into the next one when the short section comes first.
type SmallSectionMerger struct {
	minChars int
}

// Verify interface compliance
var _ driven.Sectioner = (*SmallSectionMerger)(nil)

// NewSmallSectionMerger creates a merger. minChars <= 0 disables merging.
func NewSmallSectionMerger(minChars int) *SmallSectionMerger {
	return &SmallSectionMerger{minChars: minChars}
}

func (m *SmallSectionMerger) Process(drafts []driven.SectionDraft) []driven.SectionDraft {
	if m.minChars <= 0 || len(drafts) <= 1 {
		return drafts
	}

	var result []driven.SectionDraft
	var carry *driven.SectionDraft
	for _, d := range drafts {
		if carry != nil {
			d = driven.SectionDraft{Title: carry.Title, Markdown: carry.Markdown + "\n\n" + d.Markdown}
			carry = nil
		}
		if len(d.Markdown) >= m.minChars {
			result = append(result, d)
			continue
		}
		if len(result) > 0 {
			last := &result[len(result)-1]
			last.Markdown += "\n\n" + d.Markdown
			continue
		}
		dd := d
		carry = &dd
	}
	if carry != nil {
		result = append(result, *carry)
	}
	return result
}

func (m *SmallSectionMerger) Name() string { return "merge-small" }

func (m *SmallSectionMerger) Order() int { return 10 }

func (m *SmallSectionMerger) Signature() string { return strconv.Itoa(m.minChars) }

// LargeSectionSplitter cuts sections longer than MaxChars, preferring
// paragraph then sentence then word boundaries.
type LargeSectionSplitter struct {
	maxChars int
}

// Verify interface compliance
var _ driven.Sectioner = (*LargeSectionSplitter)(nil)

// NewLargeSectionSplitter creates a splitter. maxChars <= 0 disables splitting.
func NewLargeSectionSplitter(maxChars int) *LargeSectionSplitter {
	return &LargeSectionSplitter{maxChars: maxChars}
}

func (s *LargeSectionSplitter) Process(drafts []driven.SectionDraft) []driven.SectionDraft {
	if s.maxChars <= 0 {
		return drafts
	}

	var result []driven.SectionDraft
	for _, d := range drafts {
		if len(d.Markdown) <= s.maxChars {
			result = append(result, d)
			continue
		}
		parts := s.split(d.Markdown)
		for i, part := range parts {
			result = append(result, driven.SectionDraft{
				Title:    fmt.Sprintf("%s (part %d)", d.Title, i+1),
				Markdown: part,
			})
		}
	}
	return result
}

func (s *LargeSectionSplitter) split(content string) []string {
	var parts []string
	start := 0
	for start < len(content) {
		end := start + s.maxChars
		if end >= len(content) {
			parts = append(parts, strings.TrimSpace(content[start:]))
			break
		}
		if bp := findBreakPoint(content, start, end); bp > start {
			end = bp
		}
		if part := strings.TrimSpace(content[start:end]); part != "" {
			parts = append(parts, part)
		}
		start = end
	}
	return parts
}

func (s *LargeSectionSplitter) Name() string { return "split-large" }

func (s *LargeSectionSplitter) Order() int { return 20 }

func (s *LargeSectionSplitter) Signature() string { return strconv.Itoa(s.maxChars) }

// findBreakPoint looks back from maxEnd for the best boundary.
func findBreakPoint(content string, start, maxEnd int) int {
	searchStart := maxEnd - 500
	if searchStart < start {
		searchStart = start
	}
	window := content[searchStart:maxEnd]

	if idx := strings.LastIndex(window, "\n\n"); idx != -1 {
		return searchStart + idx + 2
	}

	best := -1
	for _, ender := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := strings.LastIndex(window, ender); idx != -1 && idx+len(ender) > best {
			best = idx + len(ender)
		}
	}
	if best > 0 {
		return searchStart + best
	}

	if idx := strings.LastIndex(window, " "); idx != -1 {
		return searchStart + idx + 1
	}
	return maxEnd
}
