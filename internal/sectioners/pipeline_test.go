package sectioners

import (
	"strings"
	"testing"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

func TestPipeline_Partition_NoSectioners(t *testing.T) {
	p := NewPipeline()

	sections := p.Partition(domain.TranscriptChapter{Number: 3, Title: "Capacity", Markdown: "Each node holds 4 disks."})
	if len(sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(sections))
	}
	if sections[0].ID != "ch3_sec1" {
		t.Errorf("expected ch3_sec1, got %s", sections[0].ID)
	}
	if sections[0].Title != "Capacity" {
		t.Errorf("expected chapter title, got %q", sections[0].Title)
	}
}

func TestPipeline_Partition_EmptyChapter(t *testing.T) {
	p := DefaultPipeline(DefaultConfig())

	sections := p.Partition(domain.TranscriptChapter{Number: 1, Title: "Empty"})
	if len(sections) != 1 {
		t.Fatalf("expected 1 section for an empty chapter, got %d", len(sections))
	}
	if sections[0].ID != "ch1_sec1" {
		t.Errorf("expected ch1_sec1, got %s", sections[0].ID)
	}
}

func TestPipeline_Partition_HeadingsAndIDs(t *testing.T) {
	p := NewPipeline()
	p.Add(NewHeadingSplitter(2))

	md := "Intro text.\n\n## Disks\n\nUse SSDs.\n\n## Network\n\n```\n## not a heading\n```\nUse 10GbE."
	sections := p.Partition(domain.TranscriptChapter{Number: 2, Title: "Hardware", Markdown: md})

	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(sections))
	}
	wantTitles := []string{"Hardware", "Disks", "Network"}
	for i, s := range sections {
		if s.ID != domain.SectionID(2, i+1) {
			t.Errorf("section %d: expected id %s, got %s", i, domain.SectionID(2, i+1), s.ID)
		}
		if s.Title != wantTitles[i] {
			t.Errorf("section %d: expected title %q, got %q", i, wantTitles[i], s.Title)
		}
		if s.ChapterNumber != 2 {
			t.Errorf("section %d: expected chapter 2, got %d", i, s.ChapterNumber)
		}
	}
	if !strings.HasPrefix(sections[1].Markdown, "## Disks") {
		t.Errorf("expected heading kept in text, got %q", sections[1].Markdown)
	}
	if !strings.Contains(sections[2].Markdown, "## not a heading") {
		t.Error("expected fenced heading to stay inside the section")
	}
}

func TestPipeline_Partition_Deterministic(t *testing.T) {
	p := DefaultPipeline(Config{HeadingLevel: 2, MinChars: 10, MaxChars: 100})
	ch := domain.TranscriptChapter{Number: 1, Title: "A", Markdown: "## One\n\n" + strings.Repeat("word ", 60) + "\n\n## Two\n\nshort"}

	first := p.Partition(ch)
	second := p.Partition(ch)
	if len(first) != len(second) {
		t.Fatalf("expected identical partitions, got %d and %d sections", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("section %d differs between runs", i)
		}
	}
}

func TestPipeline_OrderAndVersion(t *testing.T) {
	p := NewPipeline()
	p.Add(NewLargeSectionSplitter(100))
	p.Add(NewHeadingSplitter(2))
	p.Add(NewSmallSectionMerger(10))

	names := p.List()
	want := []string{"heading-split", "merge-small", "split-large"}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("position %d: expected %s, got %s", i, name, names[i])
		}
	}

	other := NewPipeline()
	other.Add(NewHeadingSplitter(2))
	other.Add(NewSmallSectionMerger(10))
	other.Add(NewLargeSectionSplitter(200))
	if p.Version() == other.Version() {
		t.Error("expected different versions for different thresholds")
	}
	if !strings.Contains(p.Version(), "split-large(100)") {
		t.Errorf("expected settings in version, got %s", p.Version())
	}
}

func TestSmallSectionMerger(t *testing.T) {
	m := NewSmallSectionMerger(10)

	drafts := []driven.SectionDraft{
		{Title: "tiny", Markdown: "abc"},
		{Title: "big", Markdown: "0123456789xyz"},
		{Title: "small", Markdown: "ok"},
	}
	result := m.Process(drafts)

	if len(result) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(result))
	}
	if result[0].Title != "tiny" {
		t.Errorf("expected leading title kept, got %q", result[0].Title)
	}
	for _, part := range []string{"abc", "0123456789xyz", "ok"} {
		if !strings.Contains(result[0].Markdown, part) {
			t.Errorf("expected %q in merged text", part)
		}
	}
}

func TestSmallSectionMerger_Disabled(t *testing.T) {
	drafts := []driven.SectionDraft{{Markdown: "a"}, {Markdown: "b"}}
	if got := NewSmallSectionMerger(0).Process(drafts); len(got) != 2 {
		t.Errorf("expected merging disabled, got %d drafts", len(got))
	}
}

func TestLargeSectionSplitter(t *testing.T) {
	s := NewLargeSectionSplitter(50)
	text := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30) + "\n\n" + strings.Repeat("c", 30)

	result := s.Process([]driven.SectionDraft{{Title: "Long", Markdown: text}})
	if len(result) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(result))
	}
	for i, d := range result {
		if len(d.Markdown) > 50 {
			t.Errorf("part %d exceeds limit: %d chars", i, len(d.Markdown))
		}
	}
	if result[0].Title != "Long (part 1)" {
		t.Errorf("expected numbered title, got %q", result[0].Title)
	}
	if result[0].Markdown != strings.Repeat("a", 30) {
		t.Errorf("expected split at paragraph boundary, got %q", result[0].Markdown)
	}
}

func TestLargeSectionSplitter_NoBoundary(t *testing.T) {
	s := NewLargeSectionSplitter(10)
	result := s.Process([]driven.SectionDraft{{Title: "X", Markdown: strings.Repeat("z", 25)}})

	if len(result) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(result))
	}
	total := 0
	for _, d := range result {
		total += len(d.Markdown)
	}
	if total != 25 {
		t.Errorf("expected all content kept, got %d chars", total)
	}
}
