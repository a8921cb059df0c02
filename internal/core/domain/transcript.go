package domain

import "time"

// Source is a document handed to a transcriber
type Source struct {
	Name        string      `json:"name"`
	Path        string      `json:"path"`
	MimeType    string      `json:"mime_type"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Content     []byte      `json:"-"`
}

// Transcript is the markdown rendition of a source document, split by chapter
type Transcript struct {
	Title           string              `json:"title"`
	Author          string              `json:"author,omitempty"`
	Revision        string              `json:"revision,omitempty"`
	PublicationDate *time.Time          `json:"publication_date,omitempty"`
	Introduction    string              `json:"introduction,omitempty"`
	Chapters        []TranscriptChapter `json:"chapters"`
}

// TranscriptChapter is one chapter of a transcript
type TranscriptChapter struct {
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// Section is a self-contained slice of a chapter submitted to the policy builder
type Section struct {
	ID            string `json:"id"`
	ChapterNumber int    `json:"chapter_number"`
	Title         string `json:"title"`
	Markdown      string `json:"markdown"`
}

// ValidateStructure checks that a transcript has at least one chapter and that
// chapter numbers are positive and strictly increasing.
func (t *Transcript) ValidateStructure() error {
	if len(t.Chapters) == 0 {
		return &StructureError{Reason: "no chapters found"}
	}
	prev := 0
	for i, ch := range t.Chapters {
		if ch.Number <= 0 {
			return &StructureError{Reason: "chapter numbers must be positive"}
		}
		if i > 0 && ch.Number <= prev {
			return &StructureError{Reason: "chapter numbers are not strictly increasing"}
		}
		prev = ch.Number
	}
	return nil
}
