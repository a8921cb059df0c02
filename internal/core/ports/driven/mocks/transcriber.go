package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// MockTranscriber returns a fixed transcript and counts calls
type MockTranscriber struct {
	mu         sync.Mutex
	Transcript *domain.Transcript
	Err        error
	calls      int
}

// NewMockTranscriber creates a MockTranscriber returning t
func NewMockTranscriber(t *domain.Transcript) *MockTranscriber {
	return &MockTranscriber{Transcript: t}
}

func (m *MockTranscriber) Transcribe(ctx context.Context, src domain.Source) (*domain.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, &domain.TranscriptionError{Source: src.Name, Err: m.Err}
	}
	c := *m.Transcript
	c.Chapters = append([]domain.TranscriptChapter(nil), m.Transcript.Chapters...)
	return &c, nil
}

func (m *MockTranscriber) Name() string             { return "mock" }
func (m *MockTranscriber) SupportedTypes() []string { return []string{"*/*"} }
func (m *MockTranscriber) Priority() int            { return 100 }

// Calls returns the number of Transcribe calls.
func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// SetTranscript replaces the transcript returned by later calls.
func (m *MockTranscriber) SetTranscript(t *domain.Transcript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transcript = t
}
