package transcribers

import (
	"context"
	"testing"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// Mock transcriber for testing
type mockTranscriber struct {
	name     string
	types    []string
	priority int
}

func (m *mockTranscriber) Transcribe(ctx context.Context, src domain.Source) (*domain.Transcript, error) {
	return &domain.Transcript{Title: m.name}, nil
}

func (m *mockTranscriber) Name() string             { return m.name }
func (m *mockTranscriber) SupportedTypes() []string { return m.types }
func (m *mockTranscriber) Priority() int            { return m.priority }

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockTranscriber{name: "test", types: []string{"text/markdown"}, priority: 50})

	if tr := r.Get("text/markdown"); tr == nil {
		t.Fatal("expected to find transcriber")
	}
	if tr := r.Get("application/pdf"); tr != nil {
		t.Error("expected nil for unregistered type")
	}
}

func TestRegistry_Get_PrioritySelection(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockTranscriber{name: "remote", types: []string{"*/*"}, priority: 1})
	r.Register(&mockTranscriber{name: "markdown", types: []string{"text/markdown"}, priority: 50})

	if got := r.Get("text/markdown").Name(); got != "markdown" {
		t.Errorf("expected markdown, got %s", got)
	}
	if got := r.Get("application/pdf").Name(); got != "remote" {
		t.Errorf("expected remote fallback, got %s", got)
	}
}

func TestRegistry_Get_TieKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockTranscriber{name: "first", types: []string{"text/plain"}, priority: 10})
	r.Register(&mockTranscriber{name: "second", types: []string{"text/plain"}, priority: 10})

	if got := r.Get("text/plain").Name(); got != "first" {
		t.Errorf("expected first, got %s", got)
	}
}

func TestMatchesMIMEType(t *testing.T) {
	tests := []struct {
		supported []string
		mimeType  string
		want      bool
	}{
		{[]string{"text/markdown"}, "text/markdown", true},
		{[]string{"text/markdown"}, "TEXT/Markdown; charset=utf-8", true},
		{[]string{"text/*"}, "text/plain", true},
		{[]string{"text/*"}, "application/pdf", false},
		{[]string{"*/*"}, "application/pdf", true},
		{[]string{"application/yaml"}, "text/yaml", false},
	}

	for _, tt := range tests {
		if got := matchesMIMEType(tt.supported, tt.mimeType); got != tt.want {
			t.Errorf("matchesMIMEType(%v, %q) = %v, want %v", tt.supported, tt.mimeType, got, tt.want)
		}
	}
}

func TestRegistry_List(t *testing.T) {
	r := DefaultRegistry()
	types := r.List()

	want := map[string]bool{"text/markdown": false, "application/yaml": false}
	for _, mt := range types {
		if _, ok := want[mt]; ok {
			want[mt] = true
		}
	}
	for mt, found := range want {
		if !found {
			t.Errorf("expected %s in %v", mt, types)
		}
	}
	for i := 1; i < len(types); i++ {
		if types[i-1] > types[i] {
			t.Errorf("expected sorted types, got %v", types)
		}
	}
}
