package transcribers

import (
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TranscriberRegistry = (*Registry)(nil)

// Registry implements TranscriberRegistry with priority-based selection.
// When several transcribers accept a MIME type, the highest priority one wins.
type Registry struct {
	mu           sync.RWMutex
	transcribers []driven.Transcriber
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		transcribers: make([]driven.Transcriber, 0),
	}
}

// Register registers a transcriber.
func (r *Registry) Register(t driven.Transcriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transcribers = append(r.transcribers, t)
}

// Get returns the best-matching transcriber for a MIME type, or nil.
func (r *Registry) Get(mimeType string) driven.Transcriber {
	matches := r.GetAll(mimeType)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// GetAll returns every transcriber accepting mimeType, highest priority first.
// Registration order breaks ties.
func (r *Registry) GetAll(mimeType string) []driven.Transcriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []driven.Transcriber
	for _, t := range r.transcribers {
		if matchesMIMEType(t.SupportedTypes(), mimeType) {
			matches = append(matches, t)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Priority() > matches[j].Priority()
	})
	return matches
}

// List returns all registered MIME types.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	typeSet := make(map[string]struct{})
	for _, t := range r.transcribers {
		for _, mt := range t.SupportedTypes() {
			typeSet[mt] = struct{}{}
		}
	}

	types := make([]string, 0, len(typeSet))
	for mt := range typeSet {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types
}

// matchesMIMEType supports exact types, "type/*" and "*/*".
// Parameters such as charset are ignored.
func matchesMIMEType(supportedTypes []string, mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	for _, supported := range supportedTypes {
		supported = strings.ToLower(strings.TrimSpace(supported))
		switch {
		case supported == "*/*":
			return true
		case supported == mimeType:
			return true
		case strings.HasSuffix(supported, "/*") && strings.HasPrefix(mimeType, supported[:len(supported)-1]):
			return true
		}
	}
	return false
}

// DefaultRegistry creates a registry with the local transcribers registered.
// A remote transcriber for binary formats is added by the caller.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewMarkdownTranscriber())
	r.Register(NewYAMLTranscriber())
	return r
}
