package domain

import "time"

// Stage names a cached pipeline step. Version is bumped whenever the step's
// logic changes so earlier artifacts stop matching.
type Stage struct {
	Name    string
	Version string
}

// Built-in cache stages
var (
	StageTranscription    = Stage{Name: "transcription", Version: "1"}
	StageSections         = Stage{Name: "sections", Version: "1"}
	StageSectionText      = Stage{Name: "section-text", Version: "1"}
	StageVariableBindings = Stage{Name: "variable-bindings", Version: "1"}
	StagePolicyCount      = Stage{Name: "policy-count", Version: "1"}
)

// CacheEntry is a stored artifact keyed by (stage, input fingerprint)
type CacheEntry struct {
	Stage        string      `json:"stage"`
	Fingerprint  Fingerprint `json:"fingerprint"`
	StageVersion string      `json:"stage_version"`
	Value        []byte      `json:"value"`
	CreatedAt    time.Time   `json:"created_at"`
	AccessedAt   time.Time   `json:"accessed_at"`
}

// Matches reports whether the entry was produced by the given stage version
func (e *CacheEntry) Matches(s Stage) bool {
	return e != nil && e.Stage == s.Name && e.StageVersion == s.Version
}
