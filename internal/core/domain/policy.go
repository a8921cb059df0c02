package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ComplianceVariable is the special variable every generated rule is conditioned on.
// It is the claim under evaluation, never a premise, so it is ignored during binding.
const ComplianceVariable = "IsCompliantWithFullPolicy"

// Label tag keys as stored at the reasoning service
const (
	TagDocumentID    = "document_id"
	TagChapterNumber = "chapter_number"
	TagSectionID     = "section_id"
)

var sectionIDPattern = regexp.MustCompile(`^ch[1-9][0-9]*_sec[1-9][0-9]*$`)

var (
	labelValidatorOnce sync.Once
	labelValidator     *validator.Validate
)

func getLabelValidator() *validator.Validate {
	labelValidatorOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("section_id", func(fl validator.FieldLevel) bool {
			return sectionIDPattern.MatchString(fl.Field().String())
		})
		labelValidator = v
	})
	return labelValidator
}

// PolicyLabel is the composite tag linking a service policy back to the section
// it was built from.
type PolicyLabel struct {
	DocumentID    string `json:"document_id" validate:"required,uuid"`
	ChapterNumber int    `json:"chapter_number" validate:"min=1"`
	SectionID     string `json:"section_id" validate:"required,section_id"`
}

// NewPolicyLabel builds and validates a label
func NewPolicyLabel(documentID string, chapter int, sectionID string) (PolicyLabel, error) {
	l := PolicyLabel{DocumentID: documentID, ChapterNumber: chapter, SectionID: sectionID}
	if err := l.Validate(); err != nil {
		return PolicyLabel{}, err
	}
	return l, nil
}

// Validate checks field formats and that the section belongs to the chapter
func (l PolicyLabel) Validate() error {
	if err := getLabelValidator().Struct(l); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLabel, err)
	}
	if !strings.HasPrefix(l.SectionID, fmt.Sprintf("ch%d_", l.ChapterNumber)) {
		return fmt.Errorf("%w: section %s is not in chapter %d", ErrInvalidLabel, l.SectionID, l.ChapterNumber)
	}
	return nil
}

// Tags renders the label as service tags
func (l PolicyLabel) Tags() map[string]string {
	return map[string]string{
		TagDocumentID:    l.DocumentID,
		TagChapterNumber: strconv.Itoa(l.ChapterNumber),
		TagSectionID:     l.SectionID,
	}
}

// ParsePolicyLabel reads a label back from service tags
func ParsePolicyLabel(tags map[string]string) (PolicyLabel, error) {
	chapter, err := strconv.Atoi(tags[TagChapterNumber])
	if err != nil {
		return PolicyLabel{}, fmt.Errorf("%w: chapter_number %q", ErrInvalidLabel, tags[TagChapterNumber])
	}
	return NewPolicyLabel(tags[TagDocumentID], chapter, tags[TagSectionID])
}

// String implements fmt.Stringer
func (l PolicyLabel) String() string {
	return fmt.Sprintf("%s/ch%d/%s", l.DocumentID, l.ChapterNumber, l.SectionID)
}

// VariableType describes the type of a policy variable
type VariableType struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Values      []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// Variable is a named input of a policy's rules
type Variable struct {
	Name        string       `json:"name" yaml:"name"`
	Type        VariableType `json:"type" yaml:"type"`
	Description string       `json:"description" yaml:"description"`
}

// Rule is one formal rule of a policy
type Rule struct {
	ID                  string   `json:"id" yaml:"id"`
	Expression          string   `json:"expression" yaml:"expression"`
	AlternateExpression string   `json:"alternate_expression" yaml:"alternate_expression"`
	Variables           []string `json:"variables" yaml:"variables"`
}

// Policy is a formal policy held by the reasoning service
type Policy struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	DefinitionHash string            `json:"definition_hash"`
	Version        string            `json:"version"`
	Tags           map[string]string `json:"tags"`
	Variables      []Variable        `json:"variables"`
	Rules          []Rule            `json:"rules"`
}

// Label parses the policy's tags into a label
func (p *Policy) Label() (PolicyLabel, error) {
	return ParsePolicyLabel(p.Tags)
}

// BindableVariables returns the variables that can take values from a proposal
func (p *Policy) BindableVariables() []Variable {
	out := make([]Variable, 0, len(p.Variables))
	for _, v := range p.Variables {
		if v.Name == ComplianceVariable {
			continue
		}
		out = append(out, v)
	}
	return out
}

// SchemaFingerprint identifies the policy's variable schema. Extracted bindings
// are reusable for as long as it does not change.
func (p *Policy) SchemaFingerprint() Fingerprint {
	parts := []string{p.ID, p.DefinitionHash}
	vars := p.BindableVariables()
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	for _, v := range vars {
		parts = append(parts, v.Name, v.Type.Name, strings.Join(v.Type.Values, ","), v.Description)
	}
	return FingerprintParts(parts...)
}

// PolicyDraft is what the orchestrator submits to build policies for one section
type PolicyDraft struct {
	Label    PolicyLabel `json:"label"`
	Title    string      `json:"title"`
	Markdown string      `json:"markdown"`
}

// Binding is the value extracted for one variable from a proposal
type Binding struct {
	Variable string  `json:"variable" yaml:"variable"`
	Value    *string `json:"value" yaml:"value"`
	// Source is the proposal the value came from
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Bound reports whether the binding carries a value
func (b Binding) Bound() bool {
	return b.Value != nil
}

// MergeBindings combines bindings extracted from several proposals. For each
// variable the first non-null value wins, in proposal order.
func MergeBindings(variables []Variable, perProposal ...[]Binding) []Binding {
	merged := make([]Binding, 0, len(variables))
	for _, v := range variables {
		b := Binding{Variable: v.Name}
		for _, set := range perProposal {
			found := false
			for _, candidate := range set {
				if candidate.Variable == v.Name && candidate.Bound() {
					b = candidate
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		merged = append(merged, b)
	}
	return merged
}

// AnyBound reports whether at least one binding has a value
func AnyBound(bindings []Binding) bool {
	for _, b := range bindings {
		if b.Bound() && b.Variable != ComplianceVariable {
			return true
		}
	}
	return false
}
