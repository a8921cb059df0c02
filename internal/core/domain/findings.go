package domain

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the outcome of checking one policy against a proposal
type Verdict string

const (
	VerdictValid                Verdict = "VALID"
	VerdictInvalid              Verdict = "INVALID"
	VerdictSatisfiable          Verdict = "SATISFIABLE"
	VerdictImpossible           Verdict = "IMPOSSIBLE"
	VerdictTooComplex           Verdict = "TOO_COMPLEX"
	VerdictTranslationAmbiguous Verdict = "TRANSLATION_AMBIGUOUS"
	VerdictNoTranslations       Verdict = "NO_TRANSLATIONS"
	VerdictNotApplicable        Verdict = "NOT_APPLICABLE"

	// VerdictIndeterminate means evidence was missing or evaluation failed
	VerdictIndeterminate Verdict = "INDETERMINATE"
)

var verdictInsights = map[Verdict]string{
	VerdictValid:                "Compliant: the proposal satisfies the policy requirements.",
	VerdictInvalid:              "Non-compliant: the proposal contradicts the policy requirements.",
	VerdictSatisfiable:          "Partially determined: the proposal can satisfy the policy depending on values it does not state.",
	VerdictImpossible:           "Impossible: no conclusion can be drawn because the premises or rules contradict each other.",
	VerdictTooComplex:           "Too complex: the input exceeds what the reasoning service can process.",
	VerdictTranslationAmbiguous: "Ambiguous: the proposal admits several logical interpretations.",
	VerdictNoTranslations:       "No translation: no relevant logical information could be extracted.",
	VerdictNotApplicable:        "Not applicable: the policy does not apply to this proposal.",
	VerdictIndeterminate:        "Indeterminate: not enough evidence to decide.",
}

// AllVerdicts lists the known verdicts in report order
func AllVerdicts() []Verdict {
	return []Verdict{
		VerdictValid, VerdictInvalid, VerdictSatisfiable, VerdictImpossible,
		VerdictTooComplex, VerdictTranslationAmbiguous, VerdictNoTranslations,
		VerdictNotApplicable, VerdictIndeterminate,
	}
}

// Insight returns a human readable explanation of the verdict
func (v Verdict) Insight() string {
	if s, ok := verdictInsights[v]; ok {
		return s
	}
	return fmt.Sprintf("Unknown verdict %q.", string(v))
}

// Valid reports whether v is a known verdict
func (v Verdict) Valid() bool {
	_, ok := verdictInsights[v]
	return ok
}

// Evaluation is what the evaluation service returns for one policy
type Evaluation struct {
	Verdict            Verdict  `json:"verdict"`
	ContradictingRules []string `json:"contradicting_rules,omitempty"`
	SupportingRules    []string `json:"supporting_rules,omitempty"`
	Commentary         string   `json:"commentary,omitempty"`
}

// SectionReportStatus classifies a section in the report
type SectionReportStatus string

const (
	SectionReportProcessed SectionReportStatus = "processed"
	SectionReportPending   SectionReportStatus = "pending"
	SectionReportFailed    SectionReportStatus = "failed"
	// SectionReportAbsent marks a processed section whose policies are gone from the service
	SectionReportAbsent SectionReportStatus = "absent"
)

// ResolvedRule is a rule with the bindings of its variables
type ResolvedRule struct {
	ID                  string    `json:"id" yaml:"id"`
	Expression          string    `json:"expression" yaml:"expression"`
	AlternateExpression string    `json:"alternate_expression" yaml:"alternate_expression"`
	Bindings            []Binding `json:"bindings" yaml:"bindings"`
	Contradicted        bool      `json:"contradicted,omitempty" yaml:"contradicted,omitempty"`
}

// PolicyFinding is the evaluation result of one policy
type PolicyFinding struct {
	PolicyID   string         `json:"policy_id" yaml:"policy_id"`
	Name       string         `json:"name" yaml:"name"`
	Bindings   []Binding      `json:"bindings" yaml:"bindings"`
	Verdict    Verdict        `json:"verdict" yaml:"verdict"`
	Insight    string         `json:"insight" yaml:"insight"`
	Commentary string         `json:"commentary,omitempty" yaml:"commentary,omitempty"`
	Rules      []ResolvedRule `json:"rules" yaml:"rules"`
}

// SectionFindings groups the findings of one section
type SectionFindings struct {
	ID       string              `json:"id" yaml:"id"`
	Title    string              `json:"title" yaml:"title"`
	Status   SectionReportStatus `json:"status" yaml:"status"`
	Note     string              `json:"note,omitempty" yaml:"note,omitempty"`
	Policies []PolicyFinding     `json:"policies" yaml:"policies"`
}

// ChapterFindings groups the findings of one chapter
type ChapterFindings struct {
	Number   int               `json:"number" yaml:"number"`
	Title    string            `json:"title" yaml:"title"`
	Sections []SectionFindings `json:"sections" yaml:"sections"`
}

// FindingsSummary counts verdicts and section states
type FindingsSummary struct {
	Policies        int             `json:"policies" yaml:"policies"`
	Verdicts        map[Verdict]int `json:"verdicts" yaml:"verdicts"`
	SectionsAbsent  int             `json:"sections_absent" yaml:"sections_absent"`
	SectionsPending int             `json:"sections_pending" yaml:"sections_pending"`
	PoliciesDropped int             `json:"policies_dropped" yaml:"policies_dropped"`
}

// ResolvedPolicySet is the full evaluation result handed to the report writer
type ResolvedPolicySet struct {
	DocumentID  string            `json:"document_id" yaml:"document_id"`
	Title       string            `json:"title" yaml:"title"`
	Proposals   []string          `json:"proposals" yaml:"proposals"`
	GeneratedAt time.Time         `json:"generated_at" yaml:"generated_at"`
	Chapters    []ChapterFindings `json:"chapters" yaml:"chapters"`
	Summary     FindingsSummary   `json:"summary" yaml:"summary"`
}

// NewPolicyFinding builds a finding and resolves the variables of each rule
func NewPolicyFinding(p *Policy, bindings []Binding, ev Evaluation) PolicyFinding {
	byName := make(map[string]Binding, len(bindings))
	for _, b := range bindings {
		byName[b.Variable] = b
	}
	contradicted := make(map[string]struct{}, len(ev.ContradictingRules))
	for _, id := range ev.ContradictingRules {
		contradicted[id] = struct{}{}
	}

	rules := make([]ResolvedRule, 0, len(p.Rules))
	for _, r := range p.Rules {
		rr := ResolvedRule{
			ID:                  r.ID,
			Expression:          r.Expression,
			AlternateExpression: r.AlternateExpression,
			Bindings:            []Binding{},
		}
		for _, name := range ruleVariables(r) {
			if name == ComplianceVariable {
				continue
			}
			if b, ok := byName[name]; ok {
				rr.Bindings = append(rr.Bindings, b)
			}
		}
		_, rr.Contradicted = contradicted[r.ID]
		rules = append(rules, rr)
	}

	return PolicyFinding{
		PolicyID:   p.ID,
		Name:       p.Name,
		Bindings:   bindings,
		Verdict:    ev.Verdict,
		Insight:    ev.Verdict.Insight(),
		Commentary: ev.Commentary,
		Rules:      rules,
	}
}

// ruleVariables returns the rule's declared variables, or the expression
// tokens when none were declared.
func ruleVariables(r Rule) []string {
	if len(r.Variables) > 0 {
		return r.Variables
	}
	return strings.FieldsFunc(r.Expression, func(c rune) bool {
		return !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9')
	})
}

// Summarize recomputes the summary from the chapters
func (s *ResolvedPolicySet) Summarize(dropped int) {
	sum := FindingsSummary{Verdicts: map[Verdict]int{}, PoliciesDropped: dropped}
	for _, ch := range s.Chapters {
		for _, sec := range ch.Sections {
			switch sec.Status {
			case SectionReportAbsent:
				sum.SectionsAbsent++
			case SectionReportPending, SectionReportFailed:
				sum.SectionsPending++
			}
			for _, p := range sec.Policies {
				sum.Policies++
				sum.Verdicts[p.Verdict]++
			}
		}
	}
	s.Summary = sum
}
