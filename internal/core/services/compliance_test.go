package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// evaluatedDocument extracts and builds the ten-section document with
// ch2_sec3 failing, and writes two proposals.
func evaluatedDocument(t *testing.T, h *harness) (string, []string) {
	t.Helper()
	h.reasoning.FailSections["ch2_sec3"] = "rules could not be derived"
	id := builtDocument(t, h)
	_, err := h.builder.BuildPolicies(context.Background(), id, domain.BuildOptions{})
	require.NoError(t, err)

	h.evaluation.Values["p1.md"] = map[string]string{"Param_ch1_sec1": "5"}
	h.evaluation.Values["p2.md"] = map[string]string{"Param_ch1_sec1": "7", "Param_ch1_sec2": "3"}
	return id, []string{
		h.writeFile("p1.md", "proposal one"),
		h.writeFile("p2.md", "proposal two"),
	}
}

func findSection(set *domain.ResolvedPolicySet, id string) *domain.SectionFindings {
	for ci := range set.Chapters {
		for si := range set.Chapters[ci].Sections {
			if set.Chapters[ci].Sections[si].ID == id {
				return &set.Chapters[ci].Sections[si]
			}
		}
	}
	return nil
}

func TestEvaluate_BoundedProposals(t *testing.T) {
	h := newHarness(t, tenSectionTranscript())
	id, _ := evaluatedDocument(t, h)
	listBefore := h.reasoning.ListCalls()

	paths := make([]string, 5)
	for i := range paths {
		paths[i] = h.writeFile(fmt.Sprintf("proposal-%d.md", i), "text")
	}

	_, err := h.evaluator.Evaluate(context.Background(), id, paths)
	var tooMany *domain.TooManyProposalsError
	require.True(t, errors.As(err, &tooMany), "expected TooManyProposalsError, got %v", err)
	assert.Equal(t, 5, tooMany.Count)
	assert.Equal(t, MaxProposals, tooMany.Max)
	assert.Equal(t, listBefore, h.reasoning.ListCalls())
	assert.Zero(t, h.evaluation.ExtractCalls())
	assert.Zero(t, h.evaluation.EvaluateCalls())

	set, err := h.evaluator.Evaluate(context.Background(), id, paths[:4])
	require.NoError(t, err)
	assert.Len(t, set.Proposals, 4)
}

func TestEvaluate_InvalidProposals(t *testing.T) {
	h := newHarness(t, tenSectionTranscript())
	id := builtDocument(t, h)

	_, err := h.evaluator.Evaluate(context.Background(), id, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = h.evaluator.Evaluate(context.Background(), id, []string{h.dir + "/missing.md"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Zero(t, h.reasoning.ListCalls())
}

func TestEvaluate_Report(t *testing.T) {
	h := newHarness(t, tenSectionTranscript())
	id, proposals := evaluatedDocument(t, h)

	set, err := h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)

	assert.Equal(t, id, set.DocumentID)
	assert.Equal(t, "Cluster Requirements", set.Title)
	assert.Equal(t, []string{"p1.md", "p2.md"}, set.Proposals)
	require.Len(t, set.Chapters, 3)

	stats := h.evaluator.pool.Stats()
	assert.Zero(t, stats.Running)
	assert.Zero(t, stats.Failed)
	assert.Positive(t, stats.Done)

	// First non-null value wins, in proposal order
	sec := findSection(set, "ch1_sec1")
	require.NotNil(t, sec)
	require.Len(t, sec.Policies, 1)
	f := sec.Policies[0]
	assert.Equal(t, domain.VerdictValid, f.Verdict)
	require.Len(t, f.Bindings, 1)
	require.NotNil(t, f.Bindings[0].Value)
	assert.Equal(t, "5", *f.Bindings[0].Value)
	assert.Equal(t, "p1.md", f.Bindings[0].Source)
	require.Len(t, f.Rules, 1)
	assert.Len(t, f.Rules[0].Bindings, 1)

	sec = findSection(set, "ch1_sec2")
	require.Len(t, sec.Policies, 1)
	assert.Equal(t, "p2.md", sec.Policies[0].Bindings[0].Source)

	// Nothing stated for the rest
	sec = findSection(set, "ch3_sec1")
	require.Len(t, sec.Policies, 1)
	assert.Equal(t, domain.VerdictIndeterminate, sec.Policies[0].Verdict)
	assert.Equal(t, domain.SectionReportProcessed, sec.Status)

	failed := findSection(set, "ch2_sec3")
	assert.Equal(t, domain.SectionReportFailed, failed.Status)
	assert.Empty(t, failed.Policies)
	assert.Equal(t, "rules could not be derived", failed.Note)

	assert.Equal(t, 9, set.Summary.Policies)
	assert.Equal(t, 2, set.Summary.Verdicts[domain.VerdictValid])
	assert.Equal(t, 7, set.Summary.Verdicts[domain.VerdictIndeterminate])
	assert.Equal(t, 1, set.Summary.SectionsPending)
	assert.Zero(t, set.Summary.SectionsAbsent)
	assert.Zero(t, set.Summary.PoliciesDropped)

	assert.Equal(t, 2, h.evaluation.EvaluateCalls(), "evaluate runs only for policies with bound variables")
}

func TestEvaluate_PremisesAreBoundVariablesOnly(t *testing.T) {
	h := newHarness(t, tenSectionTranscript())
	id, proposals := evaluatedDocument(t, h)

	h.evaluation.EvaluateFn = func(p *domain.Policy, bindings []domain.Binding) (*domain.Evaluation, error) {
		for _, b := range bindings {
			if !b.Bound() || b.Variable == domain.ComplianceVariable {
				return nil, fmt.Errorf("unexpected premise %s", b.Variable)
			}
		}
		return &domain.Evaluation{Verdict: domain.VerdictInvalid, ContradictingRules: []string{"r1"}}, nil
	}

	set, err := h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)

	f := findSection(set, "ch1_sec1").Policies[0]
	assert.Equal(t, domain.VerdictInvalid, f.Verdict)
	assert.True(t, f.Rules[0].Contradicted)
	assert.NotEmpty(t, f.Insight)
}

func TestEvaluate_ServiceErrorsStayWithTheirPolicy(t *testing.T) {
	h := newHarness(t, tenSectionTranscript())
	id, proposals := evaluatedDocument(t, h)

	h.evaluation.EvaluateFn = func(p *domain.Policy, bindings []domain.Binding) (*domain.Evaluation, error) {
		if strings.HasSuffix(p.Name, "ch1_sec1") {
			return nil, &domain.ExternalServiceError{Op: "evaluate", StatusCode: 400, Err: errors.New("bad premise")}
		}
		return &domain.Evaluation{Verdict: "SOMETHING_NEW"}, nil
	}

	set, err := h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)

	f := findSection(set, "ch1_sec1").Policies[0]
	assert.Equal(t, domain.VerdictIndeterminate, f.Verdict)
	assert.Contains(t, f.Commentary, "bad premise")

	f = findSection(set, "ch1_sec2").Policies[0]
	assert.Equal(t, domain.VerdictIndeterminate, f.Verdict)
	assert.Contains(t, f.Commentary, "SOMETHING_NEW")
}

func TestEvaluate_MissingPoliciesReportedAbsent(t *testing.T) {
	h := newHarness(t, tenSectionTranscript())
	id, proposals := evaluatedDocument(t, h)

	// Someone removed a policy at the service after the build
	removed := h.metadata(id).Section("ch3_sec2").PolicyIDs[0]
	require.NoError(t, h.reasoning.DeletePolicy(context.Background(), removed))

	set, err := h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)

	sec := findSection(set, "ch3_sec2")
	assert.Equal(t, domain.SectionReportAbsent, sec.Status)
	assert.Empty(t, sec.Policies)
	assert.Equal(t, 1, set.Summary.SectionsAbsent)
	assert.Equal(t, 8, set.Summary.Policies)
}

func TestEvaluate_DropsUntraceablePolicies(t *testing.T) {
	h := newHarness(t, tenSectionTranscript())
	id, proposals := evaluatedDocument(t, h)

	other, err := domain.NewPolicyLabel("0190a6a4-8b7e-7c3d-9f00-000000000001", 1, "ch1_sec1")
	require.NoError(t, err)
	listed := func(documentID string) ([]*domain.Policy, error) {
		return []*domain.Policy{
			{ID: "bad-label", Tags: map[string]string{domain.TagDocumentID: documentID, domain.TagSectionID: "intro"}},
			{ID: "other-doc", Tags: other.Tags()},
			{ID: "unknown-section", Tags: map[string]string{
				domain.TagDocumentID:    documentID,
				domain.TagChapterNumber: "7",
				domain.TagSectionID:     "ch7_sec1",
			}},
		}, nil
	}
	h.reasoning.ListPoliciesFn = listed

	set, err := h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)

	assert.Equal(t, 3, set.Summary.PoliciesDropped)
	assert.Zero(t, set.Summary.Policies)
	assert.Equal(t, 9, set.Summary.SectionsAbsent)
}

func TestEvaluate_SkipsPoliciesWithoutVariables(t *testing.T) {
	h := newHarness(t, tenSectionTranscript())
	id, proposals := evaluatedDocument(t, h)

	label, err := domain.NewPolicyLabel(id, 1, "ch1_sec3")
	require.NoError(t, err)
	h.reasoning.AddPolicy(&domain.Policy{
		ID:        "pol-claim-only",
		Tags:      label.Tags(),
		Variables: []domain.Variable{{Name: domain.ComplianceVariable}},
	})

	set, err := h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)

	for _, f := range findSection(set, "ch1_sec3").Policies {
		assert.NotEqual(t, "pol-claim-only", f.PolicyID)
	}
	assert.Equal(t, 9, set.Summary.Policies)
}

func TestEvaluate_ReusesExtractedBindings(t *testing.T) {
	h := newHarness(t, tenSectionTranscript())
	id, proposals := evaluatedDocument(t, h)

	_, err := h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)
	assert.Equal(t, 18, h.evaluation.ExtractCalls())

	_, err = h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)
	assert.Equal(t, 18, h.evaluation.ExtractCalls(), "bindings are reused for unchanged proposals")
	assert.Equal(t, 2, h.reasoning.ListCalls(), "policies are listed live on every run")

	// A new stage version recomputes each binding exactly once
	h.cache.RegisterStage(domain.Stage{Name: domain.StageVariableBindings.Name, Version: "2"})
	_, err = h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)
	assert.Equal(t, 36, h.evaluation.ExtractCalls())

	_, err = h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)
	assert.Equal(t, 36, h.evaluation.ExtractCalls())
}

func TestEvaluate_EditedProposalIsReextracted(t *testing.T) {
	h := newHarness(t, tenSectionTranscript())
	id, proposals := evaluatedDocument(t, h)

	_, err := h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)

	h.writeFile("p2.md", "proposal two, revised")
	_, err = h.evaluator.Evaluate(context.Background(), id, proposals)
	require.NoError(t, err)

	assert.Equal(t, 27, h.evaluation.ExtractCalls(), "only the edited proposal is extracted again")
}
