package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/speccheck/internal/runtime"
)

const specMarkdown = `---
title: Cluster Requirements
---
# 1. Scope

## 1.1 Nodes

Every cluster runs at least three nodes.

## 1.2 Regions

Clusters are deployed in one region.

# 2. Storage

## 2.1 Disks

Each node holds at least four disks.
`

type fixture struct {
	dir        string
	spec       string
	reasoning  *mocks.MockReasoningService
	evaluation *mocks.MockEvaluationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("SPECCHECK_LOG_LEVEL", "error")
	t.Setenv("SPECCHECK_SECTIONS_MIN_CHARS", "0")
	t.Setenv("SPECCHECK_POLL_INITIAL", "1ms")
	t.Setenv("SPECCHECK_POLL_MAX", "5ms")
	t.Setenv("SPECCHECK_RETRY_INITIAL", "1ms")
	t.Setenv("SPECCHECK_RETRY_MAX", "5ms")

	dir := t.TempDir()
	spec := filepath.Join(dir, "cluster.md")
	require.NoError(t, os.WriteFile(spec, []byte(specMarkdown), 0o644))
	return &fixture{
		dir:        dir,
		spec:       spec,
		reasoning:  mocks.NewMockReasoningService(),
		evaluation: mocks.NewMockEvaluationService(),
	}
}

// exec runs one CLI invocation against the fixture's mocks.
func (f *fixture) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{
		v:   viper.New(),
		out: &out,
		opts: runtime.Options{
			Reasoning:  f.reasoning,
			Evaluation: f.evaluation,
		},
	}
	root := newRootCmdWith(a)
	root.SetArgs(append(args, "--workdir", filepath.Join(f.dir, "work")))
	root.SetOut(&out)
	root.SetErr(&out)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestExtractSections_Idempotent(t *testing.T) {
	f := newFixture(t)

	out, err := f.exec(t, "extract-sections", "--spec", f.spec)
	require.NoError(t, err)
	assert.Contains(t, out, "extracted cluster.md: 2 chapters")

	out, err = f.exec(t, "extract-sections", "--spec", f.spec)
	require.NoError(t, err)
	assert.Contains(t, out, "reused cluster.md: 2 chapters")
}

func TestTranscriptionDirAlias(t *testing.T) {
	f := newFixture(t)
	workdir := filepath.Join(f.dir, "alias")

	root := newRootCmdWith(&app{v: viper.New(), out: &bytes.Buffer{}})
	root.SetArgs([]string{"extract-sections", "--spec", f.spec, "--transcription-dir", workdir})
	require.NoError(t, root.Execute())

	entries, err := os.ReadDir(filepath.Join(workdir, "metadata"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestCreatePolicies_AtMostOnce(t *testing.T) {
	f := newFixture(t)

	out, err := f.exec(t, "create-policies", "--spec", f.spec)
	require.NoError(t, err)
	assert.Contains(t, out, "built 3 sections, 0 failed")
	created := f.reasoning.CreateCalls()
	assert.Equal(t, 3, created)

	out, err = f.exec(t, "create-policies", "--spec", f.spec)
	require.NoError(t, err)
	assert.Contains(t, out, "built 0 sections, 0 failed")
	assert.Equal(t, created, f.reasoning.CreateCalls())

	out, err = f.exec(t, "status", "--spec", f.spec)
	require.NoError(t, err)
	assert.Contains(t, out, "ch1_sec1")
	assert.Contains(t, out, "3/3 sections processed")
}

func TestCreatePolicies_PartialFailureExitsZero(t *testing.T) {
	f := newFixture(t)
	f.reasoning.FailSections["ch2_sec1"] = "unsupported construct"

	out, err := f.exec(t, "create-policies", "--spec", f.spec)
	require.NoError(t, err)
	assert.Contains(t, out, "section ch2_sec1 not processed")
	assert.Contains(t, out, "built 2 sections, 1 failed")
}

func TestEvaluateProposal_WritesReport(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec(t, "create-policies", "--spec", f.spec)
	require.NoError(t, err)

	proposal := filepath.Join(f.dir, "proposal.md")
	require.NoError(t, os.WriteFile(proposal, []byte("We deploy five nodes with six disks each."), 0o644))
	f.evaluation.Values["proposal.md"] = map[string]string{"Param_ch1_sec1": "5"}

	output := filepath.Join(f.dir, "reports", "report.json")
	out, err := f.exec(t, "evaluate-proposal", "--spec", f.spec, "--proposals", proposal, "--output", output)
	require.NoError(t, err)
	assert.Contains(t, out, "report written to")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var set domain.ResolvedPolicySet
	require.NoError(t, json.Unmarshal(data, &set))
	assert.Equal(t, "Cluster Requirements", set.Title)
	assert.Equal(t, []string{"proposal.md"}, set.Proposals)
	assert.Len(t, set.Chapters, 2)
}

func TestEvaluateProposal_TooManyProposals(t *testing.T) {
	f := newFixture(t)

	var args []string
	for i := 0; i < 5; i++ {
		p := filepath.Join(f.dir, fmt.Sprintf("p%d.md", i))
		require.NoError(t, os.WriteFile(p, []byte("proposal"), 0o644))
		args = append(args, p)
	}

	_, err := f.exec(t, "evaluate-proposal", "--spec", f.spec, "--proposals", strings.Join(args, ","), "--output", "-")
	var tooMany *domain.TooManyProposalsError
	require.True(t, errors.As(err, &tooMany))
	assert.Equal(t, 5, tooMany.Count)
	assert.Equal(t, exitUsage, exitCode(err))
	assert.Equal(t, 0, f.reasoning.TotalCalls())
	assert.Equal(t, 0, f.evaluation.ExtractCalls())
}

func TestStatus_UnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec(t, "status", "--spec", f.spec)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitUsage, exitCode(fmt.Errorf("wrap: %w", domain.ErrInvalidInput)))
	assert.Equal(t, exitFailure, exitCode(&domain.StructureError{Reason: "no chapters"}))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
}

func TestRenderStatus(t *testing.T) {
	md := &domain.DocumentMetadata{
		DocumentID: "doc-1",
		SourceName: "cluster.md",
		Chapters: []domain.ChapterStatus{{
			Number: 1,
			Title:  "Scope",
			Sections: []domain.SectionStatus{
				{ID: "ch1_sec1", Title: "Nodes", Processed: true, PolicyIDs: []string{"p1"}},
				{ID: "ch1_sec2", Title: "Regions", PendingJobID: "job-7"},
				{ID: "ch1_sec3", Title: "Zones", LastError: "build failed"},
			},
		}},
		StalePolicyIDs: []string{"old"},
	}

	out := renderStatus(md)
	assert.Contains(t, out, "Chapter 1: Scope")
	assert.Contains(t, out, "job job-7")
	assert.Contains(t, out, "build failed")
	assert.Contains(t, out, "1/3 sections processed, 1 stale policies awaiting deletion")
}

func TestSectionState(t *testing.T) {
	assert.Equal(t, "processed", sectionState(domain.SectionStatus{Processed: true, LastError: "old"}))
	assert.Equal(t, "pending", sectionState(domain.SectionStatus{PendingJobID: "j"}))
	assert.Equal(t, "failed", sectionState(domain.SectionStatus{LastError: "x"}))
	assert.Equal(t, "new", sectionState(domain.SectionStatus{}))
}
