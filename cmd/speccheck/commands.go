package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/services"
	"github.com/custodia-labs/speccheck/internal/runtime"
)

func newExtractCmd(a *app) *cobra.Command {
	var (
		spec  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "extract-sections",
		Short: "Transcribe a specification and partition it into chapters and sections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), "extract-sections", func(ctx context.Context, s *runtime.Services) error {
				doc, res, err := a.prepare(ctx, s, spec, force)
				if err != nil {
					return err
				}
				verb := "extracted"
				if res.Reused {
					verb = "reused"
				}
				a.printf("%s %s: %d chapters, %d sections (document %s)\n",
					verb, doc.Source.Name, res.Chapters, res.Sections, res.DocumentID)
				if res.Reset > 0 {
					a.printf("%d sections changed and will be rebuilt, %d kept their policies\n", res.Reset, res.Carried)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "path of the technical specification")
	cmd.Flags().BoolVar(&force, "force", false, "re-extract even when the stored structure is current")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

func newCreatePoliciesCmd(a *app) *cobra.Command {
	var (
		spec     string
		force    bool
		sections []string
	)
	cmd := &cobra.Command{
		Use:   "create-policies",
		Short: "Build policies at the reasoning service for every unprocessed section",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), "create-policies", func(ctx context.Context, s *runtime.Services) error {
				builder, err := s.PolicyBuilder()
				if err != nil {
					return err
				}
				doc, _, err := a.prepare(ctx, s, spec, false)
				if err != nil {
					return err
				}

				report, err := builder.BuildPolicies(ctx, doc.Metadata.DocumentID, domain.BuildOptions{
					Force:    force,
					Sections: sections,
				})
				if err != nil {
					return err
				}

				for _, ch := range report.Chapters {
					a.printf("chapter %d %-40s %d/%d sections\n", ch.Number, ch.Title, ch.Processed, ch.Total)
				}
				for _, o := range report.Failed() {
					a.printf("section %s not processed: %v\n", o.SectionID, o.Err)
				}
				a.printf("built %d sections, %d failed", report.ProcessedCount(), len(report.Failed()))
				if report.StaleRemaining > 0 {
					a.printf(", %d stale policies left to delete", report.StaleRemaining)
				}
				a.printf("\n")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "path of the technical specification")
	cmd.Flags().BoolVar(&force, "force", false, "rebuild sections that already have policies")
	cmd.Flags().StringSliceVar(&sections, "section", nil, "limit the run to these section IDs (repeatable)")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

func newEvaluateCmd(a *app) *cobra.Command {
	var (
		spec      string
		proposals []string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "evaluate-proposal",
		Short: "Check 1 to 4 proposal documents against the specification's policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(proposals) > services.MaxProposals {
				return &domain.TooManyProposalsError{Count: len(proposals), Max: services.MaxProposals}
			}
			return a.run(cmd.Context(), "evaluate-proposal", func(ctx context.Context, s *runtime.Services) error {
				evaluator, err := s.ComplianceEvaluator()
				if err != nil {
					return err
				}
				doc, _, err := a.prepare(ctx, s, spec, false)
				if err != nil {
					return err
				}

				set, err := evaluator.Evaluate(ctx, doc.Metadata.DocumentID, proposals)
				if err != nil {
					return err
				}
				if err := s.Reports.Write(ctx, set, output); err != nil {
					return err
				}

				if output != "-" {
					a.printf("evaluated %d policies: %s\n", set.Summary.Policies, verdictLine(set.Summary))
					if set.Summary.SectionsAbsent+set.Summary.SectionsPending > 0 {
						a.printf("%d sections have no policies yet, %d are pending\n",
							set.Summary.SectionsAbsent, set.Summary.SectionsPending)
					}
					a.printf("report written to %s\n", output)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "path of the technical specification")
	cmd.Flags().StringSliceVar(&proposals, "proposals", nil, "proposal documents, 1 to 4 (repeatable or comma separated)")
	cmd.Flags().StringVar(&output, "output", "report.json", "report path (.json, .yaml, .yml) or - for stdout")
	_ = cmd.MarkFlagRequired("spec")
	_ = cmd.MarkFlagRequired("proposals")
	return cmd
}

// prepare opens the specification and brings its extracted structure up to
// date. Later stages call it so they can run without a prior extract-sections.
func (a *app) prepare(ctx context.Context, s *runtime.Services, spec string, force bool) (*domain.OpenedDocument, *domain.ExtractionResult, error) {
	doc, err := s.Documents.Open(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.Extractor.Extract(ctx, doc, domain.ExtractOptions{Force: force})
	if err != nil {
		return nil, nil, fmt.Errorf("section extraction failed: %w", err)
	}
	return doc, res, nil
}

func verdictLine(sum domain.FindingsSummary) string {
	if len(sum.Verdicts) == 0 {
		return "no verdicts"
	}
	line := ""
	for _, v := range domain.AllVerdicts() {
		n := sum.Verdicts[v]
		if n == 0 {
			continue
		}
		if line != "" {
			line += ", "
		}
		line += fmt.Sprintf("%d %s", n, v)
	}
	return line
}
