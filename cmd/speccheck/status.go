package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/runtime"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	chapterStyle   = lipgloss.NewStyle().Bold(true)
	processedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	idleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

func newStatusCmd(a *app) *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored processing state of a specification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), "status", func(ctx context.Context, s *runtime.Services) error {
				md, err := s.Documents.Status(ctx, spec)
				if err != nil {
					return err
				}
				a.printf("%s", renderStatus(md))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec, "spec", "", "path of the technical specification")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

// sectionState names where a section stands in policy building.
func sectionState(sec domain.SectionStatus) string {
	switch {
	case sec.Processed:
		return "processed"
	case sec.PendingJobID != "":
		return "pending"
	case sec.LastError != "":
		return "failed"
	default:
		return "new"
	}
}

func styleFor(state string) lipgloss.Style {
	switch state {
	case "processed":
		return processedStyle
	case "pending":
		return pendingStyle
	case "failed":
		return failedStyle
	default:
		return idleStyle
	}
}

func renderStatus(md *domain.DocumentMetadata) string {
	var b strings.Builder

	title := md.Title
	if title == "" {
		title = md.SourceName
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(detailStyle.Render(fmt.Sprintf("document %s  source %s  updated %s",
		md.DocumentID, md.SourceName, md.UpdatedAt.Format("2006-01-02 15:04:05"))))
	b.WriteString("\n\n")

	idCol := lipgloss.NewStyle().Width(12)
	stateCol := lipgloss.NewStyle().Width(11)
	countCol := lipgloss.NewStyle().Width(10)

	total, processed := 0, 0
	for _, ch := range md.Chapters {
		b.WriteString(chapterStyle.Render(fmt.Sprintf("Chapter %d: %s", ch.Number, ch.Title)))
		b.WriteString("\n")
		for _, sec := range ch.Sections {
			total++
			state := sectionState(sec)
			if sec.Processed {
				processed++
			}
			detail := sec.Title
			switch state {
			case "pending":
				detail += "  job " + sec.PendingJobID
			case "failed":
				detail += "  " + sec.LastError
			}
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
				"  ",
				idCol.Render(sec.ID),
				stateCol.Render(styleFor(state).Render(state)),
				countCol.Render(fmt.Sprintf("%d pol", len(sec.PolicyIDs))),
				detailStyle.Render(detail),
			))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%d/%d sections processed", processed, total))
	if n := len(md.StalePolicyIDs); n > 0 {
		b.WriteString(fmt.Sprintf(", %d stale policies awaiting deletion", n))
	}
	b.WriteString("\n")
	return b.String()
}
