// Package report writes evaluation results as JSON or YAML files.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ReportWriter = (*Writer)(nil)

// Writer renders a ResolvedPolicySet. The path extension picks the format:
// .json, .yaml or .yml. A path of "-" writes JSON to Stdout.
type Writer struct {
	Stdout io.Writer
}

// NewWriter creates a writer printing "-" output to os.Stdout.
func NewWriter() *Writer {
	return &Writer{Stdout: os.Stdout}
}

// Format returns the format name for path, or an error for unknown extensions.
func Format(path string) (string, error) {
	if path == "-" {
		return "json", nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json", nil
	case ".yaml", ".yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("%w: unsupported report format %q (use .json, .yaml or .yml)", domain.ErrInvalidInput, filepath.Ext(path))
	}
}

func (w *Writer) Write(ctx context.Context, set *domain.ResolvedPolicySet, path string) error {
	format, err := Format(path)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case "yaml":
		data, err = yaml.Marshal(set)
	default:
		data, err = json.MarshalIndent(set, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if path == "-" {
		out := w.Stdout
		if out == nil {
			out = os.Stdout
		}
		_, err := out.Write(data)
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
