package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven/mocks"
)

func TestDocumentService_OpenCreatesOnce(t *testing.T) {
	store := mocks.NewMockMetadataStore()
	svc := NewDocumentService(DocumentServiceConfig{Store: store, Logger: quietLogger()})
	path := filepath.Join(t.TempDir(), "spec.md")
	if err := os.WriteFile(path, []byte("# 1. A\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := svc.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Created {
		t.Error("expected a new record")
	}
	if first.Source.MimeType != "text/markdown" {
		t.Errorf("expected text/markdown, got %s", first.Source.MimeType)
	}
	if !strings.HasPrefix(first.Metadata.SourceURI, "file://") {
		t.Errorf("expected file URI, got %s", first.Metadata.SourceURI)
	}

	second, err := svc.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Created || second.FingerprintChanged {
		t.Errorf("expected existing unchanged record, got created=%v changed=%v", second.Created, second.FingerprintChanged)
	}
	if second.Metadata.DocumentID != first.Metadata.DocumentID {
		t.Error("expected document id to be stable")
	}
	if store.Creates() != 1 {
		t.Errorf("expected 1 create, got %d", store.Creates())
	}
}

func TestDocumentService_OpenDetectsChangedSource(t *testing.T) {
	store := mocks.NewMockMetadataStore()
	svc := NewDocumentService(DocumentServiceConfig{Store: store, Logger: quietLogger()})
	path := filepath.Join(t.TempDir(), "spec.md")
	_ = os.WriteFile(path, []byte("v1"), 0o644)

	if _, err := svc.Open(context.Background(), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = os.WriteFile(path, []byte("v2"), 0o644)

	doc, err := svc.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !doc.FingerprintChanged {
		t.Error("expected fingerprint change to be reported")
	}
}

func TestDocumentService_OpenFindsRecordAfterMove(t *testing.T) {
	store := mocks.NewMockMetadataStore()
	svc := NewDocumentService(DocumentServiceConfig{Store: store, Logger: quietLogger()})

	a := filepath.Join(t.TempDir(), "spec.md")
	b := filepath.Join(t.TempDir(), "spec.md")
	_ = os.WriteFile(a, []byte("same"), 0o644)
	_ = os.WriteFile(b, []byte("same"), 0o644)

	first, _ := svc.Open(context.Background(), a)
	second, err := svc.Open(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Metadata.DocumentID != first.Metadata.DocumentID {
		t.Error("expected record found by source name")
	}
}

func TestDocumentService_OpenRejectsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	svc := NewDocumentService(DocumentServiceConfig{Store: mocks.NewMockMetadataStore(), MaxSizeMB: 0.001, Logger: quietLogger()})

	big := filepath.Join(dir, "big.md")
	_ = os.WriteFile(big, []byte(strings.Repeat("x", 4096)), 0o644)

	for name, path := range map[string]string{
		"missing":   filepath.Join(dir, "missing.md"),
		"directory": dir,
		"too large": big,
	} {
		_, err := svc.Open(context.Background(), path)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestDocumentService_Status(t *testing.T) {
	store := mocks.NewMockMetadataStore()
	svc := NewDocumentService(DocumentServiceConfig{Store: store, Logger: quietLogger()})
	path := filepath.Join(t.TempDir(), "spec.md")
	_ = os.WriteFile(path, []byte("x"), 0o644)

	if _, err := svc.Status(context.Background(), path); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound before first run, got %v", err)
	}
	doc, _ := svc.Open(context.Background(), path)
	md, err := svc.Status(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md.DocumentID != doc.Metadata.DocumentID {
		t.Error("expected the stored record")
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := map[string]string{
		"a.md":   "text/markdown",
		"a.YAML": "application/yaml",
		"a.yml":  "application/yaml",
		"a.pdf":  "application/pdf",
	}
	for path, want := range tests {
		if got := DetectMIMEType(path, nil); got != want {
			t.Errorf("%s: expected %s, got %s", path, want, got)
		}
	}
	if got := DetectMIMEType("noext", []byte("%PDF-1.7\n")); got != "application/pdf" {
		t.Errorf("expected content sniffing, got %s", got)
	}
}
