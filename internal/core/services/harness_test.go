package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/speccheck/internal/sectioners"
	"github.com/custodia-labs/speccheck/internal/transcribers"
)

// harness wires every service against in-memory mocks.
type harness struct {
	t           *testing.T
	dir         string
	store       *mocks.MockMetadataStore
	cacheStore  *mocks.MockCacheStore
	cache       *CacheLayer
	transcriber *mocks.MockTranscriber
	reasoning   *mocks.MockReasoningService
	evaluation  *mocks.MockEvaluationService
	lock        *mocks.MockDistributedLock
	docs        *DocumentService
	extractor   *SectionExtractionPipeline
	builder     *PolicyBuildOrchestrator
	evaluator   *ComplianceEvaluator
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Backoff: domain.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond}}
}

func newHarness(t *testing.T, transcript *domain.Transcript) *harness {
	t.Helper()
	logger := quietLogger()

	h := &harness{
		t:           t,
		dir:         t.TempDir(),
		store:       mocks.NewMockMetadataStore(),
		cacheStore:  mocks.NewMockCacheStore(),
		transcriber: mocks.NewMockTranscriber(transcript),
		reasoning:   mocks.NewMockReasoningService(),
		evaluation:  mocks.NewMockEvaluationService(),
		lock:        mocks.NewMockDistributedLock(),
	}
	h.cache = NewCacheLayer(CacheLayerConfig{Store: h.cacheStore, Logger: logger})

	registry := transcribers.NewRegistry()
	registry.Register(h.transcriber)
	pipeline := sectioners.NewPipeline()
	pipeline.Add(sectioners.NewHeadingSplitter(2))

	h.docs = NewDocumentService(DocumentServiceConfig{Store: h.store, Logger: logger})
	h.extractor = NewSectionExtractionPipeline(SectionExtractionConfig{
		Store:        h.store,
		Cache:        h.cache,
		Transcribers: registry,
		Sectioners:   pipeline,
		Lock:         h.lock,
		Logger:       logger,
	})
	h.builder = NewPolicyBuildOrchestrator(PolicyBuildConfig{
		Store:     h.store,
		Reasoning: h.reasoning,
		Texts:     h.extractor,
		Lock:      h.lock,
		Poller: NewPoller(PollerConfig{
			Service: h.reasoning,
			Backoff: domain.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond},
			MaxWait: time.Second,
			Logger:  logger,
		}),
		Retry:       fastRetry(),
		Concurrency: 3,
		Logger:      logger,
	})
	h.evaluator = NewComplianceEvaluator(ComplianceEvaluatorConfig{
		Store:       h.store,
		Reasoning:   h.reasoning,
		Evaluation:  h.evaluation,
		Cache:       h.cache,
		Retry:       fastRetry(),
		Concurrency: 2,
		Logger:      logger,
	})
	return h
}

// writeFile creates a file in the harness directory and returns its path.
func (h *harness) writeFile(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// extract opens the source and runs extraction, failing the test on error.
func (h *harness) extract(path string, opts domain.ExtractOptions) (*domain.OpenedDocument, *domain.ExtractionResult) {
	h.t.Helper()
	doc, err := h.docs.Open(context.Background(), path)
	if err != nil {
		h.t.Fatalf("open failed: %v", err)
	}
	result, err := h.extractor.Extract(context.Background(), doc, opts)
	if err != nil {
		h.t.Fatalf("extract failed: %v", err)
	}
	return doc, result
}

func (h *harness) metadata(documentID string) *domain.DocumentMetadata {
	h.t.Helper()
	md, err := h.store.Get(context.Background(), documentID)
	if err != nil {
		h.t.Fatalf("failed to get metadata: %v", err)
	}
	return md
}

// chapterMarkdown renders n level-two sections.
func chapterMarkdown(chapter, n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "## Requirement %d.%d\n\nNodes in area %d.%d must satisfy limit %d.\n\n", chapter, i, chapter, i, chapter*10+i)
	}
	return b.String()
}

// tenSectionTranscript has 3 chapters with 3, 4 and 3 sections.
func tenSectionTranscript() *domain.Transcript {
	return &domain.Transcript{
		Title:        "Cluster Requirements",
		Introduction: "Applies to every cluster.",
		Chapters: []domain.TranscriptChapter{
			{Number: 1, Title: "Scope", Markdown: chapterMarkdown(1, 3)},
			{Number: 2, Title: "Capacity", Markdown: chapterMarkdown(2, 4)},
			{Number: 3, Title: "Network", Markdown: chapterMarkdown(3, 3)},
		},
	}
}
