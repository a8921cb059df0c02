// Package runtime assembles the configured adapters and core services.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/speccheck/internal/adapters/driven/apiclient"
	"github.com/custodia-labs/speccheck/internal/adapters/driven/evaluation"
	"github.com/custodia-labs/speccheck/internal/adapters/driven/filestore"
	"github.com/custodia-labs/speccheck/internal/adapters/driven/postgres"
	"github.com/custodia-labs/speccheck/internal/adapters/driven/reasoning"
	redisadapter "github.com/custodia-labs/speccheck/internal/adapters/driven/redis"
	"github.com/custodia-labs/speccheck/internal/adapters/driven/report"
	"github.com/custodia-labs/speccheck/internal/adapters/driven/transcription"
	"github.com/custodia-labs/speccheck/internal/config"
	"github.com/custodia-labs/speccheck/internal/core/domain"
	"github.com/custodia-labs/speccheck/internal/core/ports/driven"
	"github.com/custodia-labs/speccheck/internal/core/services"
	"github.com/custodia-labs/speccheck/internal/metrics"
	"github.com/custodia-labs/speccheck/internal/sectioners"
	"github.com/custodia-labs/speccheck/internal/transcribers"
)

// Services holds everything one CLI invocation needs. Remote service clients
// are optional; the stages that need them report a configuration error when
// they are missing.
type Services struct {
	mu     sync.Mutex
	closed bool

	config  *config.Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	db          *postgres.DB
	redisClient *redis.Client

	Store      driven.MetadataStore
	CacheStore driven.CacheStore
	Lock       driven.DistributedLock

	Cache     *services.CacheLayer
	Documents *services.DocumentService
	Extractor *services.SectionExtractionPipeline
	Reports   driven.ReportWriter

	reasoning  driven.ReasoningService
	evaluation driven.EvaluationService
}

// Options lets callers replace adapters, mainly in tests.
type Options struct {
	Reasoning  driven.ReasoningService
	Evaluation driven.EvaluationService
	Reports    driven.ReportWriter
}

// Build connects the selected backends and wires the services.
// On error every connection opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger, opts Options) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Services{config: cfg, metrics: m, logger: logger}

	if err := s.connect(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.buildStores(); err != nil {
		s.Close()
		return nil, err
	}

	registry, err := s.transcriberRegistry()
	if err != nil {
		s.Close()
		return nil, err
	}

	s.reasoning = opts.Reasoning
	if s.reasoning == nil && cfg.Reasoning.Enabled() {
		api, err := s.apiClient("reasoning", cfg.Reasoning)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.reasoning = reasoning.New(api)
	}
	s.evaluation = opts.Evaluation
	if s.evaluation == nil && cfg.Evaluation.Enabled() {
		api, err := s.apiClient("evaluation", cfg.Evaluation)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.evaluation = evaluation.New(api)
	}
	s.Reports = opts.Reports
	if s.Reports == nil {
		s.Reports = report.NewWriter()
	}

	s.Cache = services.NewCacheLayer(services.CacheLayerConfig{
		Store:      s.CacheStore,
		MaxEntries: cfg.Cache.MaxEntries,
		Metrics:    m,
		Logger:     logger,
	})
	s.Documents = services.NewDocumentService(services.DocumentServiceConfig{
		Store:     s.Store,
		MaxSizeMB: cfg.Documents.MaxSizeMB,
		Logger:    logger,
	})
	s.Extractor = services.NewSectionExtractionPipeline(services.SectionExtractionConfig{
		Store:        s.Store,
		Cache:        s.Cache,
		Transcribers: registry,
		Sectioners: sectioners.DefaultPipeline(sectioners.Config{
			HeadingLevel: cfg.Sections.HeadingLevel,
			MinChars:     cfg.Sections.MinChars,
			MaxChars:     cfg.Sections.MaxChars,
		}),
		Lock:    s.Lock,
		LockTTL: cfg.Storage.LockTTL,
		Metrics: m,
		Logger:  logger,
	})

	logger.Debug("runtime assembled",
		"metadata_backend", cfg.Storage.Backend,
		"cache_backend", cfg.Storage.CacheBackend,
		"lock_backend", cfg.Storage.LockBackend,
		"reasoning", s.reasoning != nil,
		"evaluation", s.evaluation != nil,
		"transcribers", registry.List())
	return s, nil
}

func (s *Services) connect(ctx context.Context) error {
	cfg := s.config
	st := cfg.Storage

	if st.Backend == "postgres" || st.CacheBackend == "postgres" || st.LockBackend == "postgres" {
		pgCfg := postgres.DefaultConfig(cfg.Postgres.URL)
		if cfg.Postgres.MaxOpenConns > 0 {
			pgCfg.MaxOpenConns = cfg.Postgres.MaxOpenConns
		}
		db, err := postgres.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		s.db = db
		if err := db.InitSchema(ctx); err != nil {
			return err
		}
		s.logger.Debug("postgres connected")
	}

	if st.CacheBackend == "redis" || st.LockBackend == "redis" {
		client, err := redisadapter.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		s.redisClient = client
		s.logger.Debug("redis connected")
	}
	return nil
}

func (s *Services) buildStores() error {
	cfg := s.config
	var err error

	switch cfg.Storage.Backend {
	case "postgres":
		s.Store = postgres.NewMetadataStore(s.db)
	default:
		if s.Store, err = filestore.NewMetadataStore(cfg.Workdir); err != nil {
			return err
		}
	}

	switch cfg.Storage.CacheBackend {
	case "postgres":
		s.CacheStore = postgres.NewCacheStore(s.db)
	case "redis":
		s.CacheStore = redisadapter.NewCacheStore(s.redisClient, cfg.Redis.Prefix)
	default:
		if s.CacheStore, err = filestore.NewCacheStore(cfg.Workdir); err != nil {
			return err
		}
	}

	switch cfg.Storage.LockBackend {
	case "postgres":
		s.Lock = postgres.NewAdvisoryLock(s.db)
	case "redis":
		s.Lock = redisadapter.NewLock(s.redisClient, cfg.Redis.Prefix)
	case "none":
		s.Lock = nil
	default:
		if s.Lock, err = filestore.NewLock(cfg.Workdir); err != nil {
			return err
		}
	}
	return nil
}

// transcriberRegistry registers the local transcribers and, when configured,
// the remote service as the fallback for every other format.
func (s *Services) transcriberRegistry() (*transcribers.Registry, error) {
	registry := transcribers.DefaultRegistry()
	if s.config.Transcription.Enabled() {
		api, err := s.apiClient("transcription", s.config.Transcription)
		if err != nil {
			return nil, err
		}
		registry.Register(transcription.New(api))
	}
	return registry, nil
}

func (s *Services) apiClient(name string, sc config.ServiceConfig) (*apiclient.Client, error) {
	return apiclient.New(apiclient.Config{
		Service:       name,
		BaseURL:       sc.BaseURL,
		SigningSecret: sc.SigningSecret,
		APIKey:        sc.APIKey,
		Timeout:       sc.Timeout,
		Metrics:       s.metrics,
		Logger:        s.logger,
	})
}

func (s *Services) retryConfig() services.RetryConfig {
	return services.RetryConfig{
		MaxAttempts: s.config.Retry.MaxAttempts,
		Backoff:     domain.Backoff{Initial: s.config.Retry.Initial, Max: s.config.Retry.Max},
	}
}

// PolicyBuilder returns the build orchestrator. It needs the reasoning service.
func (s *Services) PolicyBuilder() (*services.PolicyBuildOrchestrator, error) {
	if s.reasoning == nil {
		return nil, fmt.Errorf("%w: reasoning.base_url is not configured", domain.ErrInvalidInput)
	}
	poller := services.NewPoller(services.PollerConfig{
		Service:            s.reasoning,
		Backoff:            domain.Backoff{Initial: s.config.Poll.Initial, Max: s.config.Poll.Max},
		MaxWait:            s.config.Poll.MaxWait,
		MaxTransientErrors: s.config.Poll.MaxTransientErrors,
		Metrics:            s.metrics,
		Logger:             s.logger,
	})
	return services.NewPolicyBuildOrchestrator(services.PolicyBuildConfig{
		Store:       s.Store,
		Reasoning:   s.reasoning,
		Texts:       s.Extractor,
		Lock:        s.Lock,
		LockTTL:     s.config.Storage.LockTTL,
		Poller:      poller,
		Retry:       s.retryConfig(),
		Concurrency: s.config.Concurrency,
		Metrics:     s.metrics,
		Logger:      s.logger,
	}), nil
}

// ComplianceEvaluator returns the evaluator. It needs both remote services.
func (s *Services) ComplianceEvaluator() (*services.ComplianceEvaluator, error) {
	if s.reasoning == nil {
		return nil, fmt.Errorf("%w: reasoning.base_url is not configured", domain.ErrInvalidInput)
	}
	if s.evaluation == nil {
		return nil, fmt.Errorf("%w: evaluation.base_url is not configured", domain.ErrInvalidInput)
	}
	return services.NewComplianceEvaluator(services.ComplianceEvaluatorConfig{
		Store:       s.Store,
		Reasoning:   s.reasoning,
		Evaluation:  s.evaluation,
		Cache:       s.Cache,
		Retry:       s.retryConfig(),
		MaxSizeMB:   s.config.Documents.MaxSizeMB,
		Concurrency: s.config.Concurrency,
		Metrics:     s.metrics,
		Logger:      s.logger,
	}), nil
}

// Close releases backend connections. Safe to call more than once.
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.redisClient != nil {
		errs = append(errs, s.redisClient.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
