// Package config loads speccheck settings from an optional speccheck.yaml,
// SPECCHECK_* environment variables and command-line flags bound by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/custodia-labs/speccheck/internal/core/domain"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SPECCHECK"

// secretKeys may also be supplied as <ENV>_FILE pointing at a mounted secret.
var secretKeys = []string{
	"reasoning.signing_secret",
	"reasoning.api_key",
	"evaluation.signing_secret",
	"evaluation.api_key",
	"transcription.signing_secret",
	"transcription.api_key",
	"postgres.url",
	"redis.url",
}

type Config struct {
	Workdir       string `validate:"required"`
	Documents     DocumentsConfig
	Storage       StorageConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Cache         CacheConfig
	Sections      SectionsConfig
	Reasoning     ServiceConfig
	Evaluation    ServiceConfig
	Transcription ServiceConfig
	Poll          PollConfig
	Retry         RetryConfig
	Concurrency   int `validate:"min=1,max=64"`
	Log           LogConfig
	Metrics       MetricsConfig
}

type DocumentsConfig struct {
	MaxSizeMB float64 `validate:"gt=0"`
}

// StorageConfig selects the backends. Metadata lives in files or postgres;
// the cache and the lock may additionally use redis.
type StorageConfig struct {
	Backend      string `validate:"oneof=file postgres"`
	CacheBackend string `validate:"oneof=file postgres redis"`
	LockBackend  string `validate:"oneof=file postgres redis none"`
	LockTTL      time.Duration
}

type PostgresConfig struct {
	URL          string
	MaxOpenConns int `validate:"min=1"`
}

type RedisConfig struct {
	URL    string
	Prefix string
}

type CacheConfig struct {
	// MaxEntries bounds the cache after each run (0 = unbounded)
	MaxEntries int `validate:"min=0"`
}

type SectionsConfig struct {
	HeadingLevel int `validate:"min=1,max=6"`
	MinChars     int `validate:"min=0"`
	MaxChars     int `validate:"min=1"`
}

// ServiceConfig addresses one remote HTTP service.
type ServiceConfig struct {
	BaseURL       string `validate:"omitempty,url"`
	SigningSecret string
	APIKey        string
	Timeout       time.Duration
}

// Enabled reports whether a base URL was configured.
func (s ServiceConfig) Enabled() bool {
	return s.BaseURL != ""
}

type PollConfig struct {
	Initial            time.Duration `validate:"gt=0"`
	Max                time.Duration `validate:"gtefield=Initial"`
	MaxWait            time.Duration `validate:"gt=0"`
	MaxTransientErrors int           `validate:"min=0"`
}

type RetryConfig struct {
	MaxAttempts int           `validate:"min=1"`
	Initial     time.Duration `validate:"gt=0"`
	Max         time.Duration `validate:"gtefield=Initial"`
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=text json"`
}

type MetricsConfig struct {
	PushgatewayURL string `validate:"omitempty,url"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workdir", "./transcriptions")
	v.SetDefault("documents.max_size_mb", 4.5)
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.cache_backend", "file")
	v.SetDefault("storage.lock_backend", "file")
	v.SetDefault("storage.lock_ttl", 2*time.Hour)
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("redis.prefix", "speccheck:")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("sections.heading_level", 2)
	v.SetDefault("sections.min_chars", 200)
	v.SetDefault("sections.max_chars", 8000)
	v.SetDefault("reasoning.timeout", 60*time.Second)
	v.SetDefault("evaluation.timeout", 120*time.Second)
	v.SetDefault("transcription.timeout", 10*time.Minute)
	v.SetDefault("poll.initial", 2*time.Second)
	v.SetDefault("poll.max", time.Minute)
	v.SetDefault("poll.max_wait", 30*time.Minute)
	v.SetDefault("poll.max_transient_errors", 5)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial", 500*time.Millisecond)
	v.SetDefault("retry.max", 30*time.Second)
	v.SetDefault("concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration into a typed Config and validates it.
// A missing config file is not an error; a malformed one is.
func Load(v *viper.Viper) (*Config, error) {
	for _, key := range secretKeys {
		readSecret(envKey(key))
	}

	v.SetConfigName("speccheck")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		_ = v.BindEnv(key, envKey(key))
	}

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Workdir: v.GetString("workdir"),
		Documents: DocumentsConfig{
			MaxSizeMB: v.GetFloat64("documents.max_size_mb"),
		},
		Storage: StorageConfig{
			Backend:      v.GetString("storage.backend"),
			CacheBackend: v.GetString("storage.cache_backend"),
			LockBackend:  v.GetString("storage.lock_backend"),
			LockTTL:      v.GetDuration("storage.lock_ttl"),
		},
		Postgres: PostgresConfig{
			URL:          v.GetString("postgres.url"),
			MaxOpenConns: v.GetInt("postgres.max_open_conns"),
		},
		Redis: RedisConfig{
			URL:    v.GetString("redis.url"),
			Prefix: v.GetString("redis.prefix"),
		},
		Cache: CacheConfig{
			MaxEntries: v.GetInt("cache.max_entries"),
		},
		Sections: SectionsConfig{
			HeadingLevel: v.GetInt("sections.heading_level"),
			MinChars:     v.GetInt("sections.min_chars"),
			MaxChars:     v.GetInt("sections.max_chars"),
		},
		Reasoning:     serviceConfig(v, "reasoning"),
		Evaluation:    serviceConfig(v, "evaluation"),
		Transcription: serviceConfig(v, "transcription"),
		Poll: PollConfig{
			Initial:            v.GetDuration("poll.initial"),
			Max:                v.GetDuration("poll.max"),
			MaxWait:            v.GetDuration("poll.max_wait"),
			MaxTransientErrors: v.GetInt("poll.max_transient_errors"),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			Initial:     v.GetDuration("retry.initial"),
			Max:         v.GetDuration("retry.max"),
		},
		Concurrency: v.GetInt("concurrency"),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: v.GetString("metrics.pushgateway_url"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the backend/URL combinations.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: invalid configuration: %v", domain.ErrInvalidInput, err)
	}

	needsPostgres := c.Storage.Backend == "postgres" || c.Storage.CacheBackend == "postgres" || c.Storage.LockBackend == "postgres"
	if needsPostgres && c.Postgres.URL == "" {
		return fmt.Errorf("%w: postgres.url is required by the selected storage backends", domain.ErrInvalidInput)
	}
	needsRedis := c.Storage.CacheBackend == "redis" || c.Storage.LockBackend == "redis"
	if needsRedis && c.Redis.URL == "" {
		return fmt.Errorf("%w: redis.url is required by the selected storage backends", domain.ErrInvalidInput)
	}
	return nil
}

func serviceConfig(v *viper.Viper, name string) ServiceConfig {
	return ServiceConfig{
		BaseURL:       v.GetString(name + ".base_url"),
		SigningSecret: v.GetString(name + ".signing_secret"),
		APIKey:        v.GetString(name + ".api_key"),
		Timeout:       v.GetDuration(name + ".timeout"),
	}
}

func envKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// readSecret fills ENV from the file named by ENV_FILE when ENV itself is unset.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	path := os.Getenv(envKey + "_FILE")
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}
