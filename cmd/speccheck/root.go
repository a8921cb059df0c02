package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/custodia-labs/speccheck/internal/config"
	"github.com/custodia-labs/speccheck/internal/metrics"
	"github.com/custodia-labs/speccheck/internal/runtime"
)

// app carries what every subcommand shares.
type app struct {
	v      *viper.Viper
	out    io.Writer
	cfg    *config.Config
	logger *slog.Logger

	// opts replaces adapters when set (tests)
	opts runtime.Options
}

func newRootCmd(v *viper.Viper, out io.Writer) *cobra.Command {
	return newRootCmdWith(&app{v: v, out: out})
}

func newRootCmdWith(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "speccheck",
		Short:         "Turn technical specifications into verifiable policies and check proposals against them",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.String("workdir", "", "directory holding metadata, cache and locks (default ./transcriptions)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.Int("concurrency", 0, "sections processed in parallel")
	_ = a.v.BindPFlag("workdir", flags.Lookup("workdir"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("concurrency", flags.Lookup("concurrency"))

	// --transcription-dir is the older name of --workdir
	root.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "transcription-dir" {
			name = "workdir"
		}
		return pflag.NormalizedName(name)
	})
	root.AddCommand(
		newExtractCmd(a),
		newCreatePoliciesCmd(a),
		newEvaluateCmd(a),
		newStatusCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(a.logger)
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// run assembles the runtime for one stage, executes fn, then trims the cache
// and pushes metrics. Cleanup failures are logged, not returned.
func (a *app) run(ctx context.Context, stage string, fn func(ctx context.Context, s *runtime.Services) error) error {
	m := metrics.New()
	s, err := runtime.Build(ctx, a.cfg, m, a.logger, a.opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.logger.Warn("failed to close backends", "error", err)
		}
	}()

	start := time.Now()
	runErr := fn(ctx, s)
	m.ObserveStage(stage+"-total", time.Since(start))

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if removed, err := s.Cache.Purge(cleanupCtx); err != nil {
		a.logger.Warn("cache purge failed", "error", err)
	} else if removed > 0 {
		a.logger.Debug("cache purged", "removed", removed)
	}
	if err := m.Push(cleanupCtx, a.cfg.Metrics.PushgatewayURL, "speccheck_"+stage); err != nil {
		a.logger.Warn("metrics push failed", "error", err)
	}

	if runErr != nil {
		a.logger.Error(stage+" failed", "error", runErr, "duration", time.Since(start))
		return runErr
	}
	a.logger.Info(stage+" finished", "duration", time.Since(start))
	return nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
