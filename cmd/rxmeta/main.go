// Package main provides the rxmeta command line entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinformatics/rxmeta/internal/api"
	"github.com/clinformatics/rxmeta/internal/observability/metrics"
	"github.com/clinformatics/rxmeta/internal/observability/tracing"
	"github.com/clinformatics/rxmeta/internal/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rxmeta",
		Short: "Build i2b2 drug metadata from the NLM RxNav service",
	}
	root.AddCommand(newBuildCmd())
	return root
}

func newBuildCmd() *cobra.Command {
	settings := pipeline.DefaultSettings()
	var otlpEndpoint string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run a full metadata build",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if settings.CachePath == "" {
				return fmt.Errorf("--cache is required")
			}
			return runBuild(cmd.Context(), settings, otlpEndpoint)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&settings.CachePath, "cache", "", "append-only response cache file (required)")
	flags.StringVar(&settings.OutputDir, "output-dir", settings.OutputDir, "directory for the metadata file")
	flags.StringVar(&settings.OutputFilename, "output-filename", settings.OutputFilename, "metadata file name")
	flags.StringVar(&settings.LogDir, "log-dir", "", "directory for the run log; empty logs to stderr")
	flags.StringVar(&settings.Prefix, "prefix", settings.Prefix, "leading path segment(s) of every row")
	flags.IntVar(&settings.PrefixLevel, "prefix-level", 0, "level of the root row; 0 derives it from the prefix")
	flags.IntVar(&settings.Workers, "workers", settings.Workers, "harvest worker count")
	flags.BoolVar(&settings.AddProvenance, "add-provenance", false, "emit the PROVENANCE folder and mark legacy rows")
	flags.StringVar(&settings.SourceVersion, "source-version", settings.SourceVersion, "version label for the PROVENANCE folder")
	flags.BoolVar(&settings.NoModifiers, "no-modifiers", false, "suppress modifier row pass-through")
	flags.StringVar(&settings.ModifiersFile, "modifiers-file", "", "modifier metadata file to pass through")
	flags.StringVar(&settings.NDCNamesFile, "ndc-names-file", "", "FDA-derived package name table")
	flags.StringVar(&settings.DatabaseURL, "database-url", "", "bulk-load rows into this Postgres database")
	flags.StringVar(&settings.DatabaseTable, "database-table", settings.DatabaseTable, "target metadata table")
	flags.StringVar(&settings.StatusAddr, "status-addr", "", "status/metrics HTTP listen address; empty disables")
	flags.BoolVar(&settings.Append, "append", false, "append to the output file without a header")
	flags.StringVar(&settings.BaseURL, "base-url", "", "override the RxNav endpoint")
	flags.StringVar(&settings.LegacyRootID, "legacy-root", settings.LegacyRootID, "legacy taxonomy root class; empty disables the fallback")
	flags.StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces; empty disables tracing export")

	return cmd
}

func runBuild(parent context.Context, settings pipeline.Settings, otlpEndpoint string) error {
	logger, err := newLogger(settings.LogDir)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if otlpEndpoint != "" {
		provider, err := tracing.Init(ctx, "rxmeta", otlpEndpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracing shutdown", zap.Error(err))
			}
		}()
	}

	m := metrics.New()
	progress := &pipeline.Progress{}

	if settings.StatusAddr != "" {
		server := api.NewServer(settings.StatusAddr, progress, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown", zap.Error(err))
			}
		}()
	}

	result, err := pipeline.New(settings, logger, m, progress).Run(ctx)
	if err != nil {
		logger.Error("build failed", zap.Error(err))
		return err
	}

	fmt.Printf("wrote %d rows (%d concepts, %d skipped) to %s in %s\n",
		result.Rows, result.Concepts, result.SeedsSkipped, result.OutputPath,
		result.Duration.Round(time.Second))
	return nil
}

// newLogger builds a production logger, writing to a timestamped file under
// logDir when given.
func newLogger(logDir string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		name := fmt.Sprintf("rxmeta_%s.log", time.Now().Format("20060102_150405"))
		cfg.OutputPaths = []string{filepath.Join(logDir, name)}
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
