package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/verdant/internal/common"
	"github.com/ternarybob/verdant/internal/dupindex"
	"github.com/ternarybob/verdant/internal/embedder"
	"github.com/ternarybob/verdant/internal/fetcher"
	"github.com/ternarybob/verdant/internal/interfaces"
	"github.com/ternarybob/verdant/internal/ledger"
	"github.com/ternarybob/verdant/internal/pipeline"
	"github.com/ternarybob/verdant/internal/ratelimit"
	"github.com/ternarybob/verdant/internal/sources"
	"github.com/ternarybob/verdant/internal/validator"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	forceFlag    = flag.Bool("force", false, "Reprocess items that already reached a terminal state")
	exportPath   = flag.String("export", "", "Write a JSONL ledger export to this path after the run")
	scheduleFlag = flag.Bool("schedule", false, "Run on the configured cron cadence instead of once")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Verdant version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence:
	// 1. Load config (defaults -> files -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner

	if len(configFiles) == 0 {
		if _, err := os.Stat("verdant.toml"); err == nil {
			configFiles = append(configFiles, "verdant.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *forceFlag, *exportPath)

	logger := common.InitLogger(config)

	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("environment", config.Environment).
		Str("badger_path", config.Storage.Badger.Path).
		Str("images_dir", config.Storage.Filesystem.Images).
		Str("sources_dir", config.Sources.Dir).
		Msg("Configuration loaded")

	service, ldg, err := buildPipeline(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize pipeline")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	if *scheduleFlag || config.Schedule.Enabled {
		scheduler, err := pipeline.NewScheduler(service, config.Schedule.Cron, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize scheduler")
			os.Exit(1)
		}
		scheduler.Start(ctx)
		logger.Info().Str("cron", config.Schedule.Cron).Msg("Running on schedule - Press Ctrl+C to stop")
		<-ctx.Done()
		scheduler.Stop()
	} else {
		summary, err := service.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Pipeline run aborted")
			exitCode = 1
		}
		fmt.Printf("run %s: discovered=%d skipped=%d kept=%d rejected=%d failed=%d success_rate=%.2f\n",
			summary.RunID, summary.Discovered, summary.Skipped,
			summary.Kept, summary.Rejected, summary.Failed, summary.SuccessRate)
	}

	if config.Export.Path != "" {
		if err := exportLedger(ldg, config.Export.Path, logger); err != nil {
			logger.Error().Err(err).Msg("Ledger export failed")
			exitCode = 1
		}
	}

	if err := ldg.Close(); err != nil {
		logger.Error().Err(err).Msg("Ledger close failed")
	}
	os.Exit(exitCode)
}

// buildPipeline wires the pipeline services from configuration.
func buildPipeline(config *common.Config, logger arbor.ILogger) (*pipeline.Service, interfaces.Ledger, error) {
	defs, err := sources.LoadCatalog(config.Sources.Dir, logger)
	if err != nil {
		return nil, nil, err
	}
	adapters, err := sources.BuildAdapters(defs, logger)
	if err != nil {
		return nil, nil, err
	}

	limiter := ratelimit.NewLimiter(config.DefaultRateLimit())

	policy := &fetcher.RetryPolicy{
		MaxAttempts:       config.Pipeline.MaxAttempts,
		InitialBackoff:    config.Pipeline.BackoffBase.Std(),
		MaxBackoff:        config.Pipeline.BackoffMax.Std(),
		BackoffMultiplier: 2.0,
	}
	f, err := fetcher.New(fetcher.Config{
		BaseDir:     config.Storage.Filesystem.Images,
		MaxBodySize: config.Pipeline.MaxBodySize,
		Timeout:     config.Pipeline.FetchTimeout.Std(),
		UserAgent:   config.Pipeline.UserAgent,
	}, limiter, policy, logger)
	if err != nil {
		return nil, nil, err
	}

	v := validator.New(config.Validator, logger)

	emb, err := buildEmbedder(config, logger)
	if err != nil {
		return nil, nil, err
	}

	index, err := dupindex.New(config.Dedup.Metric, config.Dedup.Threshold, logger)
	if err != nil {
		return nil, nil, err
	}

	ldg, err := ledger.New(&config.Storage.Badger, logger)
	if err != nil {
		return nil, nil, err
	}

	return pipeline.NewService(config, adapters, limiter, f, v, emb, index, ldg, logger), ldg, nil
}

func buildEmbedder(config *common.Config, logger arbor.ILogger) (interfaces.Embedder, error) {
	switch config.Embedding.Provider {
	case "gemini":
		return embedder.NewGeminiEmbedder(context.Background(),
			config.Embedding.APIKey, config.Embedding.Model, config.Embedding.Dimension, logger)
	case "http":
		return embedder.NewClient(config.Embedding.Endpoint, config.Embedding.Model, config.Embedding.Dimension,
			embedder.WithLogger(logger),
			embedder.WithTimeout(config.Embedding.Timeout.Std()),
			embedder.WithRateLimit(config.Embedding.RateLimit),
			embedder.WithMaxAttempts(config.Embedding.MaxAttempts),
		), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Embedding.Provider)
	}
}

func exportLedger(ldg interfaces.Ledger, path string, logger arbor.ILogger) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	count, err := ldg.Export(file)
	if err != nil {
		return err
	}

	logger.Info().Str("path", path).Int("records", count).Msg("Ledger exported")
	return nil
}
