package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/logsift/logsift/internal/compliance"
	"github.com/logsift/logsift/internal/config"
	"github.com/logsift/logsift/internal/enrich"
	"github.com/logsift/logsift/internal/hashutil"
	"github.com/logsift/logsift/internal/logging"
	"github.com/logsift/logsift/internal/output"
	"github.com/logsift/logsift/internal/pipeline"
	"github.com/logsift/logsift/internal/privacy"
	"github.com/logsift/logsift/internal/record"
	"github.com/logsift/logsift/internal/redact"
	"github.com/logsift/logsift/internal/sanitize"
	"github.com/logsift/logsift/internal/source"
	"github.com/logsift/logsift/internal/tokenstore"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <file>",
	Short: "Run the full sanitization and aggregation pipeline",
	Long: `Stream a log file through sanitization, classification, journey
assembly, and compliance evaluation, then publish noised aggregate
counts and write the run artifacts.

Examples:
  logsift run --output sanitized.ndjson --report report.json app.ndjson
  logsift run --tests journeys.feature --ci-summary ci.json app.ndjson
  logsift run --follow app.ndjson
  logsift run --connector json-lines --store postgres app.ndjson`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().String("connector", "json-lines", "input connector")
	runCmd.Flags().Bool("follow", false, "keep reading as the input grows")
	runCmd.Flags().Bool("follow-rotate", false, "follow the input through log rotation")
	runCmd.Flags().StringP("output", "o", "", "write sanitized NDJSON here (.zst enables compression)")
	runCmd.Flags().String("report", "", "write the JSON run report here")
	runCmd.Flags().String("tests", "", "write generated Gherkin scenarios here")
	runCmd.Flags().String("ci-summary", "", "write a compact CI summary here")
	runCmd.Flags().Float64("epsilon", 0, "per-query privacy budget (overrides config)")
	runCmd.Flags().Float64("budget", 0, "cumulative epsilon ceiling (overrides config)")
	runCmd.Flags().String("store", "", "token store backend: file, postgres, memory (overrides config)")
	runCmd.Flags().String("store-path", "", "token store file path (overrides config)")
	runCmd.Flags().Bool("recognizer", false, "enable the model-backed entity recognizer")
	runCmd.Flags().Int("workers", 0, "sanitization worker count (overrides config)")
	runCmd.Flags().Int("chunk-size", 0, "records per processing chunk (overrides config)")

	_ = viper.BindPFlag("privacy.epsilon", runCmd.Flags().Lookup("epsilon"))
	_ = viper.BindPFlag("privacy.budget_ceiling", runCmd.Flags().Lookup("budget"))
	_ = viper.BindPFlag("token_store.backend", runCmd.Flags().Lookup("store"))
	_ = viper.BindPFlag("token_store.path", runCmd.Flags().Lookup("store-path"))
	_ = viper.BindPFlag("recognizer.enabled", runCmd.Flags().Lookup("recognizer"))
	_ = viper.BindPFlag("pipeline.workers", runCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("pipeline.chunk_size", runCmd.Flags().Lookup("chunk-size"))

	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.NewStderr(cfg.LogLevel, cfg.Verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validator := newValidator(cfg)

	store, err := openStore(ctx, cfg.TokenStore, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("token store close failed")
		}
	}()

	engine, capability, err := buildEngine(cfg, store, logger)
	if err != nil {
		return err
	}

	aggregator, err := privacy.NewAggregator(
		cfg.Privacy.Epsilon, cfg.Privacy.Sensitivity, cfg.Privacy.BudgetCeiling, logger)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Validator:  validator,
		Engine:     engine,
		Store:      store,
		Classifier: enrich.NewRuleClassifier(),
		Enricher:   capability,
		Aggregator: aggregator,
		Compliance: compliance.NewBankingEngine(),
		Fraud:      compliance.NewFraudEngine(),
		Logger:     logger,
	}

	outPath, _ := cmd.Flags().GetString("output")
	if outPath != "" {
		sink, err := output.NewFileRecordSink(outPath)
		if err != nil {
			return err
		}
		defer sink.Close()
		deps.Sink = sink
	}

	connector, _ := cmd.Flags().GetString("connector")
	follow, _ := cmd.Flags().GetBool("follow")
	followRotate, _ := cmd.Flags().GetBool("follow-rotate")

	src, err := source.NewRegistry().Open(connector, source.Options{
		Path:         args[0],
		Follow:       follow,
		FollowRotate: followRotate,
	}, validator, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	orchestrator := pipeline.New(cfg.Pipeline, deps)
	result, err := orchestrator.Run(ctx, src)
	if err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}

	if err := writeArtifacts(cmd, result); err != nil {
		return err
	}
	return output.WriteSummary(os.Stdout, result.Report, output.ColorAuto)
}

func writeArtifacts(cmd *cobra.Command, result *pipeline.Result) error {
	if path, _ := cmd.Flags().GetString("report"); path != "" {
		if err := output.WriteJSONFile(path, result.Report); err != nil {
			return err
		}
	}
	if path, _ := cmd.Flags().GetString("tests"); path != "" {
		if err := output.WriteScenariosFile(path, result.Scenarios); err != nil {
			return err
		}
	}
	if path, _ := cmd.Flags().GetString("ci-summary"); path != "" {
		if err := output.WriteJSONFile(path, pipeline.Summarize(result.Report)); err != nil {
			return err
		}
	}
	return nil
}

func newValidator(cfg config.Config) *record.Validator {
	return record.NewValidator(record.Limits{
		MaxBytes:  cfg.Pipeline.MaxRecordBytes,
		MaxDepth:  cfg.Pipeline.MaxNestingDepth,
		MaxFields: cfg.Pipeline.MaxFieldCount,
	}, record.NewFieldResolver(cfg.LogFormat))
}

// buildEngine assembles the sanitization engine and, when enabled, the
// model capability serving as both recognizer and enricher. A capability
// that fails its heartbeat degrades to pattern-only detection.
func buildEngine(cfg config.Config, store tokenstore.Store, logger zerolog.Logger) (*sanitize.Engine, enrich.Enricher, error) {
	secret := cfg.Sanitizer.HashSecret
	if env := os.Getenv("LOGSIFT_HASH_SECRET"); env != "" {
		secret = env
	}
	keyer, err := hashutil.NewKeyer(cfg.Sanitizer.HashAlgorithm, secret, logger)
	if err != nil {
		return nil, nil, err
	}

	var recognizer redact.Recognizer
	var enricher enrich.Enricher
	if cfg.Recognizer.Enabled {
		capability, err := enrich.NewOllama(cfg.Recognizer, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := capability.Heartbeat(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("recognizer unreachable, degrading to pattern-only detection")
		} else {
			recognizer = capability
			enricher = capability
		}
	} else {
		logger.Info().Msg("recognizer disabled, using pattern-only detection")
	}

	detector := redact.NewDetector(cfg.Sanitizer.Patterns, recognizer, logger)
	return sanitize.NewEngine(detector, keyer, store), enricher, nil
}

func openStore(ctx context.Context, cfg config.TokenStoreConfig, logger zerolog.Logger) (tokenstore.Store, error) {
	switch cfg.Backend {
	case "memory":
		return tokenstore.NewMemory(), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres token store requires token_store.dsn")
		}
		return tokenstore.NewPostgres(ctx, cfg.DSN, logger)
	case "", "file":
		return tokenstore.NewFile(cfg.Path, logger,
			tokenstore.WithBatchSize(cfg.FlushBatchSize),
			tokenstore.WithCompression(cfg.Compress))
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.Backend)
	}
}
