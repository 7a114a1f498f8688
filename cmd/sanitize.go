package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logsift/logsift/internal/logging"
	"github.com/logsift/logsift/internal/output"
	"github.com/logsift/logsift/internal/record"
	"github.com/logsift/logsift/internal/source"
	"github.com/logsift/logsift/internal/stream"
)

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize [flags] <file>",
	Short: "Sanitize a log file without aggregation",
	Long: `Tokenize sensitive values in a log file and emit the sanitized
NDJSON stream, skipping aggregation, journeys, and compliance
evaluation. Token mappings persist in the configured store so later
runs coin identical tokens.

Examples:
  logsift sanitize app.ndjson > sanitized.ndjson
  logsift sanitize --output sanitized.ndjson.zst app.ndjson`,
	Args: cobra.ExactArgs(1),
	RunE: runSanitize,
}

func init() {
	sanitizeCmd.Flags().StringP("output", "o", "", "write sanitized NDJSON here instead of stdout (.zst enables compression)")

	rootCmd.AddCommand(sanitizeCmd)
}

func runSanitize(cmd *cobra.Command, args []string) error {
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

	engine, _, err := buildEngine(cfg, store, logger)
	if err != nil {
		return err
	}

	var sink *output.RecordSink
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		sink, err = output.NewFileRecordSink(path)
	} else {
		sink, err = output.NewRecordSink(os.Stdout, cfg.Output.Compress)
	}
	if err != nil {
		return err
	}
	defer sink.Close()

	src, err := source.NewRegistry().Open("json-lines", source.Options{Path: args[0]}, validator, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	processed, skipped := 0, 0
	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, stream.ErrDone) {
			break
		}
		if errors.Is(err, record.ErrInvalid) {
			skipped++
			continue
		}
		if errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		if err := validator.Validate(rec); err != nil {
			skipped++
			continue
		}

		result, err := engine.Sanitize(ctx, rec)
		if err != nil {
			return fmt.Errorf("sanitize record: %w", err)
		}
		if err := sink.Write(result.Record); err != nil {
			return err
		}
		processed++
	}

	if err := store.Flush(context.Background()); err != nil {
		return err
	}

	logger.Info().Int("records", processed).Int("skipped", skipped).Msg("sanitization complete")
	return nil
}
