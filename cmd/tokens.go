package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/logsift/logsift/internal/logging"
	"github.com/logsift/logsift/internal/output"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Inspect the token store",
}

var tokensStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show token store statistics",
	Long: `Load the configured token store and report how many distinct
sensitive values have been tokenized.

Examples:
  logsift tokens stats
  logsift tokens stats --format json`,
	RunE: runTokensStats,
}

func init() {
	tokensStatsCmd.Flags().String("format", "text", "output format (text, json)")

	tokensCmd.AddCommand(tokensStatsCmd)
	rootCmd.AddCommand(tokensCmd)
}

func runTokensStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.NewStderr(cfg.LogLevel, cfg.Verbose)

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg.TokenStore, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("token store close failed")
		}
	}()

	stats := struct {
		Backend string `json:"backend"`
		Path    string `json:"path,omitempty"`
		Tokens  int    `json:"tokens"`
	}{
		Backend: cfg.TokenStore.Backend,
		Tokens:  store.Len(),
	}
	if stats.Backend == "" {
		stats.Backend = "file"
	}
	if stats.Backend == "file" {
		stats.Path = cfg.TokenStore.Path
	}

	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		return output.WriteJSON(os.Stdout, stats)
	}

	fmt.Printf("backend: %s\n", stats.Backend)
	if stats.Path != "" {
		fmt.Printf("path:    %s\n", stats.Path)
	}
	fmt.Printf("tokens:  %d\n", stats.Tokens)
	return nil
}
