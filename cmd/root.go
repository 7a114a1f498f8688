package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/logsift/logsift/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "logsift",
	Short: "Sanitize banking logs and publish privacy-preserving aggregates",
	Long: `Logsift ingests raw banking and enterprise logs, replaces sensitive
values with stable tokens, and derives privacy-preserving aggregates,
customer journeys, and regression test scenarios from the sanitized
stream.

Examples:
  logsift run --output sanitized.ndjson --report report.json app.ndjson
  logsift run --follow --tests journeys.feature app.ndjson
  logsift sanitize app.ndjson
  logsift tokens stats`,
}

// Execute is called by main.main(). It runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.logsift.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("timestamp-field", "", "custom timestamp field name, tried before the built-in aliases")
	rootCmd.PersistentFlags().String("message-field", "", "custom message field name, tried before the built-in aliases")
	rootCmd.PersistentFlags().String("severity-field", "", "custom severity field name, tried before the built-in aliases")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format.timestamp_field", rootCmd.PersistentFlags().Lookup("timestamp-field"))
	_ = viper.BindPFlag("log_format.message_field", rootCmd.PersistentFlags().Lookup("message-field"))
	_ = viper.BindPFlag("log_format.severity_field", rootCmd.PersistentFlags().Lookup("severity-field"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error finding home directory:", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".logsift")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("LOGSIFT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig materializes the effective configuration: defaults overlaid
// with the config file, environment, and bound flags.
func loadConfig() (config.Config, error) {
	cfg := config.Defaults()
	if err := viper.Unmarshal(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("parse configuration: %w", err)
	}
	return cfg, nil
}
