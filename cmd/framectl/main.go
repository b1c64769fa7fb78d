package main

import (
	"fmt"
	"os"

	"github.com/danmuck/framelink/internal/logging"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logging.ConfigureRuntime()

	rootCmd := &cobra.Command{
		Use:           "framectl",
		Short:         "Run or talk to a framelink messaging server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "path to framectl.toml")

	rootCmd.AddCommand(
		serveCmd(),
		sendCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "framectl: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "framectl %s (%s)\n", version, commit)
		},
	}
}

// loadCommandConfig resolves --config and applies the configured log level.
func loadCommandConfig(cmd *cobra.Command) (runtimeConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return runtimeConfig{}, err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return runtimeConfig{}, err
	}
	if cfg.LogLevel != "" && !logging.SetLevel(cfg.LogLevel) {
		return runtimeConfig{}, fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	return cfg, nil
}
