package main

import (
	"fmt"

	"github.com/jpalmerr/translucent/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a translucent configuration file without starting the server.

This command parses the YAML, expands environment variables, applies
TRANSLUCENT_* overrides, and builds every feed. It's useful for CI/CD
pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  translucent validate -c translucent.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}

	feeds, err := config.BuildFeeds(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	direct := len(cfg.Feeds)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	fmt.Fprintf(out, "  Program:       %s\n", cfg.Program)
	fmt.Fprintf(out, "  Poll interval: %s\n", cfg.PollInterval.Duration())
	fmt.Fprintf(out, "  Values:        %d\n", len(cfg.Values))
	fmt.Fprintf(out, "  Feeds:         %d direct + %d from grids = %d total\n",
		direct, len(feeds)-direct, len(feeds))

	return nil
}
