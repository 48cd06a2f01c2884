package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/covenant/pkg/cli"
	"mercator-hq/covenant/pkg/config"
	"mercator-hq/covenant/pkg/security/secrets"
	"mercator-hq/covenant/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "covenant",
	Short: "Covenant - runtime policy engine for autonomous agents",
	Long: `Covenant enforces declarative policies on autonomous agents at runtime.

It provides:
  - Condition and enforcement evaluation of policies against agent state
  - Guardrail decisions (allow, correct, reroute, escalate, block)
  - Live policy updates pushed to running workflows without a restart
  - Continuous detection of contradictory and overlapping policies`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code for its error.
func Execute() {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, cli.ErrViolation) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.ExitCode(err))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults plus COVENANT_* environment when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, yaml, csv)")
}

// loadConfig loads the configuration for a command, resolves its secret
// references and publishes it as the process configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	resolver, err := secrets.FromConfig(cfg.Secrets, nil)
	if err != nil {
		return nil, cli.NewConfigError("secrets.dir", err.Error())
	}
	if err := resolver.ResolveConfig(context.Background(), cfg); err != nil {
		return nil, cli.NewConfigError("secrets", err.Error())
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	config.SetConfig(cfg)
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(cfg.Telemetry.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return logger, nil
}

// render writes a command result in the --output format.
func render(cmd *cobra.Command, data any) error {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return cli.NewConfigError("output", err.Error())
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), data)
}
