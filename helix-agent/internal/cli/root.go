// Package cli holds the helix command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/config"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/logger"
)

const helixLongDesc string = `Helix answers biomedical questions against a Neo4j knowledge graph,
keeping the last few turns of the conversation so follow-up questions
resolve against what was just asked.

Run it using:
  helix serve          Run the HTTP API
  helix ask -q "..."   Answer one question and exit
  helix chat           Interactive conversation on stdin
  helix config         Print the effective configuration`

const helixShortDesc string = "Helix - conversational knowledge graph QA"

// NewHelixCmd returns the root command.
func NewHelixCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "helix",
		Short:         helixShortDesc,
		Long:          helixLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Path to a helix.toml config file")
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("env-file", "", "Load HELIX_* variables from this file (default ./.env if present)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd, honoring --env-file,
// --config and --debug.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := loadEnvFile(cmd); err != nil {
		return nil, err
	}

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not get config flag: %w", err)
	}

	v, err := config.InitViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed("debug") {
		debug, err := cmd.Flags().GetBool("debug")
		if err != nil {
			return nil, fmt.Errorf("could not get debug flag: %w", err)
		}
		cfg.Log.Debug = debug
	}
	return cfg, nil
}

// loadEnvFile exports the variables of an env file. Variables already set in
// the process environment are left alone.
func loadEnvFile(cmd *cobra.Command) error {
	path, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("could not get env-file flag: %w", err)
	}
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	return logger.New(
		logger.WithDebug(cfg.Debug),
		logger.WithJSON(cfg.JSON),
		logger.WithPretty(cfg.Pretty),
		logger.WithWriter(w),
	)
}

// commandContext returns cmd's context, or Background when run outside
// Execute (as in tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
