package cmd

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/signalnine/riskarena/internal/config"
)

var (
	cfgFile      string
	flagLogLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "riskarena",
		Short:         "Evaluation harness for smart contract auditing agents",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "riskarena.yaml", "config file path")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (trace, debug, info, warn, error); overrides config")
	root.AddCommand(newServeCmd())
	root.AddCommand(newEvaluateCmd())
	root.AddCommand(newRescoreCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newLeaderboardCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newWatchCmd())
	return root
}

// loadConfig reads the config file, falling back to defaults when it does not
// exist, and loads the secrets env file into the environment.
func loadConfig() (*config.Config, hclog.Logger, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	logger, err := newLogger(level)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Secrets.EnvFile != "" {
		if err := config.LoadSecrets(cfg.Secrets.EnvFile); err != nil {
			logger.Warn("could not load secrets", "path", cfg.Secrets.EnvFile, "error", err)
		}
	}
	return cfg, logger, nil
}

func newLogger(level string) (hclog.Logger, error) {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "riskarena",
		Level:  lvl,
		Output: os.Stderr,
		Color:  hclog.AutoColor,
	}), nil
}
