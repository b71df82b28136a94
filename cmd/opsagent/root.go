package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"opsagent/internal/app"
)

type cliOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	jsonOutput bool
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := cliOptions{
		configPath: "opsagent.yaml",
		logLevel:   "info",
		logFormat:  "json",
		logger:     zap.NewNop(),
	}

	root := &cobra.Command{
		Use:           "opsagent",
		Short:         "Cloud operations agent with guarded tool orchestration",
		Version:       app.Version + " (" + app.Build + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := app.NewLogger(app.LoggingConfig{
				Level:  strings.TrimSpace(opts.logLevel),
				Format: strings.TrimSpace(opts.logFormat),
			})
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", opts.configPath, "path to config file (yaml, toml or json)")
	flags.StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", opts.logFormat, "log format (json or console)")
	addJSONFlag(flags, &opts.jsonOutput)

	root.AddCommand(
		newServeCmd(&opts),
		newMCPCmd(&opts),
		newAskCmd(&opts),
		newSyncCmd(&opts),
		newStatsCmd(&opts),
		newToolsCmd(&opts),
		newValidateCmd(&opts),
		newInitCmd(&opts),
	)

	return root
}

func addJSONFlag(flags *pflag.FlagSet, target *bool) {
	flags.BoolVar(target, "json", false, "output JSON")
}
