package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"opsagent/internal/app"
	"opsagent/internal/domain"
	"opsagent/internal/infra/catalog"
)

func withApplication(ctx context.Context, opts *cliOptions, fn func(*app.Application) error) error {
	application, cleanup, err := app.InitializeApplication(ctx, app.ServeConfig{ConfigPath: opts.configPath}, opts.logger)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(application)
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run background maintenance and the metrics endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return withApplication(ctx, opts, func(application *app.Application) error {
				return application.Serve(ctx)
			})
		},
	}
}

func newMCPCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose the tool catalog and the ask tool over stdio MCP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return withApplication(ctx, opts, func(application *app.Application) error {
				return application.ServeMCP(ctx)
			})
		},
	}
}

func newAskCmd(opts *cliOptions) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Run one agent query against the configured accounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return withApplication(ctx, opts, func(application *app.Application) error {
				result, err := application.Ask(ctx, domain.AgentQuery{
					SessionID: sessionID,
					Text:      strings.Join(args, " "),
					Caller:    "cli",
				})
				if err != nil {
					return err
				}
				if err := printAgentResult(cmd.OutOrStdout(), result, opts.jsonOutput); err != nil {
					return err
				}
				if result.Err != nil {
					opts.logger.Warn("agent stopped early", zap.String("outcome", string(result.Outcome)), zap.Error(result.Err))
					return exitSilent(2)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id for conversation history")
	return cmd
}

func newSyncCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh and persist inventory for every configured account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return withApplication(ctx, opts, func(application *app.Application) error {
				results, err := application.Sync(ctx)
				if printErr := printSyncResults(cmd.OutOrStdout(), results, opts.jsonOutput); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}

func newStatsCmd(opts *cliOptions) *cobra.Command {
	var topN int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show tool usage statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), opts, func(application *app.Application) error {
				return printStats(cmd.OutOrStdout(), application.Stats(topN), opts.jsonOutput)
			})
		},
	}
	cmd.Flags().IntVar(&topN, "top", 5, "number of most used tools to list")
	return cmd
}

func newToolsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the aggregated tool catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), opts, func(application *app.Application) error {
				return printTools(cmd.OutOrStdout(), application.Tools(), opts.jsonOutput)
			})
		},
	}
}

func newValidateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file without starting anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := catalog.NewLoader(opts.logger).Load(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			opts.logger.Info("configuration valid",
				zap.String("config", opts.configPath),
				zap.Int("accounts", len(cfg.Accounts)),
				zap.Int("rate_limits", len(cfg.RateLimits)),
				zap.Int("breakers", len(cfg.Breakers)),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", opts.configPath)
			return nil
		},
	}
}

func newInitCmd(opts *cliOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := catalog.WriteTemplate(opts.configPath, force)
			if errors.Is(err, catalog.ErrConfigExists) {
				return exitError{code: 1, message: fmt.Sprintf("%s already exists (use --force to overwrite)", opts.configPath)}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
