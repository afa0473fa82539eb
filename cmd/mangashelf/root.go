package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tendant/mangashelf/pkg/mangashelf/config"
)

type rootOptions struct {
	configFile string
	envFiles   []string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mangashelf",
		Short: "Manga library server",
		Long: `mangashelf serves a manga library: catalog listings, page media and
the upload workflow that turns staged images into chapters.

Configuration is read from an optional config file, .env files and the
environment, in that order.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newFlushCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newCreateAdminCmd(opts))
	cmd.AddCommand(newVerifyCmd(opts))
	cmd.AddCommand(newEnvCmd())
	return cmd
}

// load resolves the configuration and installs the default logger
func (o *rootOptions) load(extra ...config.Option) (*config.Config, *slog.Logger, error) {
	opts := []config.Option{config.WithDotEnv(o.envFiles...)}
	if o.configFile != "" {
		opts = append(opts, config.WithFile(o.configFile))
	}
	opts = append(opts, config.WithEnv())
	opts = append(opts, config.WithLogging(o.logLevel, ""))
	opts = append(opts, extra...)

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// build loads the configuration and assembles the application
func (o *rootOptions) build(ctx context.Context, extra ...config.Option) (*config.App, *slog.Logger, error) {
	cfg, logger, err := o.load(extra...)
	if err != nil {
		return nil, nil, err
	}
	app, err := cfg.Build(ctx, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build application: %w", err)
	}
	return app, logger, nil
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe the environment variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.Usage())
			return nil
		},
	}
}
