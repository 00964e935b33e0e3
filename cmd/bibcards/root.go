package main

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bibcards/internal/config"
	"github.com/JonMunkholm/bibcards/internal/core"
	"github.com/JonMunkholm/bibcards/internal/logging"
	"github.com/JonMunkholm/bibcards/internal/render"
)

// commandContext carries what every subcommand shares.
type commandContext struct {
	logLevel  string
	logFormat string
	noEnvFile bool

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "bibcards",
		Short:         "Generate race bib cards from a participant CSV",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(cmd.ErrOrStderr(), ctx.logLevel, ctx.logFormat)
			slog.SetDefault(logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&ctx.logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().BoolVar(&ctx.noEnvFile, "no-env-file", false, "Do not read a .env file")

	rootCmd.AddCommand(newInspectCommand())
	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))

	return rootCmd
}

// config loads the environment configuration once.
func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	if !c.noEnvFile {
		// A missing .env file is fine; existing variables win.
		_ = godotenv.Load()
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// newService builds a single-session service from the configuration,
// with export settings adjusted by the caller.
func (c *commandContext) newService(adjust func(*core.Options)) (*core.Service, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	opts := cfg.ServiceOptions(render.Factory)
	opts.MaxSessions = 1
	if adjust != nil {
		adjust(&opts)
	}
	svc, err := core.NewService(opts)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return svc, nil
}
