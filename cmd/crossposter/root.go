package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"CrossPoster/internal/app"
	"CrossPoster/internal/config"
	"CrossPoster/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:          "crossposter",
	Short:        "Mirror RSS and YouTube feeds to a Mastodon account",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.configPath, "config", "c", "",
		"path to the YAML config (defaults to $CROSSPOSTER_CONFIG)")
	rootCmd.AddCommand(runCmd, onceCmd, sweepCmd)
	rootCmd.Version = version
}

// bootstrap loads the configuration and builds the application.
func bootstrap(ctx context.Context) (*app.Application, *slog.Logger, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return application, logger, nil
}
