package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"go-identity-service/internal/app"
	"go-identity-service/internal/config"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (default)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("config_file", configFile).Wrap(err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		return err
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("application run failed", "error", err)
		return err
	}
	return nil
}
