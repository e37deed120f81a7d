// Package main runs the job API server configured from the environment.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go-anomaly-pipeline/internal/config"
	"go-anomaly-pipeline/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("PIPELINE_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.Level())
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	if err := srv.RegisterJobs(ctx); err != nil {
		logger.Error("failed to register jobs", "error", err)
		_ = srv.Close(context.Background())
		os.Exit(1)
	}

	logger.Info("starting pipeline-api", "addr", cfg.ListenAddr)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
