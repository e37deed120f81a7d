package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go-anomaly-pipeline/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job API server",
	Long: `Run the job API server.

Jobs found in the configured jobs directory are registered on start. On
SIGINT or SIGTERM the server stops accepting requests and closes the jobs
running on this node.

Examples:
  pipeline serve --config pipeline.yaml
  PIPELINE_BACKEND=sqlite pipeline serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	if err := srv.RegisterJobs(ctx); err != nil {
		_ = srv.Close(context.Background())
		return fmt.Errorf("register jobs: %w", err)
	}

	logger.Info("starting pipeline server", "addr", cfg.ListenAddr, "version", Version)
	return srv.Run(ctx)
}
