// Package cli provides the command-line interface of the pipeline.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go-anomaly-pipeline/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configPath string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
	// closes the log file opened by PersistentPreRunE
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Anomaly detection data pipeline",
	Long: `Pipeline ingests raw records for anomaly detection jobs, transforms them
and streams them to an analysis process per job.

Run "pipeline serve" for the job API, or use "frame" and "inspect" to run
the record pipeline offline against a job configuration.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		level := cfg.Level()
		if logLevel != "" {
			level = config.ParseLogLevel(logLevel)
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PIPELINE_CONFIG"), "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(frameCmd)
	rootCmd.AddCommand(inspectCmd)
}
