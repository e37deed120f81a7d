package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"go-anomaly-pipeline/internal/config"
	"go-anomaly-pipeline/internal/model"
	"go-anomaly-pipeline/internal/pipeline"
	"go-anomaly-pipeline/internal/protocol"
)

var (
	frameJob        string
	frameOutput     string
	frameEncoding   string
	frameResetStart string
	frameResetEnd   string
)

var frameCmd = &cobra.Command{
	Use:   "frame [input]",
	Short: "Run the record pipeline offline and write the frames to a file",
	Long: `Run the record pipeline of a job over an input file, or stdin, and write
the framed records the analysis process would receive. The data counts of
the run are printed to stderr as JSON.

Examples:
  pipeline frame --job jobs/web.yaml access.csv -o web.frames
  zcat access.json.gz | pipeline frame --job jobs/web.yaml > web.frames`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFrame,
}

func init() {
	frameCmd.Flags().StringVarP(&frameJob, "job", "j", "", "job configuration file (YAML)")
	frameCmd.Flags().StringVarP(&frameOutput, "output", "o", "", "frame output file (default stdout)")
	frameCmd.Flags().StringVar(&frameEncoding, "encoding", "", "input content encoding: gzip or zstd")
	frameCmd.Flags().StringVar(&frameResetStart, "reset-start", "", "start of the buckets to reset")
	frameCmd.Flags().StringVar(&frameResetEnd, "reset-end", "", "end of the buckets to reset")
	_ = frameCmd.MarkFlagRequired("job")
}

func runFrame(cmd *cobra.Command, args []string) error {
	job, err := config.LoadJobFile(frameJob)
	if err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = strings.TrimSuffix(filepath.Base(frameJob), filepath.Ext(frameJob))
	}
	if err := pipeline.ValidateJob(job); err != nil {
		return err
	}
	reset, err := pipeline.ValidateResetRange(job, frameResetStart, frameResetEnd)
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	body, err := pipeline.Decode(in, frameEncoding)
	if err != nil {
		return err
	}
	defer body.Close()

	var out io.Writer = cmd.OutOrStdout()
	if frameOutput != "" {
		f, err := os.Create(frameOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	p, err := pipeline.New(job, protocol.NewWriter(out), model.DataCounts{JobID: job.ID}, pipeline.Options{
		MaxLinesPerRecord:                 cfg.MaxLinesPerRecord,
		AcceptablePercentDateParseErrors:  cfg.AcceptablePercentDateParseErrors,
		AcceptablePercentOutOfOrderErrors: cfg.AcceptablePercentOutOfOrderErrors,
		Reset:                             reset,
		Logger:                            logger,
	})
	if err != nil {
		return err
	}
	counts, writeErr := p.Write(cmd.Context(), body)

	enc := json.NewEncoder(cmd.ErrOrStderr())
	enc.SetIndent("", "  ")
	if err := enc.Encode(counts); err != nil {
		return err
	}
	return writeErr
}
