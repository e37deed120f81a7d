package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go-anomaly-pipeline/internal/protocol"
)

var inspectLimit int

var inspectCmd = &cobra.Command{
	Use:   "inspect [frames]",
	Short: "Print the records of a frame file",
	Long: `Print the records of a frame file written by "frame", or read from stdin.
The header comes first; control messages are shown by their code.

Examples:
  pipeline inspect web.frames
  pipeline frame --job jobs/web.yaml access.csv | pipeline inspect -n 10`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().IntVarP(&inspectLimit, "limit", "n", 0, "stop after this many records (0 for all)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open frames: %w", err)
		}
		defer f.Close()
		in = f
	}

	out := cmd.OutOrStdout()
	dec := protocol.NewDecoder(in)
	for n := 0; inspectLimit <= 0 || n < inspectLimit; n++ {
		fields, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		fmt.Fprintln(out, describeRecord(n, fields))
	}
	return nil
}

func describeRecord(n int, fields []string) string {
	if n == 0 {
		return "header  " + strings.Join(fields, ",")
	}
	if msg, ok := protocol.ControlMessage(fields); ok {
		if protocol.IsPadding(msg) {
			return "control <padding>"
		}
		return "control " + msg
	}
	if len(fields) == 0 {
		return "record"
	}
	return "record  " + strings.Join(fields[:len(fields)-1], ",")
}
