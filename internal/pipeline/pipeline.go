// Package pipeline reads one upload of raw input, runs the job's transforms
// over every record and writes the accepted records to the analysis process.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/model"
	"go-anomaly-pipeline/internal/protocol"
	"go-anomaly-pipeline/internal/reader"
	"go-anomaly-pipeline/internal/status"
	"go-anomaly-pipeline/internal/transform"
)

// State is the progress of a Pipeline through its single upload
type State int

const (
	Idle State = iota
	HeaderWritten
	Streaming
	Finished
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case HeaderWritten:
		return "header_written"
	case Streaming:
		return "streaming"
	case Finished:
		return "finished"
	default:
		return "failed"
	}
}

// ErrAlreadyRun is returned by Write on a pipeline that has finished or failed
var ErrAlreadyRun = errors.New("pipeline has already run")

// Options tunes a Pipeline beyond what the job config says
type Options struct {
	MaxLinesPerRecord                 int
	AcceptablePercentDateParseErrors  int
	AcceptablePercentOutOfOrderErrors int
	// Reset asks the process to discard results in the range before new data
	Reset  *model.TimeRange
	Logger *slog.Logger
}

// Pipeline writes one upload for one job. It is not reusable: once Write has
// returned, the pipeline is Finished or Failed.
type Pipeline struct {
	job       model.JobConfig
	opts      Options
	builder   *transform.Builder
	out       *protocol.Writer
	control   *protocol.ControlWriter
	reporter  *status.Reporter
	parseTime timeParser
	logger    *slog.Logger
	state     State

	plan   *transform.Plan
	arrays *transform.Arrays
}

// New returns an idle pipeline writing frames to out. persisted seeds the
// running totals and the latest record time of the job.
func New(job model.JobConfig, out *protocol.Writer, persisted model.DataCounts, opts Options) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parse, err := newTimeParser(job.DataDescription.TimeFormat)
	if err != nil {
		return nil, errs.StructuralErr(err)
	}

	builder := transform.NewBuilder(job)
	names, err := builder.OutputNames()
	if err != nil {
		return nil, errs.StructuralErr(err)
	}

	reporter := status.NewReporter(job.ID, status.Config{
		Latency:                           job.Analysis.Latency,
		AcceptablePercentDateParseErrors:  opts.AcceptablePercentDateParseErrors,
		AcceptablePercentOutOfOrderErrors: opts.AcceptablePercentOutOfOrderErrors,
	}, persisted, logger)

	return &Pipeline{
		job:       job,
		opts:      opts,
		builder:   builder,
		out:       out,
		control:   protocol.NewControlWriter(out, len(names), nil),
		reporter:  reporter,
		parseTime: parse,
		logger:    logger.With("job_id", job.ID),
	}, nil
}

// State returns the current state
func (p *Pipeline) State() State {
	return p.state
}

// Totals returns the running totals of the job including this upload
func (p *Pipeline) Totals() model.DataCounts {
	return p.reporter.Total()
}

// Write streams r to the analysis process and returns the counts of this
// upload. Counts are returned even when Write fails part way.
func (p *Pipeline) Write(ctx context.Context, r io.Reader) (model.DataCounts, error) {
	if p.state != Idle {
		return model.DataCounts{}, ErrAlreadyRun
	}

	start := time.Now()
	cr := &countingReader{r: r}
	err := p.write(ctx, cr)
	// complete frames split by the buffer so the stream stays aligned
	if ferr := p.out.Flush(); ferr != nil && err == nil {
		err = errs.InfraErr(fmt.Errorf("flush to process: %w", ferr))
	}
	p.reporter.ReportBytes(cr.n)

	counts := p.reporter.Incremental()
	if err != nil {
		p.state = Failed
		p.logger.Error("upload failed", "error", err, "records", counts.InputRecordCount)
		return counts, err
	}

	p.state = Finished
	p.logger.Info("upload complete",
		"records", counts.InputRecordCount,
		"processed", counts.ProcessedRecordCount,
		"bytes", counts.InputBytes,
		"duration_ms", time.Since(start).Milliseconds())
	return counts, nil
}

func (p *Pipeline) write(ctx context.Context, r io.Reader) error {
	var fields []string
	if p.job.DataDescription.Format == model.FormatJSON {
		fields = p.builder.InputFields()
	}
	opts := reader.OptionsFor(p.job.DataDescription, fields)
	opts.MaxLinesPerRecord = p.opts.MaxLinesPerRecord
	rd, err := reader.New(r, opts)
	if err != nil {
		return errs.StructuralErr(err)
	}

	header, err := rd.ReadHeader()
	if errors.Is(err, io.EOF) {
		p.logger.Debug("empty upload")
		return nil
	}
	if err != nil {
		return readErr(err)
	}

	if err := p.writeHeader(header); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, reader.ErrCorruptRecord) {
			p.logger.Debug("skipping corrupt record", "error", err)
			p.reporter.ReportCorruptRecord()
			continue
		}
		if err != nil {
			return readErr(err)
		}

		if err := p.process(rec); err != nil {
			return err
		}
		if err := p.reporter.Checkpoint(); err != nil {
			return errs.DataErr(err)
		}
	}

	if err := p.out.Flush(); err != nil {
		return errs.InfraErr(fmt.Errorf("flush to process: %w", err))
	}
	if err := p.reporter.Finish(); err != nil {
		return errs.DataErr(err)
	}
	return nil
}

// readErr classifies a reader failure. A record that never ends is a
// structural problem with the input, anything else is bad data.
func readErr(err error) error {
	var ml *reader.MaxLinesError
	if errors.As(err, &ml) {
		return errs.StructuralErr(err)
	}
	return errs.DataErr(err)
}

// writeHeader builds the plan for header and sends the output header,
// followed by the reset request when one was asked for
func (p *Pipeline) writeHeader(header []string) error {
	plan, err := p.builder.Build(header)
	if err != nil {
		return errs.StructuralErr(err)
	}
	p.plan = plan
	p.arrays = plan.NewArrays()

	names := plan.OutputNames()
	row := make([]string, len(names))
	copy(row, names)
	row[len(row)-1] = protocol.HeaderMarker
	if err := p.out.WriteRecord(row); err != nil {
		return errs.InfraErr(err)
	}

	if p.opts.Reset != nil {
		if err := p.control.WriteResetBuckets(p.opts.Reset.Start, p.opts.Reset.End); err != nil {
			return errs.InfraErr(err)
		}
	}
	p.state = HeaderWritten
	return nil
}

// process takes one record through the transform stages and, when it is
// neither excluded nor out of order, writes it to the process
func (p *Pipeline) process(rec reader.Record) error {
	p.reporter.ReportRecordRead(rec.Fields)
	p.reporter.ReportMissingFields(rec.Missing)

	p.load(rec.Values)
	if runStage(p.plan.TimeStage, p.arrays) != transform.OK {
		p.reporter.ReportDateParseError()
		return nil
	}

	epoch, err := p.parseTime(p.arrays.Get(p.plan.Time))
	if err != nil {
		p.reporter.ReportDateParseError()
		return nil
	}
	if runStage(p.plan.PostTimeStage, p.arrays) == transform.Exclude {
		p.reporter.ReportExcluded()
		return nil
	}
	if !p.reporter.Accept(epoch) {
		return nil
	}

	out := p.arrays[transform.OutputArray]
	out[0] = strconv.FormatInt(epoch, 10)
	out[len(out)-1] = ""
	if err := p.out.WriteRecord(out); err != nil {
		return errs.InfraErr(fmt.Errorf("write to process: %w", err))
	}
	p.reporter.ReportWritten(epoch, len(out)-2)
	p.state = Streaming
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n += int64(n)
	return n, err
}
