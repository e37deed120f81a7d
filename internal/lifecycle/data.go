package lifecycle

import (
	"context"
	"fmt"
	"io"
	"time"

	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/model"
	"go-anomaly-pipeline/internal/pipeline"
	"go-anomaly-pipeline/internal/protocol"
	"go-anomaly-pipeline/internal/transform"
)

// WriteRequest is one upload of raw input for a job
type WriteRequest struct {
	JobID           string
	Body            io.Reader
	ContentEncoding string
	// ResetStart and ResetEnd request a bucket reset before the data; both
	// empty means none
	ResetStart string
	ResetEnd   string
}

// Write streams an upload through the job's pipeline into its process and
// returns the counts of the upload. Only one upload runs per job at a time.
func (s *Service) Write(ctx context.Context, req WriteRequest) (model.DataCounts, error) {
	start := time.Now()
	rj, unlock, err := s.acquire(ctx, req.JobID)
	if err != nil {
		return model.DataCounts{JobID: req.JobID}, err
	}
	defer unlock()

	counts, err := s.write(ctx, rj, req)
	s.metrics.ObserveWrite(req.JobID, counts, time.Since(start), err)
	return counts, err
}

func (s *Service) write(ctx context.Context, rj *runningJob, req WriteRequest) (model.DataCounts, error) {
	empty := model.DataCounts{JobID: req.JobID}

	reset, err := pipeline.ValidateResetRange(rj.config, req.ResetStart, req.ResetEnd)
	if err != nil {
		return empty, err
	}
	body, err := pipeline.Decode(req.Body, req.ContentEncoding)
	if err != nil {
		return empty, err
	}
	defer body.Close()

	p, err := pipeline.New(rj.config, protocol.NewWriter(rj.proc.Stdin()), rj.Totals(), pipeline.Options{
		MaxLinesPerRecord:                 s.cfg.MaxLinesPerRecord,
		AcceptablePercentDateParseErrors:  s.cfg.AcceptablePercentDateParseErrors,
		AcceptablePercentOutOfOrderErrors: s.cfg.AcceptablePercentOutOfOrderErrors,
		Reset:                             reset,
		Logger:                            s.logger,
	})
	if err != nil {
		return empty, err
	}

	counts, err := p.Write(ctx, body)
	totals := p.Totals()
	rj.setTotals(totals)
	s.persistCounts(ctx, totals)
	return counts, err
}

// FlushRequest asks a job's process to finish what it has been sent
type FlushRequest struct {
	JobID       string
	CalcInterim bool
	Start       string
	End         string
	AdvanceTime string
}

// Flush sends the requested control messages and a flush, then waits for
// the process to acknowledge it
func (s *Service) Flush(ctx context.Context, req FlushRequest) error {
	err := s.flush(ctx, req)
	s.metrics.ObserveFlush(err)
	return err
}

func (s *Service) flush(ctx context.Context, req FlushRequest) error {
	rj, unlock, err := s.acquire(ctx, req.JobID)
	if err != nil {
		return err
	}

	params, err := pipeline.ValidateFlushParams(rj.config, req.CalcInterim, req.Start, req.End, req.AdvanceTime)
	if err != nil {
		unlock()
		return err
	}
	names, err := transform.NewBuilder(rj.config).OutputNames()
	if err != nil {
		unlock()
		return errs.StructuralErr(err)
	}

	cw := protocol.NewControlWriter(protocol.NewWriter(rj.proc.Stdin()), len(names), &rj.flushIDs)
	if err := cw.WriteFlushParams(params); err != nil {
		unlock()
		return errs.InfraErr(fmt.Errorf("write flush params: %w", err))
	}
	id, err := cw.WriteFlush()
	unlock()
	if err != nil {
		return errs.InfraErr(fmt.Errorf("write flush: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FlushTimeout)
	defer cancel()
	if err := rj.proc.WaitForFlush(ctx, id); err != nil {
		return errs.InfraErr(fmt.Errorf("flush %s of job %s not acknowledged: %w", id, req.JobID, err))
	}
	s.logger.Debug("flush acknowledged", "job_id", req.JobID, "flush_id", id)
	return nil
}
