// Package lifecycle runs jobs on a node: it registers, opens, feeds, flushes,
// closes and deletes them, recording every state change through the
// coordinator.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go-anomaly-pipeline/internal/coordinator"
	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/job"
	"go-anomaly-pipeline/internal/metrics"
	"go-anomaly-pipeline/internal/model"
	"go-anomaly-pipeline/internal/pipeline"
	"go-anomaly-pipeline/internal/process"
	"go-anomaly-pipeline/internal/worker"
)

// DefaultTimeout bounds lifecycle waits when the caller gives none
const DefaultTimeout = 30 * time.Minute

var (
	// ErrJobInUse is returned when a job's input is already being written
	ErrJobInUse = errors.New("job is in use by another request")
	// ErrJobNotOpen is returned for data or flush requests on a job that is
	// not running on this node
	ErrJobNotOpen = errors.New("job is not open")
)

// Config tunes a Service
type Config struct {
	DefaultTimeout                    time.Duration
	FlushTimeout                      time.Duration
	MaxLinesPerRecord                 int
	AcceptablePercentDateParseErrors  int
	AcceptablePercentOutOfOrderErrors int
}

// Service owns the analysis processes of the jobs opened on this node
type Service struct {
	coord    *coordinator.Coordinator
	launcher process.Launcher
	pool     *worker.Pool
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	running map[string]*runningJob
}

// runningJob is a job whose process runs on this node
type runningJob struct {
	handle model.JobTaskHandle
	config model.JobConfig
	proc   process.Process

	// inUse is held while the process input is written
	inUse    sync.Mutex
	flushIDs atomic.Uint64
	stopping atomic.Bool
	drain    sync.Once
	detach   sync.Once
	// stopWatch ends the metadata watch of the job
	stopWatch context.CancelFunc

	totalsMu sync.Mutex
	totals   model.DataCounts
}

func (rj *runningJob) Totals() model.DataCounts {
	rj.totalsMu.Lock()
	defer rj.totalsMu.Unlock()
	return rj.totals.Clone()
}

func (rj *runningJob) setTotals(c model.DataCounts) {
	rj.totalsMu.Lock()
	defer rj.totalsMu.Unlock()
	rj.totals = c
}

// New returns a Service. pool runs close drains and counts persistence.
func New(coord *coordinator.Coordinator, launcher process.Launcher, pool *worker.Pool, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = cfg.DefaultTimeout
	}
	return &Service{
		coord:    coord,
		launcher: launcher,
		pool:     pool,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		running:  make(map[string]*runningJob),
	}
}

func (s *Service) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return s.cfg.DefaultTimeout
	}
	return d
}

// Put registers a new job in the CLOSED state
func (s *Service) Put(ctx context.Context, cfg model.JobConfig) (*model.JobMetadata, error) {
	if err := coordinator.ValidateJobID(cfg.ID); err != nil {
		return nil, err
	}
	if err := pipeline.ValidateJob(cfg); err != nil {
		return nil, err
	}
	if err := s.coord.PutConfig(ctx, cfg); err != nil {
		return nil, err
	}
	md, err := s.coord.Submit(ctx, job.Command{Op: job.OpPut, JobID: cfg.ID})
	if err != nil {
		// leave no config behind for a job that was never registered
		if perr := s.coord.Purge(context.WithoutCancel(ctx), cfg.ID); perr != nil {
			s.logger.Warn("removing config of unregistered job", "job_id", cfg.ID, "error", perr)
		}
		return nil, err
	}
	s.logger.Info("job created", "job_id", cfg.ID)
	return md, nil
}

// Get returns the metadata of a job
func (s *Service) Get(ctx context.Context, jobID string) (*model.JobMetadata, error) {
	return s.coord.Get(ctx, jobID)
}

// List returns the metadata of every job
func (s *Service) List(ctx context.Context) ([]model.JobMetadata, error) {
	return s.coord.List(ctx)
}

// Config returns the configuration of a job
func (s *Service) Config(ctx context.Context, jobID string) (model.JobConfig, error) {
	return s.coord.GetConfig(ctx, jobID)
}

// Counts returns the running totals of a job. Totals of a job running on
// this node include uploads not yet persisted.
func (s *Service) Counts(ctx context.Context, jobID string) (model.DataCounts, error) {
	if rj := s.lookup(jobID); rj != nil {
		return rj.Totals(), nil
	}
	if _, err := s.coord.Get(ctx, jobID); err != nil {
		return model.DataCounts{}, err
	}
	return s.coord.GetCounts(ctx, jobID)
}

func (s *Service) lookup(jobID string) *runningJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[jobID]
}

// acquire returns the running job with its input locked for the caller
func (s *Service) acquire(ctx context.Context, jobID string) (*runningJob, func(), error) {
	rj := s.lookup(jobID)
	if rj == nil {
		if _, err := s.coord.Get(ctx, jobID); err != nil {
			return nil, nil, err
		}
		return nil, nil, errs.ConflictErr(fmt.Errorf("%w: %s", ErrJobNotOpen, jobID))
	}
	if !rj.inUse.TryLock() {
		return nil, nil, errs.ConflictErr(fmt.Errorf("%w: %s", ErrJobInUse, jobID))
	}
	if rj.stopping.Load() {
		rj.inUse.Unlock()
		return nil, nil, errs.ConflictErr(fmt.Errorf("%w: %s is closing", ErrJobNotOpen, jobID))
	}
	return rj, rj.inUse.Unlock, nil
}

// persistCounts stores the totals of a job in the background
func (s *Service) persistCounts(ctx context.Context, totals model.DataCounts) {
	err := s.pool.Submit(ctx, worker.Task{
		Name: "persist_counts",
		Run: func(ctx context.Context) error {
			md, err := s.coord.Get(ctx, totals.JobID)
			if err != nil {
				return err
			}
			// a job being deleted may already be purged
			if md.Deleting {
				return nil
			}
			return s.coord.SaveCounts(ctx, totals)
		},
	})
	if err != nil {
		s.logger.Warn("counts not persisted", "job_id", totals.JobID, "error", err)
	}
}

// Shutdown closes every job running on this node, then stops the pool
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	jobs := make([]*runningJob, 0, len(s.running))
	for _, rj := range s.running {
		jobs = append(jobs, rj)
	}
	s.mu.Unlock()

	var errList []error
	for _, rj := range jobs {
		if err := s.Close(ctx, rj.handle.JobID, 0); err != nil {
			s.logger.Error("closing job at shutdown", "job_id", rj.handle.JobID, "error", err)
			errList = append(errList, err)
		}
	}
	if err := s.pool.Shutdown(ctx); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}
