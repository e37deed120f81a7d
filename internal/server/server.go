// Package server assembles the job API server from its configuration
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"go-anomaly-pipeline/internal/api"
	"go-anomaly-pipeline/internal/api/handler"
	"go-anomaly-pipeline/internal/config"
	"go-anomaly-pipeline/internal/coordinator"
	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/job"
	"go-anomaly-pipeline/internal/lifecycle"
	"go-anomaly-pipeline/internal/metastore"
	"go-anomaly-pipeline/internal/metrics"
	"go-anomaly-pipeline/internal/natskv"
	"go-anomaly-pipeline/internal/process"
	"go-anomaly-pipeline/internal/store"
	"go-anomaly-pipeline/internal/worker"
	"go-anomaly-pipeline/pkg/router"
)

// Server is a fully wired job API server
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	closeDB func() error
	Service *lifecycle.Service
	Router  *router.Router
}

// OpenStore connects the metadata backend named by cfg
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (metastore.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return metastore.NewMemory(), func() error { return nil }, nil
	case config.BackendSQLite:
		db, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case config.BackendNATS:
		kv, err := natskv.Connect(ctx, natskv.Config{
			URL:     cfg.NATSURL,
			Bucket:  cfg.NATSBucket,
			Timeout: cfg.NATSTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown metadata backend %q", cfg.Backend)
	}
}

// New wires every component named by cfg. launcher may be nil to run the
// configured analysis binary.
func New(ctx context.Context, cfg config.Config, launcher process.Launcher, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	st, closeDB, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	logger.Info("metadata store ready", "backend", cfg.Backend)

	coord := coordinator.New(st, coordinator.Options{Retry: cfg.Retry, Logger: logger, Metrics: m})
	if launcher == nil {
		launcher = process.NewExecLauncher(process.ExecConfig{
			Binary: cfg.AnalysisBinary,
			Args:   cfg.AnalysisArgs,
			Dir:    cfg.AnalysisDir,
		}, nil, logger)
	}
	pool := worker.New(cfg.Workers, logger, m)
	svc := lifecycle.New(coord, launcher, pool, lifecycle.Config{
		DefaultTimeout:                    cfg.DefaultTimeout,
		FlushTimeout:                      cfg.FlushTimeout,
		MaxLinesPerRecord:                 cfg.MaxLinesPerRecord,
		AcceptablePercentDateParseErrors:  cfg.AcceptablePercentDateParseErrors,
		AcceptablePercentOutOfOrderErrors: cfg.AcceptablePercentOutOfOrderErrors,
	}, logger, m)

	r := router.New(logger)
	api.RegisterRoutes(r, handler.NewJobs(svc, logger), registry)

	return &Server{
		cfg:     cfg,
		logger:  logger,
		closeDB: closeDB,
		Service: svc,
		Router:  r,
	}, nil
}

// RegisterJobs puts every job of the configured job directory that is not
// registered yet
func (s *Server) RegisterJobs(ctx context.Context) error {
	if s.cfg.JobsDir == "" {
		return nil
	}
	jobs, err := config.JobDirectory{Dir: s.cfg.JobsDir}.LoadAll()
	if err != nil {
		return err
	}
	for _, cfg := range jobs {
		_, err := s.Service.Put(ctx, cfg)
		switch {
		case err == nil:
		case errors.Is(err, job.ErrJobExists):
			s.logger.Debug("job already registered", "job_id", cfg.ID)
		case errs.IsStructural(err):
			s.logger.Error("skipping invalid job configuration", "job_id", cfg.ID, "error", err)
		default:
			return fmt.Errorf("register job %s: %w", cfg.ID, err)
		}
	}
	return nil
}

// Run serves until ctx ends, then closes the jobs running on this node and
// releases the metadata store
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		_ = s.Close(context.Background())
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := s.Router.Serve(ctx, ln, s.shutdownTimeout())

	closeCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	return errors.Join(serveErr, s.Close(closeCtx))
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout <= 0 {
		return 30 * time.Second
	}
	return s.cfg.ShutdownTimeout
}

// Close stops the jobs of this node and the metadata store
func (s *Server) Close(ctx context.Context) error {
	var errList []error
	if err := s.Service.Shutdown(ctx); err != nil {
		errList = append(errList, fmt.Errorf("shutdown jobs: %w", err))
	}
	if err := s.closeDB(); err != nil {
		errList = append(errList, fmt.Errorf("close metadata store: %w", err))
	}
	s.logger.Info("server stopped")
	return errors.Join(errList...)
}
