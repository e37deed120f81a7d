// Package worker runs background tasks on a bounded pool shared by all jobs
// of a node.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go-anomaly-pipeline/internal/metrics"
	"go-anomaly-pipeline/internal/model"
)

var (
	// ErrPoolStopped is returned by Submit after Shutdown
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Task is one unit of background work
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool queues tasks and runs at most Background of them at a time. Failed
// tasks are logged and counted; they never stop the pool.
type Pool struct {
	queue   chan Task
	group   errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	stopped bool
}

// New starts a pool sized by cfg
func New(cfg model.Workers, logger *slog.Logger, m *metrics.Metrics) *Pool {
	def := model.DefaultWorkers()
	if cfg.Background <= 0 {
		cfg.Background = def.Background
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:   make(chan Task, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger,
		metrics: m,
	}
	p.group.SetLimit(cfg.Background)
	go p.dispatch()
	return p
}

// Submit queues t, blocking while the queue is full
func (p *Pool) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- t:
		p.metrics.SetQueueDepth(len(p.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits for queued and running ones.
// When ctx ends first, running tasks are cancelled and ctx's error returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}

func (p *Pool) dispatch() {
	defer close(p.done)
	for t := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))
		// Go blocks while Background tasks are running
		p.group.Go(func() error {
			p.run(t)
			return nil
		})
	}
	_ = p.group.Wait()
}

func (p *Pool) run(t Task) {
	start := time.Now()
	err := t.Run(p.ctx)
	p.metrics.ObserveTask(t.Name, time.Since(start), err)
	if err != nil {
		p.logger.Error("background task failed", "task", t.Name, "error", err)
	}
}
