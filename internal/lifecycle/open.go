package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go-anomaly-pipeline/internal/coordinator"
	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/job"
	"go-anomaly-pipeline/internal/model"
	"go-anomaly-pipeline/internal/worker"
)

// Open starts the analysis process of a closed job on this node. The job
// moves to OPENING before the process starts and to OPENED once it runs.
func (s *Service) Open(ctx context.Context, jobID string) (*model.JobMetadata, error) {
	cfg, err := s.coord.GetConfig(ctx, jobID)
	if err != nil {
		return nil, err
	}
	totals, err := s.coord.GetCounts(ctx, jobID)
	if err != nil {
		return nil, err
	}

	h := coordinator.NewHandle(jobID)
	if _, err := s.coord.Submit(ctx, job.Command{Op: job.OpOpen, JobID: jobID, TaskID: h.TaskID}); err != nil {
		return nil, err
	}

	proc, err := s.launcher.Launch(ctx, cfg)
	if err != nil {
		s.logger.Error("launching analysis process", "job_id", jobID, "error", err)
		s.markFailed(jobID, fmt.Sprintf("launch failed: %v", err))
		return nil, errs.InfraErr(fmt.Errorf("open job %s: %w", jobID, err))
	}

	watchCtx, stopWatch := context.WithCancel(context.WithoutCancel(ctx))
	rj := &runningJob{
		handle:    h,
		config:    cfg,
		proc:      proc,
		stopWatch: stopWatch,
		totals:    totals,
	}

	s.mu.Lock()
	s.running[jobID] = rj
	s.mu.Unlock()
	s.coord.Tasks().Register(h, func() { s.kill(rj, "task cancelled") })

	updates, err := s.coord.Watch(watchCtx, jobID)
	if err != nil {
		s.kill(rj, "watch failed")
		s.markFailed(jobID, err.Error())
		return nil, err
	}
	go s.follow(rj, updates)
	go s.monitor(rj)

	md, err := s.coord.Submit(ctx, job.Command{Op: job.OpMarkOpened, JobID: jobID, TaskID: h.TaskID})
	if err != nil {
		// a close or delete overtook the open; the watch handles the process
		return nil, err
	}
	s.logger.Info("job opened", "job_id", jobID, "task_id", h.TaskID)
	return md, nil
}

// follow reacts to metadata changes of a running job: CLOSING starts the
// drain, losing the task stops the process
func (s *Service) follow(rj *runningJob, updates <-chan *model.JobMetadata) {
	for md := range updates {
		switch {
		case md == nil || md.Task == nil || md.Task.TaskID != rj.handle.TaskID:
			s.kill(rj, "task removed")
			return
		case md.State == model.JobClosing:
			s.scheduleDrain(rj)
		}
	}
}

// monitor marks the job failed when its process exits on its own
func (s *Service) monitor(rj *runningJob) {
	<-rj.proc.Done()
	if rj.stopping.Load() {
		return
	}
	s.logger.Error("analysis process exited unexpectedly", "job_id", rj.handle.JobID)
	s.release(rj)
	s.markFailed(rj.handle.JobID, "analysis process exited unexpectedly")
}

// scheduleDrain queues the graceful stop of a job's process once
func (s *Service) scheduleDrain(rj *runningJob) {
	rj.drain.Do(func() {
		rj.stopping.Store(true)
		err := s.pool.Submit(context.Background(), worker.Task{
			Name: "drain",
			Run: func(ctx context.Context) error {
				return s.drainJob(ctx, rj)
			},
		})
		if err != nil {
			s.logger.Error("queueing drain", "job_id", rj.handle.JobID, "error", err)
			s.kill(rj, "drain not queued")
		}
	})
}

// drainJob waits for an in-flight upload, closes the process input and
// waits for the process to exit, then records the job CLOSED
func (s *Service) drainJob(ctx context.Context, rj *runningJob) error {
	jobID := rj.handle.JobID
	rj.inUse.Lock()
	defer rj.inUse.Unlock()

	closeCtx, cancel := context.WithTimeout(ctx, s.cfg.DefaultTimeout)
	defer cancel()
	if err := rj.proc.Close(closeCtx); err != nil {
		s.logger.Warn("analysis process did not close cleanly", "job_id", jobID, "error", err)
	}
	s.release(rj)

	md, err := s.coord.Get(ctx, jobID)
	if err != nil && !errors.Is(err, job.ErrUnknownJob) {
		return fmt.Errorf("drain %s: %w", jobID, err)
	}
	if md == nil || md.Task == nil || md.Task.TaskID != rj.handle.TaskID {
		// force closed or deleted while draining
		s.logger.Info("drain superseded", "job_id", jobID)
		return nil
	}
	if err := s.coord.SaveCounts(ctx, rj.Totals()); err != nil {
		s.logger.Warn("saving counts at close", "job_id", jobID, "error", err)
	}
	if _, err := s.coord.Submit(ctx, job.Command{Op: job.OpMarkClosed, JobID: jobID}); err != nil {
		return fmt.Errorf("mark %s closed: %w", jobID, err)
	}
	s.logger.Info("job closed", "job_id", jobID)
	return nil
}

// kill stops the process of rj at once and forgets it
func (s *Service) kill(rj *runningJob, reason string) {
	rj.stopping.Store(true)
	if err := rj.proc.Kill(); err != nil {
		s.logger.Warn("killing analysis process", "job_id", rj.handle.JobID, "error", err)
	}
	s.logger.Info("analysis process killed", "job_id", rj.handle.JobID, "reason", reason)
	s.release(rj)
}

// release forgets rj on this node
func (s *Service) release(rj *runningJob) {
	rj.detach.Do(func() {
		s.mu.Lock()
		if s.running[rj.handle.JobID] == rj {
			delete(s.running, rj.handle.JobID)
		}
		s.mu.Unlock()
		s.coord.Tasks().Release(rj.handle)
		rj.stopWatch()
	})
}

func (s *Service) markFailed(jobID, reason string) {
	_, err := s.coord.Submit(context.Background(), job.Command{Op: job.OpMarkFailed, JobID: jobID, Reason: reason})
	if err != nil {
		s.logger.Warn("marking job failed", "job_id", jobID, "error", err)
	}
}
