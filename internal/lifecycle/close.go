package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/job"
	"go-anomaly-pipeline/internal/model"
)

func closedOrFailed(md *model.JobMetadata) bool {
	return md == nil || md.State == model.JobClosed || md.State == model.JobFailed
}

// Close gracefully stops an open job: input is closed, the process finishes
// what it was sent and the job becomes CLOSED. It waits up to timeout for
// the node running the job to finish. A job being deleted is terminal: Close
// waits for the deletion instead.
func (s *Service) Close(ctx context.Context, jobID string, timeout time.Duration) error {
	md, err := s.startClose(ctx, jobID)
	if err != nil {
		return err
	}
	if md.Deleting {
		s.logger.Info("job being deleted, waiting instead of closing", "job_id", jobID)
		_, err := s.coord.WaitFor(ctx, jobID, s.timeout(timeout), func(md *model.JobMetadata) bool {
			return md == nil
		})
		return err
	}
	return s.waitClosed(ctx, jobID, timeout)
}

// closeForDelete is Close for the delete that holds the deletion mark
func (s *Service) closeForDelete(ctx context.Context, jobID string, timeout time.Duration) error {
	if _, err := s.startClose(ctx, jobID); err != nil {
		return err
	}
	return s.waitClosed(ctx, jobID, timeout)
}

func (s *Service) startClose(ctx context.Context, jobID string) (*model.JobMetadata, error) {
	md, err := s.coord.Submit(ctx, job.Command{Op: job.OpStartClose, JobID: jobID})
	if err != nil {
		return nil, err
	}
	if rj := s.lookup(jobID); rj != nil && md.Task != nil && md.Task.TaskID == rj.handle.TaskID {
		s.scheduleDrain(rj)
	}
	return md, nil
}

func (s *Service) waitClosed(ctx context.Context, jobID string, timeout time.Duration) error {
	md, err := s.coord.WaitFor(ctx, jobID, s.timeout(timeout), closedOrFailed)
	if err != nil {
		return err
	}
	if md != nil && md.State == model.JobFailed {
		return errs.InfraErr(fmt.Errorf("job %s failed while closing: %s", jobID, md.FailureReason))
	}
	return nil
}

// ForceClose stops a job at once whatever its state, except one that is
// already closing gracefully. Results the process had not written are lost.
func (s *Service) ForceClose(ctx context.Context, jobID string) error {
	prior, err := s.coord.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if _, err := s.coord.Submit(ctx, job.Command{Op: job.OpForceClose, JobID: jobID}); err != nil {
		return err
	}
	s.cancelTask(prior)
	s.logger.Info("job force closed", "job_id", jobID)
	return nil
}

// cancelTask kills the local task recorded in md. A task on another node is
// stopped by that node once it sees the task removed.
func (s *Service) cancelTask(md *model.JobMetadata) {
	if md == nil || md.Task == nil {
		return
	}
	if !s.coord.Tasks().Cancel(*md.Task) {
		s.logger.Debug("task already gone", "job_id", md.JobID, "task_id", md.Task.TaskID)
	}
}

// Delete removes a job with its configuration and counts. A running job is
// closed first, gracefully unless force is set. A delete racing another
// waits for that one to finish.
func (s *Service) Delete(ctx context.Context, jobID string, force bool, timeout time.Duration) error {
	md, err := s.coord.Submit(ctx, job.Command{Op: job.OpMarkDeleting, JobID: jobID, Force: force})
	if errors.Is(err, job.ErrDeleting) {
		s.logger.Info("job already being deleted, waiting", "job_id", jobID)
		_, err = s.coord.WaitFor(ctx, jobID, s.timeout(timeout), func(md *model.JobMetadata) bool {
			return md == nil
		})
		return err
	}
	if err != nil {
		return err
	}

	if err := s.stopForDelete(ctx, md, force, timeout); err != nil {
		if errors.Is(err, job.ErrUnknownJob) {
			return nil
		}
		return err
	}

	if err := s.coord.Purge(ctx, jobID); err != nil {
		return err
	}
	if _, err := s.coord.Submit(ctx, job.Command{Op: job.OpRemove, JobID: jobID}); err != nil {
		if errors.Is(err, job.ErrUnknownJob) {
			// a concurrent force delete got there first
			return nil
		}
		return err
	}
	s.logger.Info("job deleted", "job_id", jobID, "force", force)
	return nil
}

// stopForDelete leaves the job CLOSED with no task
func (s *Service) stopForDelete(ctx context.Context, md *model.JobMetadata, force bool, timeout time.Duration) error {
	jobID := md.JobID
	if force {
		s.cancelTask(md)
		_, err := s.coord.Submit(ctx, job.Command{Op: job.OpForceClose, JobID: jobID})
		return err
	}

	switch md.State {
	case model.JobClosed:
		return nil
	case model.JobOpening, model.JobOpened:
		err := s.closeForDelete(ctx, jobID, timeout)
		if err == nil || !errs.IsInfra(err) {
			return err
		}
		// the process failed on the way down; nothing is left to drain
		return s.forceCloseDeleting(ctx, md)
	case model.JobClosing:
		if err := s.waitClosed(ctx, jobID, timeout); err != nil && !errs.IsInfra(err) {
			return err
		}
		return s.forceCloseDeleting(ctx, md)
	default:
		return s.forceCloseDeleting(ctx, md)
	}
}

func (s *Service) forceCloseDeleting(ctx context.Context, prior *model.JobMetadata) error {
	md, err := s.coord.Submit(ctx, job.Command{Op: job.OpForceClose, JobID: prior.JobID})
	if err != nil {
		return err
	}
	s.cancelTask(prior)
	s.logger.Debug("task cleared for delete", "job_id", md.JobID)
	return nil
}
