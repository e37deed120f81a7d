// Package job defines the lifecycle state machine of a job as a pure function
// from the current metadata and a command to the next metadata.
package job

import (
	"errors"
	"fmt"
	"time"

	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/model"
)

var (
	// ErrUnknownJob is returned for commands on a job with no metadata
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobExists is returned when registering a job id twice
	ErrJobExists = errors.New("job already exists")
	// ErrDeleting is returned when a command meets a job marked for deletion
	ErrDeleting = errors.New("job is being deleted")
	// ErrHasTask is returned when opening a job that still has a task
	ErrHasTask = errors.New("job already has a task")
	// ErrInvalidTransition is returned when the current state does not allow
	// the command
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Op is the closed set of lifecycle commands
type Op int

const (
	OpPut Op = iota + 1
	OpOpen
	OpMarkOpened
	OpStartClose
	OpMarkClosed
	OpMarkFailed
	OpForceClose
	OpMarkDeleting
	OpRemove
)

var opNames = map[Op]string{
	OpPut:          "put",
	OpOpen:         "open",
	OpMarkOpened:   "mark_opened",
	OpStartClose:   "start_close",
	OpMarkClosed:   "mark_closed",
	OpMarkFailed:   "mark_failed",
	OpForceClose:   "force_close",
	OpMarkDeleting: "mark_deleting",
	OpRemove:       "remove",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Command is one requested state change
type Command struct {
	Op     Op
	JobID  string
	TaskID string // OpOpen, OpMarkOpened
	Force  bool   // OpMarkDeleting
	Reason string // OpMarkFailed
}

type handler func(cur *model.JobMetadata, cmd Command) (*model.JobMetadata, error)

var handlers = map[Op]handler{
	OpPut:          put,
	OpOpen:         open,
	OpMarkOpened:   markOpened,
	OpStartClose:   startClose,
	OpMarkClosed:   markClosed,
	OpMarkFailed:   markFailed,
	OpForceClose:   forceClose,
	OpMarkDeleting: markDeleting,
	OpRemove:       remove,
}

// Apply returns the metadata that results from cmd. cur is nil for a job
// with no metadata; a nil result with a nil error removes the job. cur is
// never modified.
func Apply(cur *model.JobMetadata, cmd Command, now time.Time) (*model.JobMetadata, error) {
	h, ok := handlers[cmd.Op]
	if !ok {
		return nil, fmt.Errorf("unknown command %s", cmd.Op)
	}
	if cmd.Op != OpPut && cur == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, cmd.JobID)
	}

	var in *model.JobMetadata
	if cur != nil {
		c := *cur
		if cur.Task != nil {
			t := *cur.Task
			c.Task = &t
		}
		in = &c
	}

	next, err := h(in, cmd)
	if err != nil {
		return nil, err
	}
	if next != nil {
		next.UpdatedAt = now
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
	}
	return next, nil
}

func invalid(cur *model.JobMetadata, cmd Command) error {
	return errs.ConflictErr(fmt.Errorf("%w: cannot %s job %s in state %s", ErrInvalidTransition, cmd.Op, cur.JobID, cur.State))
}

func put(cur *model.JobMetadata, cmd Command) (*model.JobMetadata, error) {
	if cur != nil {
		return nil, errs.ConflictErr(fmt.Errorf("%w: %s", ErrJobExists, cmd.JobID))
	}
	return &model.JobMetadata{JobID: cmd.JobID, State: model.JobClosed}, nil
}

func open(cur *model.JobMetadata, cmd Command) (*model.JobMetadata, error) {
	if cur.Deleting {
		return nil, errs.ConflictErr(fmt.Errorf("%w: cannot open job %s", ErrDeleting, cur.JobID))
	}
	if cur.Task != nil {
		return nil, errs.ConflictErr(fmt.Errorf("%w: job %s is %s", ErrHasTask, cur.JobID, cur.State))
	}
	cur.State = model.JobOpening
	cur.Task = &model.JobTaskHandle{JobID: cur.JobID, TaskID: cmd.TaskID}
	cur.FailureReason = ""
	return cur, nil
}

func markOpened(cur *model.JobMetadata, cmd Command) (*model.JobMetadata, error) {
	if cur.State != model.JobOpening || cur.Task == nil || cur.Task.TaskID != cmd.TaskID {
		return nil, invalid(cur, cmd)
	}
	cur.State = model.JobOpened
	return cur, nil
}

// startClose begins a graceful close. A stopped job marked for deletion is
// already terminal, so closing it again is a no-op.
func startClose(cur *model.JobMetadata, cmd Command) (*model.JobMetadata, error) {
	switch cur.State {
	case model.JobOpening, model.JobOpened:
		cur.State = model.JobClosing
		return cur, nil
	case model.JobClosing:
		return cur, nil
	case model.JobClosed, model.JobFailed:
		if cur.Deleting {
			return cur, nil
		}
	}
	return nil, invalid(cur, cmd)
}

func markClosed(cur *model.JobMetadata, cmd Command) (*model.JobMetadata, error) {
	if cur.State == model.JobClosed {
		return cur, nil
	}
	if cur.State != model.JobClosing {
		return nil, invalid(cur, cmd)
	}
	cur.State = model.JobClosed
	cur.Task = nil
	return cur, nil
}

func markFailed(cur *model.JobMetadata, cmd Command) (*model.JobMetadata, error) {
	switch cur.State {
	case model.JobOpening, model.JobOpened, model.JobClosing:
		cur.State = model.JobFailed
		cur.FailureReason = cmd.Reason
		return cur, nil
	default:
		return nil, invalid(cur, cmd)
	}
}

// forceClose removes the task of a job in any state except CLOSING, where a
// graceful close already owns the task. A job marked for deletion is
// terminal, so its close is taken over.
func forceClose(cur *model.JobMetadata, cmd Command) (*model.JobMetadata, error) {
	if cur.State == model.JobClosing && !cur.Deleting {
		return nil, invalid(cur, cmd)
	}
	cur.State = model.JobClosed
	cur.Task = nil
	return cur, nil
}

func markDeleting(cur *model.JobMetadata, cmd Command) (*model.JobMetadata, error) {
	if cur.Deleting && !cmd.Force {
		return nil, fmt.Errorf("%w: %s", ErrDeleting, cur.JobID)
	}
	cur.Deleting = true
	return cur, nil
}

func remove(cur *model.JobMetadata, cmd Command) (*model.JobMetadata, error) {
	if !cur.Deleting || cur.Task != nil {
		return nil, invalid(cur, cmd)
	}
	return nil, nil
}
