package job

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/model"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func meta(state model.JobState, task bool) *model.JobMetadata {
	m := &model.JobMetadata{JobID: "j1", State: state, CreatedAt: now.Add(-time.Hour)}
	if task {
		m.Task = &model.JobTaskHandle{JobID: "j1", TaskID: "t1"}
	}
	return m
}

func TestLifecycle(t *testing.T) {
	m, err := Apply(nil, Command{Op: OpPut, JobID: "j1"}, now)
	require.NoError(t, err)
	assert.Equal(t, model.JobClosed, m.State)
	assert.Equal(t, now, m.CreatedAt)

	steps := []struct {
		cmd   Command
		state model.JobState
		task  bool
	}{
		{Command{Op: OpOpen, JobID: "j1", TaskID: "t1"}, model.JobOpening, true},
		{Command{Op: OpMarkOpened, JobID: "j1", TaskID: "t1"}, model.JobOpened, true},
		{Command{Op: OpStartClose, JobID: "j1"}, model.JobClosing, true},
		{Command{Op: OpStartClose, JobID: "j1"}, model.JobClosing, true},
		{Command{Op: OpMarkClosed, JobID: "j1"}, model.JobClosed, false},
		{Command{Op: OpOpen, JobID: "j1", TaskID: "t2"}, model.JobOpening, true},
		{Command{Op: OpMarkFailed, JobID: "j1", Reason: "process exited"}, model.JobFailed, true},
		{Command{Op: OpForceClose, JobID: "j1"}, model.JobClosed, false},
		{Command{Op: OpMarkDeleting, JobID: "j1"}, model.JobClosed, false},
	}
	for _, s := range steps {
		next, err := Apply(m, s.cmd, now)
		require.NoError(t, err, s.cmd.Op.String())
		assert.Equal(t, s.state, next.State, s.cmd.Op.String())
		assert.Equal(t, s.task, next.Task != nil, s.cmd.Op.String())
		m = next
	}
	assert.True(t, m.Deleting)

	gone, err := Apply(m, Command{Op: OpRemove, JobID: "j1"}, now)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	cur := meta(model.JobOpened, true)
	next, err := Apply(cur, Command{Op: OpForceClose, JobID: "j1"}, now)
	require.NoError(t, err)

	assert.Equal(t, model.JobOpened, cur.State)
	assert.NotNil(t, cur.Task)
	assert.Equal(t, model.JobClosed, next.State)
	assert.Equal(t, now, next.UpdatedAt)
}

func TestRejections(t *testing.T) {
	deleting := meta(model.JobClosed, false)
	deleting.Deleting = true

	tests := []struct {
		name     string
		cur      *model.JobMetadata
		cmd      Command
		sentinel error
		conflict bool
	}{
		{"put twice", meta(model.JobClosed, false), Command{Op: OpPut, JobID: "j1"}, ErrJobExists, true},
		{"unknown job", nil, Command{Op: OpOpen, JobID: "j1"}, ErrUnknownJob, false},
		{"open while deleting", deleting, Command{Op: OpOpen, JobID: "j1"}, ErrDeleting, true},
		{"open with live task", meta(model.JobOpened, true), Command{Op: OpOpen, JobID: "j1"}, ErrHasTask, true},
		{"open failed job", meta(model.JobFailed, true), Command{Op: OpOpen, JobID: "j1"}, ErrHasTask, true},
		{"stale task marks opened", meta(model.JobOpening, true), Command{Op: OpMarkOpened, JobID: "j1", TaskID: "old"}, ErrInvalidTransition, true},
		{"close failed job", meta(model.JobFailed, true), Command{Op: OpStartClose, JobID: "j1"}, ErrInvalidTransition, true},
		{"force close while closing", meta(model.JobClosing, true), Command{Op: OpForceClose, JobID: "j1"}, ErrInvalidTransition, true},
		{"second delete", deleting, Command{Op: OpMarkDeleting, JobID: "j1"}, ErrDeleting, false},
		{"remove without mark", meta(model.JobClosed, false), Command{Op: OpRemove, JobID: "j1"}, ErrInvalidTransition, true},
		{"remove with task", func() *model.JobMetadata {
			m := meta(model.JobOpened, true)
			m.Deleting = true
			return m
		}(), Command{Op: OpRemove, JobID: "j1"}, ErrInvalidTransition, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(tt.cur, tt.cmd, now)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			assert.Equal(t, tt.conflict, errs.IsConflict(err))
		})
	}
}

func TestCloseWhileDeletingIsNoop(t *testing.T) {
	for _, state := range []model.JobState{model.JobClosed, model.JobFailed} {
		t.Run(string(state), func(t *testing.T) {
			cur := meta(state, state == model.JobFailed)
			cur.Deleting = true
			next, err := Apply(cur, Command{Op: OpStartClose, JobID: "j1"}, now)
			require.NoError(t, err)
			assert.Equal(t, state, next.State)
			assert.True(t, next.Deleting)
		})
	}
}

func TestForceCloseWithoutTaskSucceeds(t *testing.T) {
	next, err := Apply(meta(model.JobClosed, false), Command{Op: OpForceClose, JobID: "j1"}, now)
	require.NoError(t, err)
	assert.Equal(t, model.JobClosed, next.State)
	assert.Nil(t, next.Task)
}

func TestForceCloseTakesOverClosingWhenDeleting(t *testing.T) {
	cur := meta(model.JobClosing, true)
	cur.Deleting = true
	next, err := Apply(cur, Command{Op: OpForceClose, JobID: "j1"}, now)
	require.NoError(t, err)
	assert.Equal(t, model.JobClosed, next.State)
	assert.Nil(t, next.Task)
	assert.True(t, next.Deleting)
}

func TestForcedDeleteMayRepeat(t *testing.T) {
	cur := meta(model.JobOpened, true)
	cur.Deleting = true
	next, err := Apply(cur, Command{Op: OpMarkDeleting, JobID: "j1", Force: true}, now)
	require.NoError(t, err)
	assert.True(t, next.Deleting)
}
