package coordinator

import (
	"sync"

	"github.com/google/uuid"

	"go-anomaly-pipeline/internal/model"
)

// Tasks maps job ids to the cancellable task running the job on this node
type Tasks struct {
	mu    sync.Mutex
	tasks map[string]task
}

type task struct {
	handle model.JobTaskHandle
	cancel func()
}

// NewTasks returns an empty registry
func NewTasks() *Tasks {
	return &Tasks{tasks: make(map[string]task)}
}

// NewHandle allocates a handle for a task of jobID
func NewHandle(jobID string) model.JobTaskHandle {
	return model.JobTaskHandle{JobID: jobID, TaskID: uuid.NewString()}
}

// Register records cancel as the way to stop the task of h, replacing any
// earlier task of the same job
func (t *Tasks) Register(h model.JobTaskHandle, cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[h.JobID] = task{handle: h, cancel: cancel}
}

// Lookup returns the live handle of jobID on this node
func (t *Tasks) Lookup(jobID string) (model.JobTaskHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[jobID]
	return tk.handle, ok
}

// Cancel stops and forgets the task of h. A task that is not registered, or
// was replaced by a newer one, counts as already cancelled.
func (t *Tasks) Cancel(h model.JobTaskHandle) bool {
	t.mu.Lock()
	tk, ok := t.tasks[h.JobID]
	if !ok || tk.handle.TaskID != h.TaskID {
		t.mu.Unlock()
		return false
	}
	delete(t.tasks, h.JobID)
	t.mu.Unlock()

	tk.cancel()
	return true
}

// Release forgets the task of h without cancelling it
func (t *Tasks) Release(h model.JobTaskHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tk, ok := t.tasks[h.JobID]; ok && tk.handle.TaskID == h.TaskID {
		delete(t.tasks, h.JobID)
	}
}

// Len returns the number of live tasks
func (t *Tasks) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}
