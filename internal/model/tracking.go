package model

import "time"

// JobState is the lifecycle state of a job as recorded in cluster metadata
type JobState string

const (
	JobClosed  JobState = "closed"
	JobOpening JobState = "opening"
	JobOpened  JobState = "opened"
	JobClosing JobState = "closing"
	JobFailed  JobState = "failed"
)

// Valid reports whether s is one of the known states
func (s JobState) Valid() bool {
	switch s {
	case JobClosed, JobOpening, JobOpened, JobClosing, JobFailed:
		return true
	}
	return false
}

// JobTaskHandle identifies the cancellable task that owns a job's process.
// It exists from OPENING until the job is CLOSED again.
type JobTaskHandle struct {
	JobID  string `json:"job_id"`
	TaskID string `json:"task_id"`
}

// JobMetadata is the per-job entry kept in the cluster metadata store
type JobMetadata struct {
	JobID         string         `json:"job_id"`
	State         JobState       `json:"state"`
	Task          *JobTaskHandle `json:"task,omitempty"`
	Deleting      bool           `json:"deleting"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
