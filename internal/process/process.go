// Package process starts and talks to the analysis process of a job: framed
// records go to its stdin, JSON lines come back on its stdout.
package process

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"go-anomaly-pipeline/internal/model"
)

var (
	// ErrExited is returned when waiting on a process that has already exited
	ErrExited = errors.New("analysis process exited")
)

// Process is a running analysis process owned by one job
type Process interface {
	// Stdin is the sink for framed records and control messages
	Stdin() io.Writer
	// WaitForFlush blocks until the process acknowledges flush id
	WaitForFlush(ctx context.Context, id string) error
	// Close ends the input and waits for the process to exit. The process is
	// killed when ctx ends first.
	Close(ctx context.Context) error
	// Kill stops the process immediately
	Kill() error
	// Done is closed once the process has exited
	Done() <-chan struct{}
}

// Launcher starts the analysis process for a job
type Launcher interface {
	Launch(ctx context.Context, job model.JobConfig) (Process, error)
}

// ResultSink receives every output line that is not a flush acknowledgement
type ResultSink interface {
	Result(jobID string, line []byte)
}

// LogSink logs results at debug level. Result persistence is not part of
// this service.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Result(jobID string, line []byte) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("analysis result", "job_id", jobID, "result", string(line))
}

// FlushAcks pairs flush acknowledgements with their waiters. An ack that
// arrives before anyone waits is kept until it is claimed.
type FlushAcks struct {
	mu      sync.Mutex
	pending map[string]chan struct{}
}

// NewFlushAcks returns an empty set
func NewFlushAcks() *FlushAcks {
	return &FlushAcks{pending: make(map[string]chan struct{})}
}

func (a *FlushAcks) channel(id string) chan struct{} {
	ch, ok := a.pending[id]
	if !ok {
		ch = make(chan struct{})
		a.pending[id] = ch
	}
	return ch
}

// Ack marks id acknowledged
func (a *FlushAcks) Ack(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := a.channel(id)
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Wait blocks until id is acknowledged, done is closed or ctx ends
func (a *FlushAcks) Wait(ctx context.Context, id string, done <-chan struct{}) error {
	a.mu.Lock()
	ch := a.channel(id)
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
	}()

	select {
	case <-ch:
		return nil
	case <-done:
		// an ack written just before exit still counts
		select {
		case <-ch:
			return nil
		default:
			return ErrExited
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

type outputLine struct {
	Flush *struct {
		ID string `json:"id"`
	} `json:"flush"`
}

// FlushID returns the acknowledged flush id if line is a flush ack
func FlushID(line []byte) (string, bool) {
	var out outputLine
	if err := json.Unmarshal(line, &out); err != nil || out.Flush == nil {
		return "", false
	}
	return out.Flush.ID, true
}
