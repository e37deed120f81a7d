// Package processtest provides an in-memory analysis process that decodes the
// frames it is sent and acknowledges flushes.
package processtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go-anomaly-pipeline/internal/model"
	"go-anomaly-pipeline/internal/process"
	"go-anomaly-pipeline/internal/protocol"
)

// FakeProcess records every frame written to it
type FakeProcess struct {
	JobID string

	pw   *io.PipeWriter
	acks *process.FlushAcks
	done chan struct{}

	mu        sync.Mutex
	header    []string
	records   [][]string
	controls  []string
	decodeErr error
	killed    bool
	closed    bool
}

// NewFakeProcess starts decoding in the background
func NewFakeProcess(jobID string) *FakeProcess {
	pr, pw := io.Pipe()
	f := &FakeProcess{
		JobID: jobID,
		pw:    pw,
		acks:  process.NewFlushAcks(),
		done:  make(chan struct{}),
	}
	go f.decode(pr)
	return f
}

func (f *FakeProcess) decode(r *io.PipeReader) {
	defer close(f.done)
	dec := protocol.NewDecoder(r)
	for {
		fields, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, process.ErrExited) {
				f.mu.Lock()
				f.decodeErr = err
				f.mu.Unlock()
			}
			r.CloseWithError(err)
			return
		}

		f.mu.Lock()
		msg, isControl := protocol.ControlMessage(fields)
		switch {
		case len(fields) > 0 && fields[len(fields)-1] == protocol.HeaderMarker:
			// every upload starts with a header
			f.header = fields
		case isControl && protocol.IsPadding(msg):
		case isControl:
			f.controls = append(f.controls, msg)
			if strings.HasPrefix(msg, "f") {
				f.acks.Ack(msg[1:])
			}
		default:
			f.records = append(f.records, fields)
		}
		f.mu.Unlock()
	}
}

// Stdin implements process.Process
func (f *FakeProcess) Stdin() io.Writer { return f.pw }

// Done implements process.Process
func (f *FakeProcess) Done() <-chan struct{} { return f.done }

// WaitForFlush implements process.Process
func (f *FakeProcess) WaitForFlush(ctx context.Context, id string) error {
	return f.acks.Wait(ctx, id, f.done)
}

// Close implements process.Process
func (f *FakeProcess) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	_ = f.pw.Close()
	select {
	case <-f.done:
		return f.DecodeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill implements process.Process
func (f *FakeProcess) Kill() error {
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()
	f.pw.CloseWithError(process.ErrExited)
	<-f.done
	return nil
}

// Exit stops the process as if it had crashed
func (f *FakeProcess) Exit() {
	f.pw.CloseWithError(process.ErrExited)
	<-f.done
}

// Header returns the latest header record, or nil before one was sent
func (f *FakeProcess) Header() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.header
}

// Records returns the data records received so far
func (f *FakeProcess) Records() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.records...)
}

// Controls returns the control messages received so far, padding excluded
func (f *FakeProcess) Controls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.controls...)
}

// Killed reports whether Kill was called
func (f *FakeProcess) Killed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

// Closed reports whether Close was called
func (f *FakeProcess) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// DecodeErr returns the first framing error seen
func (f *FakeProcess) DecodeErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decodeErr
}

// Launcher hands out FakeProcesses and remembers them by job id
type Launcher struct {
	mu        sync.Mutex
	processes map[string][]*FakeProcess
	// Err is returned by Launch when set
	Err error
}

// NewLauncher returns an empty Launcher
func NewLauncher() *Launcher {
	return &Launcher{processes: make(map[string][]*FakeProcess)}
}

// Launch implements process.Launcher
func (l *Launcher) Launch(_ context.Context, job model.JobConfig) (process.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	p := NewFakeProcess(job.ID)
	l.processes[job.ID] = append(l.processes[job.ID], p)
	return p, nil
}

// Last returns the most recent process launched for jobID
func (l *Launcher) Last(jobID string) (*FakeProcess, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ps := l.processes[jobID]
	if len(ps) == 0 {
		return nil, fmt.Errorf("no process launched for %s", jobID)
	}
	return ps[len(ps)-1], nil
}

// Launches returns how many processes were launched for jobID
func (l *Launcher) Launches(jobID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processes[jobID])
}
