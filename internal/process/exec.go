package process

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"go-anomaly-pipeline/internal/model"
)

// maxOutputLine bounds one JSON line read from the process
const maxOutputLine = 16 << 20

// ExecConfig locates the analysis binary
type ExecConfig struct {
	Binary string
	Args   []string
	// Dir holds the per-job config files handed to the process
	Dir string
}

// ExecLauncher runs the analysis binary as a child process
type ExecLauncher struct {
	cfg    ExecConfig
	sink   ResultSink
	logger *slog.Logger
}

// NewExecLauncher returns a launcher for cfg. A nil sink logs results.
func NewExecLauncher(cfg ExecConfig, sink ResultSink, logger *slog.Logger) *ExecLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	return &ExecLauncher{cfg: cfg, sink: sink, logger: logger}
}

// Launch writes the analysis config of job to a file and starts the binary
func (l *ExecLauncher) Launch(ctx context.Context, job model.JobConfig) (Process, error) {
	if l.cfg.Binary == "" {
		return nil, errors.New("no analysis binary configured")
	}

	configFile, err := writeAnalysisConfig(l.cfg.Dir, job)
	if err != nil {
		return nil, err
	}

	args := append([]string{}, l.cfg.Args...)
	args = append(args,
		"--jobid="+job.ID,
		"--bucketspan="+strconv.FormatInt(int64(job.Analysis.BucketSpan.Seconds()), 10),
		"--latency="+strconv.FormatInt(int64(job.Analysis.Latency.Seconds()), 10),
		"--config="+configFile,
		"--lengthEncodedInput",
	)
	cmd := exec.Command(l.cfg.Binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.Remove(configFile)
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(configFile)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(configFile)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		os.Remove(configFile)
		return nil, fmt.Errorf("start %s: %w", l.cfg.Binary, err)
	}

	p := &execProcess{
		jobID:  job.ID,
		cmd:    cmd,
		stdin:  stdin,
		acks:   NewFlushAcks(),
		sink:   l.sink,
		done:   make(chan struct{}),
		logger: l.logger.With("job_id", job.ID, "pid", cmd.Process.Pid),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readOutput(stdout)
	}()
	go func() {
		defer readers.Done()
		p.readErrors(stderr)
	}()
	go func() {
		readers.Wait()
		p.err = cmd.Wait()
		os.Remove(configFile)
		if p.err != nil {
			p.logger.Warn("analysis process exited", "error", p.err)
		} else {
			p.logger.Info("analysis process exited")
		}
		close(p.done)
	}()

	p.logger.Info("analysis process started", "binary", l.cfg.Binary)
	return p, nil
}

func writeAnalysisConfig(dir string, job model.JobConfig) (string, error) {
	f, err := os.CreateTemp(dir, job.ID+"-*.json")
	if err != nil {
		return "", fmt.Errorf("create analysis config: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(job.Analysis); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write analysis config: %w", err)
	}
	return f.Name(), nil
}

type execProcess struct {
	jobID  string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	acks   *FlushAcks
	sink   ResultSink
	done   chan struct{}
	err    error
	logger *slog.Logger

	closeOnce sync.Once
}

func (p *execProcess) Stdin() io.Writer {
	return p.stdin
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) WaitForFlush(ctx context.Context, id string) error {
	return p.acks.Wait(ctx, id, p.done)
}

func (p *execProcess) Close(ctx context.Context) error {
	var closeErr error
	p.closeOnce.Do(func() {
		closeErr = p.stdin.Close()
	})

	select {
	case <-p.done:
		if closeErr != nil {
			return closeErr
		}
		return p.err
	case <-ctx.Done():
		p.logger.Warn("analysis process did not exit in time, killing")
		_ = p.Kill()
		<-p.done
		return ctx.Err()
	}
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) readOutput(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxOutputLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if id, ok := FlushID(line); ok {
			p.logger.Debug("flush acknowledged", "flush_id", id)
			p.acks.Ack(id)
			continue
		}
		p.sink.Result(p.jobID, append([]byte(nil), line...))
	}
	if err := sc.Err(); err != nil {
		p.logger.Error("reading analysis output", "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

func (p *execProcess) readErrors(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.logger.Warn("analysis process stderr", "line", sc.Text())
	}
}
