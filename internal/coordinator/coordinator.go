// Package coordinator applies lifecycle commands to job metadata in the
// cluster store and tracks the cancellable tasks that own running jobs.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/job"
	"go-anomaly-pipeline/internal/metastore"
	"go-anomaly-pipeline/internal/metrics"
	"go-anomaly-pipeline/internal/model"
)

// Key prefixes of the documents kept per job
const (
	JobsPrefix    = "jobs."
	ConfigsPrefix = "configs."
	CountsPrefix  = "counts."
)

var (
	// ErrInvalidJobID is returned for ids that cannot be used as store keys
	ErrInvalidJobID = errors.New("invalid job id")
	// ErrWaitTimeout is returned when a job does not reach the awaited state
	ErrWaitTimeout = errors.New("timed out waiting for job state")
)

var jobIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateJobID checks that id is lowercase alphanumerics, '-' or '_'
func ValidateJobID(id string) error {
	if !jobIDPattern.MatchString(id) {
		return errs.StructuralErr(fmt.Errorf("%w %q: use up to 64 lowercase letters, digits, '-' or '_'", ErrInvalidJobID, id))
	}
	return nil
}

// Options configures a Coordinator
type Options struct {
	Retry   model.RetryConfig
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Now is used for metadata timestamps; nil means time.Now
	Now func() time.Time
}

// Coordinator is the single writer of job metadata on a node. Commands for
// one job are serialized locally and made safe across nodes with
// compare-and-swap on the entry's revision.
type Coordinator struct {
	store   metastore.Store
	retry   model.RetryConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	locks   *keyLocks
	tasks   *Tasks
}

// New returns a Coordinator writing to store
func New(store metastore.Store, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry == (model.RetryConfig{}) {
		opts.Retry = model.DefaultRetryConfig()
	}
	return &Coordinator{
		store:   store,
		retry:   opts.Retry,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		locks:   newKeyLocks(),
		tasks:   NewTasks(),
	}
}

// Tasks returns the node's task registry
func (c *Coordinator) Tasks() *Tasks {
	return c.tasks
}

func jobKey(jobID string) string    { return JobsPrefix + jobID }
func configKey(jobID string) string { return ConfigsPrefix + jobID }
func countsKey(jobID string) string { return CountsPrefix + jobID }

func (c *Coordinator) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retry.InitialDelay
	eb.MaxInterval = c.retry.MaxDelay
	eb.Multiplier = c.retry.BackoffFactor
	eb.MaxElapsedTime = c.retry.MaxElapsedTime

	var b backoff.BackOff = eb
	if c.retry.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.retry.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

func isCASConflict(err error) bool {
	return errors.Is(err, metastore.ErrRevisionMismatch) ||
		errors.Is(err, metastore.ErrKeyExists) ||
		errors.Is(err, metastore.ErrKeyNotFound)
}

// Submit applies cmd to the job's current metadata and stores the result.
// A lost race re-reads the entry and applies cmd again. It returns the new
// metadata, or nil when cmd removed the job.
func (c *Coordinator) Submit(ctx context.Context, cmd job.Command) (*model.JobMetadata, error) {
	unlock := c.locks.lock(cmd.JobID)
	defer unlock()

	var result *model.JobMetadata
	op := func() error {
		cur, rev, err := c.load(ctx, cmd.JobID)
		if err != nil {
			return backoff.Permanent(err)
		}

		next, err := job.Apply(cur, cmd, c.now().UTC())
		if err != nil {
			return backoff.Permanent(err)
		}

		err = c.write(ctx, cmd.JobID, cur, rev, next)
		if isCASConflict(err) {
			c.metrics.CASConflict()
			c.logger.Debug("metadata changed concurrently, retrying", "job_id", cmd.JobID, "op", cmd.Op.String())
			return err
		}
		if err != nil {
			return backoff.Permanent(errs.InfraErr(err))
		}
		result = next
		return nil
	}

	err := backoff.Retry(op, c.newBackOff(ctx))
	if isCASConflict(err) {
		err = errs.ConflictErr(fmt.Errorf("update job %s: %w", cmd.JobID, err))
	}
	c.metrics.ObserveCommand(cmd.Op.String(), err)
	if err != nil {
		return nil, err
	}

	if result != nil {
		c.metrics.SetJobState(cmd.JobID, result.State)
		c.logger.Info("job state updated", "job_id", cmd.JobID, "op", cmd.Op.String(),
			"state", result.State, "deleting", result.Deleting)
	} else {
		c.metrics.ForgetJob(cmd.JobID)
		c.logger.Info("job removed", "job_id", cmd.JobID)
	}
	return result, nil
}

// write stores next over cur at revision rev
func (c *Coordinator) write(ctx context.Context, jobID string, cur *model.JobMetadata, rev uint64, next *model.JobMetadata) error {
	key := jobKey(jobID)
	if next == nil {
		return c.store.Delete(ctx, key, rev)
	}
	b, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if cur == nil {
		_, err = c.store.Create(ctx, key, b)
		return err
	}
	_, err = c.store.Update(ctx, key, b, rev)
	return err
}

// load returns the metadata of jobID and its revision; nil when absent
func (c *Coordinator) load(ctx context.Context, jobID string) (*model.JobMetadata, uint64, error) {
	e, err := c.store.Get(ctx, jobKey(jobID))
	if errors.Is(err, metastore.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, errs.InfraErr(fmt.Errorf("read job %s: %w", jobID, err))
	}
	var md model.JobMetadata
	if err := json.Unmarshal(e.Value, &md); err != nil {
		return nil, 0, errs.InfraErr(fmt.Errorf("decode job %s: %w", jobID, err))
	}
	return &md, e.Revision, nil
}

// Get returns the metadata of jobID
func (c *Coordinator) Get(ctx context.Context, jobID string) (*model.JobMetadata, error) {
	md, _, err := c.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if md == nil {
		return nil, fmt.Errorf("%w: %s", job.ErrUnknownJob, jobID)
	}
	return md, nil
}

// List returns the metadata of every job, skipping entries that vanish
// while listing
func (c *Coordinator) List(ctx context.Context) ([]model.JobMetadata, error) {
	keys, err := c.store.Keys(ctx, JobsPrefix)
	if err != nil {
		return nil, errs.InfraErr(err)
	}
	out := make([]model.JobMetadata, 0, len(keys))
	for _, k := range keys {
		md, _, err := c.load(ctx, strings.TrimPrefix(k, JobsPrefix))
		if err != nil {
			return nil, err
		}
		if md != nil {
			out = append(out, *md)
		}
	}
	return out, nil
}

// Watch streams the job's metadata as it changes; nil means the job was
// removed. Intermediate updates may be skipped. The channel closes when ctx
// ends.
func (c *Coordinator) Watch(ctx context.Context, jobID string) (<-chan *model.JobMetadata, error) {
	events, err := c.store.Watch(ctx, jobKey(jobID))
	if err != nil {
		return nil, errs.InfraErr(fmt.Errorf("watch job %s: %w", jobID, err))
	}

	out := make(chan *model.JobMetadata, 1)
	go func() {
		defer close(out)
		for ev := range events {
			var md *model.JobMetadata
			if ev.Kind == metastore.EventPut {
				md = new(model.JobMetadata)
				if err := json.Unmarshal(ev.Entry.Value, md); err != nil {
					c.logger.Error("skipping undecodable job metadata", "job_id", jobID, "error", err)
					continue
				}
			}
			select {
			case out <- md:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WaitFor blocks until pred holds for the job's metadata or timeout passes.
// pred receives nil once the job has been removed. A timeout is reported as
// a retryable conflict.
func (c *Coordinator) WaitFor(ctx context.Context, jobID string, timeout time.Duration, pred func(*model.JobMetadata) bool) (*model.JobMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	updates, err := c.Watch(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// the watch only reports an initial value when the key exists
	cur, _, err := c.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if pred(cur) {
		return cur, nil
	}

	for {
		select {
		case md, ok := <-updates:
			if !ok {
				return nil, c.waitErr(ctx, jobID, timeout)
			}
			if pred(md) {
				return md, nil
			}
		case <-ctx.Done():
			return nil, c.waitErr(ctx, jobID, timeout)
		}
	}
}

func (c *Coordinator) waitErr(ctx context.Context, jobID string, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.ConflictErr(fmt.Errorf("%w: job %s after %s", ErrWaitTimeout, jobID, timeout))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errs.InfraErr(fmt.Errorf("watch on job %s closed", jobID))
}

// keyLocks hands out one mutex per key while it is in use
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
