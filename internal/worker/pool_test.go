package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-anomaly-pipeline/internal/model"
)

func TestPoolRunsQueuedTasksBeforeShutdown(t *testing.T) {
	p := New(model.Workers{Background: 2, QueueSize: 4}, nil, nil)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), Task{Name: "count", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(10), ran.Load())

	err := p.Submit(context.Background(), Task{Name: "late", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(model.Workers{Background: 2, QueueSize: 8}, nil, nil)

	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit(context.Background(), Task{Name: "slow", Run: func(context.Context) error {
			n := running.Add(1)
			for {
				cur := peak.Load()
				if n <= cur || peak.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		}}))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFailedTaskDoesNotStopPool(t *testing.T) {
	p := New(model.Workers{Background: 1, QueueSize: 2}, nil, nil)

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), Task{Name: "fail", Run: func(context.Context) error {
		return errors.New("boom")
	}}))
	require.NoError(t, p.Submit(context.Background(), Task{Name: "ok", Run: func(context.Context) error {
		close(done)
		return nil
	}}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second task never ran")
	}
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdownDeadlineCancelsRunningTasks(t *testing.T) {
	p := New(model.Workers{Background: 1, QueueSize: 1}, nil, nil)

	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), Task{Name: "block", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
}
