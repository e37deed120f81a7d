// Package metastoretest holds the behaviour every metastore.Store backend
// must share.
package metastoretest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-anomaly-pipeline/internal/metastore"
)

// Run exercises a fresh store returned by newStore for each subtest
func Run(t *testing.T, newStore func(t *testing.T) metastore.Store) {
	t.Run("CreateGetUpdate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Get(ctx, "jobs.a")
		assert.ErrorIs(t, err, metastore.ErrKeyNotFound)

		rev, err := s.Create(ctx, "jobs.a", []byte("v1"))
		require.NoError(t, err)

		_, err = s.Create(ctx, "jobs.a", []byte("again"))
		assert.ErrorIs(t, err, metastore.ErrKeyExists)

		e, err := s.Get(ctx, "jobs.a")
		require.NoError(t, err)
		assert.Equal(t, "v1", string(e.Value))
		assert.Equal(t, rev, e.Revision)

		rev2, err := s.Update(ctx, "jobs.a", []byte("v2"), rev)
		require.NoError(t, err)
		assert.Greater(t, rev2, rev)

		_, err = s.Update(ctx, "jobs.a", []byte("stale"), rev)
		assert.ErrorIs(t, err, metastore.ErrRevisionMismatch)

		e, err = s.Get(ctx, "jobs.a")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(e.Value))
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rev, err := s.Create(ctx, "jobs.b", []byte("v1"))
		require.NoError(t, err)
		assert.ErrorIs(t, s.Delete(ctx, "jobs.b", rev+100), metastore.ErrRevisionMismatch)
		require.NoError(t, s.Delete(ctx, "jobs.b", rev))

		_, err = s.Get(ctx, "jobs.b")
		assert.ErrorIs(t, err, metastore.ErrKeyNotFound)

		// the key can be created again after a delete
		_, err = s.Create(ctx, "jobs.b", []byte("v2"))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "jobs.b", 0))
	})

	t.Run("Keys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, k := range []string{"jobs.b", "jobs.a", "counts.a"} {
			_, err := s.Create(ctx, k, []byte("x"))
			require.NoError(t, err)
		}
		keys, err := s.Keys(ctx, "jobs.")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"jobs.a", "jobs.b"}, keys)
	})

	t.Run("Watch", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rev, err := s.Create(ctx, "jobs.w", []byte("v1"))
		require.NoError(t, err)

		events, err := s.Watch(ctx, "jobs.w")
		require.NoError(t, err)

		ev := next(t, events)
		assert.Equal(t, metastore.EventPut, ev.Kind)
		assert.Equal(t, "v1", string(ev.Entry.Value))

		_, err = s.Update(ctx, "jobs.w", []byte("v2"), rev)
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "jobs.w", 0))

		// events may be coalesced, but the delete is always seen last
		for {
			ev = next(t, events)
			if ev.Kind == metastore.EventDelete {
				break
			}
			assert.Equal(t, "v2", string(ev.Entry.Value))
		}
		assert.Equal(t, "jobs.w", ev.Entry.Key)
	})
}

func next(t *testing.T, events <-chan metastore.Event) metastore.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "watch closed early")
		return ev
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for watch event")
		return metastore.Event{}
	}
}
