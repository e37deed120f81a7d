// Package natskv is the clustered metadata backend on a NATS JetStream
// key/value bucket
package natskv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"go-anomaly-pipeline/internal/metastore"
)

// DefaultBucket holds job metadata when no bucket is configured
const DefaultBucket = "anomaly_jobs"

// Config selects the server and bucket
type Config struct {
	URL     string
	Bucket  string
	Timeout time.Duration
	// History is the number of revisions kept per key
	History uint8
}

// Store implements metastore.Store on a JetStream KV bucket
type Store struct {
	nc      *nats.Conn
	bucket  jetstream.KeyValue
	timeout time.Duration
	logger  *slog.Logger
}

// Connect dials the server and creates the bucket if needed
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.History == 0 {
		cfg.History = 5
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("anomaly-pipeline"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "anomaly job lifecycle metadata",
		History:     cfg.History,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create kv bucket %s: %w", cfg.Bucket, err)
	}

	logger.Info("nats metadata store ready", "url", cfg.URL, "bucket", cfg.Bucket)
	return &Store{nc: nc, bucket: bucket, timeout: cfg.Timeout, logger: logger}, nil
}

// Close drains the connection
func (s *Store) Close() error {
	return s.nc.Drain()
}

// applyTimeout bounds a single request
func (s *Store) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

func (s *Store) Get(ctx context.Context, key string) (metastore.Entry, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return metastore.Entry{}, metastore.ErrKeyNotFound
		}
		return metastore.Entry{}, fmt.Errorf("kv get %s: %w", key, err)
	}
	return metastore.Entry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	rev, err := s.bucket.Create(ctx, key, value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || isWrongSequence(err) {
			return 0, metastore.ErrKeyExists
		}
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}
	return rev, nil
}

func (s *Store) Update(ctx context.Context, key string, value []byte, rev uint64) (uint64, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	next, err := s.bucket.Update(ctx, key, value, rev)
	if err != nil {
		if isWrongSequence(err) {
			if _, gerr := s.bucket.Get(ctx, key); isNotFound(gerr) {
				return 0, metastore.ErrKeyNotFound
			}
			return 0, metastore.ErrRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, key string, rev uint64) error {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	if _, err := s.bucket.Get(ctx, key); err != nil {
		if isNotFound(err) {
			return metastore.ErrKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}

	var opts []jetstream.KVDeleteOpt
	if rev != 0 {
		opts = append(opts, jetstream.LastRevision(rev))
	}
	if err := s.bucket.Delete(ctx, key, opts...); err != nil {
		if isWrongSequence(err) {
			return metastore.ErrRevisionMismatch
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	defer lister.Stop()

	var keys []string
	for k := range lister.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Watch does not apply the request timeout; the watcher lives until ctx is
// done
func (s *Store) Watch(ctx context.Context, key string) (<-chan metastore.Event, error) {
	w, err := s.bucket.Watch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", key, err)
	}

	out := make(chan metastore.Event, 1)
	go func() {
		defer close(out)
		defer w.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values
				if entry == nil {
					continue
				}
				ev := metastore.Event{
					Kind:  metastore.EventPut,
					Entry: metastore.Entry{Key: entry.Key(), Value: entry.Value(), Revision: entry.Revision()},
				}
				if op := entry.Operation(); op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
					ev.Kind = metastore.EventDelete
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

func isWrongSequence(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}
