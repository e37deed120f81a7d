package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"go-anomaly-pipeline/internal/errs"
	"go-anomaly-pipeline/internal/job"
	"go-anomaly-pipeline/internal/metastore"
	"go-anomaly-pipeline/internal/model"
)

// PutConfig stores the configuration of a new job. It fails if one is
// already stored.
func (c *Coordinator) PutConfig(ctx context.Context, cfg model.JobConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return errs.StructuralErr(err)
	}
	_, err = c.store.Create(ctx, configKey(cfg.ID), b)
	if errors.Is(err, metastore.ErrKeyExists) {
		return errs.ConflictErr(fmt.Errorf("%w: %s", job.ErrJobExists, cfg.ID))
	}
	if err != nil {
		return errs.InfraErr(fmt.Errorf("store config of %s: %w", cfg.ID, err))
	}
	return nil
}

// GetConfig returns the stored configuration of jobID
func (c *Coordinator) GetConfig(ctx context.Context, jobID string) (model.JobConfig, error) {
	var cfg model.JobConfig
	e, err := c.store.Get(ctx, configKey(jobID))
	if errors.Is(err, metastore.ErrKeyNotFound) {
		return cfg, fmt.Errorf("%w: %s", job.ErrUnknownJob, jobID)
	}
	if err != nil {
		return cfg, errs.InfraErr(fmt.Errorf("read config of %s: %w", jobID, err))
	}
	if err := json.Unmarshal(e.Value, &cfg); err != nil {
		return cfg, errs.InfraErr(fmt.Errorf("decode config of %s: %w", jobID, err))
	}
	return cfg, nil
}

// GetCounts returns the persisted running totals of jobID, zero when none
// were stored yet
func (c *Coordinator) GetCounts(ctx context.Context, jobID string) (model.DataCounts, error) {
	counts := model.DataCounts{JobID: jobID}
	e, err := c.store.Get(ctx, countsKey(jobID))
	if errors.Is(err, metastore.ErrKeyNotFound) {
		return counts, nil
	}
	if err != nil {
		return counts, errs.InfraErr(fmt.Errorf("read counts of %s: %w", jobID, err))
	}
	if err := json.Unmarshal(e.Value, &counts); err != nil {
		return counts, errs.InfraErr(fmt.Errorf("decode counts of %s: %w", jobID, err))
	}
	return counts, nil
}

// SaveCounts replaces the persisted running totals of a job
func (c *Coordinator) SaveCounts(ctx context.Context, counts model.DataCounts) error {
	b, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	key := countsKey(counts.JobID)

	unlock := c.locks.lock(key)
	defer unlock()

	op := func() error {
		e, err := c.store.Get(ctx, key)
		switch {
		case errors.Is(err, metastore.ErrKeyNotFound):
			_, err = c.store.Create(ctx, key, b)
		case err == nil:
			_, err = c.store.Update(ctx, key, b, e.Revision)
		}
		if isCASConflict(err) {
			c.metrics.CASConflict()
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	if err := backoff.Retry(op, c.newBackOff(ctx)); err != nil {
		return errs.InfraErr(fmt.Errorf("store counts of %s: %w", counts.JobID, err))
	}
	return nil
}

// Purge removes the configuration and counts of jobID. Missing documents
// are ignored so a purge can be repeated.
func (c *Coordinator) Purge(ctx context.Context, jobID string) error {
	for _, key := range []string{countsKey(jobID), configKey(jobID)} {
		if err := c.store.Delete(ctx, key, 0); err != nil && !errors.Is(err, metastore.ErrKeyNotFound) {
			return errs.InfraErr(fmt.Errorf("purge %s: %w", key, err))
		}
	}
	c.logger.Info("job documents purged", "job_id", jobID)
	return nil
}
