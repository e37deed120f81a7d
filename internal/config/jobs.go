package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"go-anomaly-pipeline/internal/model"
)

// ErrJobConfigNotFound is returned when a job has no configuration file
var ErrJobConfigNotFound = errors.New("job configuration not found")

// JobDirectory reads job configurations stored as <dir>/<job_id>.yaml
type JobDirectory struct {
	Dir string
}

// Load returns the configuration of jobID. The id inside the file, when
// set, must match the file name.
func (d JobDirectory) Load(jobID string) (model.JobConfig, error) {
	path := filepath.Join(d.Dir, jobID+".yaml")
	cfg, err := LoadJobFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return model.JobConfig{}, fmt.Errorf("%w: %s", ErrJobConfigNotFound, jobID)
	}
	if err != nil {
		return model.JobConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = jobID
	}
	if cfg.ID != jobID {
		return model.JobConfig{}, fmt.Errorf("%s declares job id %q", path, cfg.ID)
	}
	return cfg, nil
}

// IDs lists the job ids with a configuration file, sorted
func (d JobDirectory) IDs() ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("read job directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadAll returns every job configuration in the directory
func (d JobDirectory) LoadAll() ([]model.JobConfig, error) {
	ids, err := d.IDs()
	if err != nil {
		return nil, err
	}
	out := make([]model.JobConfig, 0, len(ids))
	for _, id := range ids {
		cfg, err := d.Load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// LoadJobFile parses one YAML job configuration
func LoadJobFile(path string) (model.JobConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return model.JobConfig{}, err
	}
	var cfg model.JobConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return model.JobConfig{}, fmt.Errorf("parse job config %s: %w", path, err)
	}
	return cfg, nil
}
