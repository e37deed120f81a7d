// Package config loads the service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"go-anomaly-pipeline/internal/model"
)

// Metadata store backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	// Metadata store
	Backend     string        `yaml:"backend"`
	SQLitePath  string        `yaml:"sqlite_path"`
	NATSURL     string        `yaml:"nats_url"`
	NATSBucket  string        `yaml:"nats_bucket"`
	NATSTimeout time.Duration `yaml:"nats_timeout"`

	// Job configurations registered at startup
	JobsDir string `yaml:"jobs_dir"`

	// Analysis process
	AnalysisBinary string   `yaml:"analysis_binary"`
	AnalysisArgs   []string `yaml:"analysis_args"`
	AnalysisDir    string   `yaml:"analysis_dir"`

	// Lifecycle and ingestion
	DefaultTimeout                    time.Duration `yaml:"default_timeout"`
	FlushTimeout                      time.Duration `yaml:"flush_timeout"`
	MaxLinesPerRecord                 int           `yaml:"max_lines_per_record"`
	AcceptablePercentDateParseErrors  int           `yaml:"acceptable_percent_date_parse_errors"`
	AcceptablePercentOutOfOrderErrors int           `yaml:"acceptable_percent_out_of_order_errors"`

	Workers model.Workers     `yaml:"workers"`
	Retry   model.RetryConfig `yaml:"retry"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		ListenAddr:                        ":8080",
		ShutdownTimeout:                   30 * time.Second,
		LogFile:                           "/tmp/anomaly-pipeline.log",
		LogLevel:                          "INFO",
		Backend:                           BackendMemory,
		SQLitePath:                        "pipeline.db",
		NATSURL:                           "nats://localhost:4222",
		NATSBucket:                        "anomaly_jobs",
		NATSTimeout:                       5 * time.Second,
		DefaultTimeout:                    30 * time.Minute,
		MaxLinesPerRecord:                 10000,
		AcceptablePercentDateParseErrors:  25,
		AcceptablePercentOutOfOrderErrors: 25,
		Workers:                           model.DefaultWorkers(),
		Retry:                             model.DefaultRetryConfig(),
	}
}

// Load reads the YAML file at path, when given, over the defaults and then
// applies PIPELINE_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ListenAddr = getEnv("PIPELINE_LISTEN_ADDR", c.ListenAddr)
	c.LogFile = getEnv("PIPELINE_LOG_FILE", c.LogFile)
	c.LogLevel = getEnv("PIPELINE_LOG_LEVEL", c.LogLevel)
	c.Backend = getEnv("PIPELINE_BACKEND", c.Backend)
	c.SQLitePath = getEnv("PIPELINE_SQLITE_PATH", c.SQLitePath)
	c.NATSURL = getEnv("PIPELINE_NATS_URL", c.NATSURL)
	c.NATSBucket = getEnv("PIPELINE_NATS_BUCKET", c.NATSBucket)
	c.JobsDir = getEnv("PIPELINE_JOBS_DIR", c.JobsDir)
	c.AnalysisBinary = getEnv("PIPELINE_ANALYSIS_BINARY", c.AnalysisBinary)
	c.AnalysisDir = getEnv("PIPELINE_ANALYSIS_DIR", c.AnalysisDir)
	if args := getEnv("PIPELINE_ANALYSIS_ARGS", ""); args != "" {
		c.AnalysisArgs = strings.Fields(args)
	}

	var errList []error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PIPELINE_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
		{"PIPELINE_NATS_TIMEOUT", &c.NATSTimeout},
		{"PIPELINE_DEFAULT_TIMEOUT", &c.DefaultTimeout},
		{"PIPELINE_FLUSH_TIMEOUT", &c.FlushTimeout},
	}
	for _, d := range durations {
		if v := getEnv(d.key, ""); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				errList = append(errList, fmt.Errorf("%s: %w", d.key, err))
				continue
			}
			*d.dst = parsed
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PIPELINE_MAX_LINES_PER_RECORD", &c.MaxLinesPerRecord},
		{"PIPELINE_ACCEPTABLE_PERCENT_DATE_PARSE_ERRORS", &c.AcceptablePercentDateParseErrors},
		{"PIPELINE_ACCEPTABLE_PERCENT_OUT_OF_ORDER_ERRORS", &c.AcceptablePercentOutOfOrderErrors},
		{"PIPELINE_WORKERS", &c.Workers.Background},
		{"PIPELINE_QUEUE_SIZE", &c.Workers.QueueSize},
	}
	for _, i := range ints {
		if v := getEnv(i.key, ""); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				errList = append(errList, fmt.Errorf("%s: %w", i.key, err))
				continue
			}
			*i.dst = parsed
		}
	}
	return errors.Join(errList...)
}

// Validate checks the settings that cannot be defaulted
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite backend requires sqlite_path")
		}
	case BackendNATS:
		if c.NATSURL == "" {
			return errors.New("nats backend requires nats_url")
		}
	default:
		return fmt.Errorf("unknown metadata backend %q", c.Backend)
	}
	if c.AcceptablePercentDateParseErrors < 0 || c.AcceptablePercentDateParseErrors > 100 {
		return fmt.Errorf("acceptable_percent_date_parse_errors out of range: %d", c.AcceptablePercentDateParseErrors)
	}
	if c.AcceptablePercentOutOfOrderErrors < 0 || c.AcceptablePercentOutOfOrderErrors > 100 {
		return fmt.Errorf("acceptable_percent_out_of_order_errors out of range: %d", c.AcceptablePercentOutOfOrderErrors)
	}
	return nil
}

// Level returns the configured log level
func (c Config) Level() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// ParseLogLevel maps a level name to a slog.Level; unknown names mean INFO
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
