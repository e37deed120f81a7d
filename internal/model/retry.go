package model

import "time"

// RetryConfig defines the backoff used when a metadata update loses a
// compare-and-swap race
type RetryConfig struct {
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	InitialDelay   time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay       time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffFactor  float64       `json:"backoff_factor" yaml:"backoff_factor"`
	MaxElapsedTime time.Duration `json:"max_elapsed_time" yaml:"max_elapsed_time"`
}

// DefaultRetryConfig returns the retry policy used when none is configured
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     10,
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       time.Second,
		BackoffFactor:  2.0,
		MaxElapsedTime: 30 * time.Second,
	}
}
