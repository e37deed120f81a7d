package model

// Workers sizes the background work queue shared by all jobs on a node
type Workers struct {
	Background int `json:"background" yaml:"background"` // concurrent background tasks
	QueueSize  int `json:"queueSize" yaml:"queue_size"`  // pending tasks before submit blocks
}

// DefaultWorkers returns the worker sizing used when none is configured
func DefaultWorkers() Workers {
	return Workers{Background: 4, QueueSize: 256}
}
