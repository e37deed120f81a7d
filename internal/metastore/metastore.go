// Package metastore defines the cluster metadata store: a key/value store with
// compare-and-swap updates and change notifications.
package metastore

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned when a key has no value
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExists is returned by Create when the key already has a value
	ErrKeyExists = errors.New("key already exists")
	// ErrRevisionMismatch is returned when a conditional write loses a race
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// Entry is one stored value with the revision it was written at
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// EventKind distinguishes writes from deletions in a watch
type EventKind int

const (
	EventPut EventKind = iota
	EventDelete
)

// Event is a change to a watched key
type Event struct {
	Kind  EventKind
	Entry Entry
}

// Store is implemented by every metadata backend
type Store interface {
	// Get returns the current entry for key
	Get(ctx context.Context, key string) (Entry, error)
	// Create writes key only if it has no value
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	// Update writes key only if its current revision is rev
	Update(ctx context.Context, key string, value []byte, rev uint64) (uint64, error)
	// Delete removes key; a non-zero rev makes the delete conditional
	Delete(ctx context.Context, key string, rev uint64) error
	// Keys lists the keys starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Watch delivers the current value of key, if any, then every change
	// until ctx is done. Intermediate events may be coalesced; the latest
	// state is always delivered.
	Watch(ctx context.Context, key string) (<-chan Event, error)
}
