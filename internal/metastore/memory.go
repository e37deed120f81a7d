package metastore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store used for single-node deployments and tests
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	rev     uint64
	hub     *Hub
}

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry), hub: NewHub()}
}

func (m *Memory) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrKeyNotFound
	}
	return clone(e), nil
}

func (m *Memory) Create(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return 0, ErrKeyExists
	}
	return m.put(key, value), nil
}

func (m *Memory) Update(_ context.Context, key string, value []byte, rev uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, ErrKeyNotFound
	}
	if e.Revision != rev {
		return 0, ErrRevisionMismatch
	}
	return m.put(key, value), nil
}

func (m *Memory) Delete(_ context.Context, key string, rev uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return ErrKeyNotFound
	}
	if rev != 0 && e.Revision != rev {
		return ErrRevisionMismatch
	}
	delete(m.entries, key)
	m.rev++
	m.hub.Publish(Event{Kind: EventDelete, Entry: Entry{Key: key, Revision: m.rev}})
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Watch(ctx context.Context, key string) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var initial *Event
	if e, ok := m.entries[key]; ok {
		initial = &Event{Kind: EventPut, Entry: clone(e)}
	}
	return m.hub.Subscribe(ctx, key, initial), nil
}

// put stores value under key at the next revision. Callers hold m.mu.
func (m *Memory) put(key string, value []byte) uint64 {
	m.rev++
	e := Entry{Key: key, Value: append([]byte(nil), value...), Revision: m.rev}
	m.entries[key] = e
	m.hub.Publish(Event{Kind: EventPut, Entry: clone(e)})
	return m.rev
}

func clone(e Entry) Entry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}
