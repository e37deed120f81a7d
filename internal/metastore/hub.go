package metastore

import (
	"context"
	"sync"
)

// Hub fans changes out to watchers for backends without native notifications
type Hub struct {
	mu       sync.Mutex
	watchers map[string]map[chan Event]struct{}
}

// NewHub returns an empty Hub
func NewHub() *Hub {
	return &Hub{watchers: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a watcher of key and primes it with initial, when
// given. The watcher is removed and its channel closed when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, key string, initial *Event) <-chan Event {
	ch := make(chan Event, 1)
	h.mu.Lock()
	if h.watchers[key] == nil {
		h.watchers[key] = make(map[chan Event]struct{})
	}
	h.watchers[key][ch] = struct{}{}
	if initial != nil {
		offer(ch, *initial)
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.watchers[key], ch)
		if len(h.watchers[key]) == 0 {
			delete(h.watchers, key)
		}
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Publish delivers ev to every watcher of its key
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.watchers[ev.Entry.Key] {
		offer(ch, ev)
	}
}

// offer replaces any undelivered event with ev. Callers hold the hub lock, so
// there is a single sender per channel.
func offer(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
