package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a goroutine-safe in-process key/value store. It backs the
// process-wide fallback and is useful on its own for tests and for
// single-process multi-context setups (every holder of the same MemoryStore
// observes each other's writes through Watch).
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[string][]chan Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]string),
		watchers: make(map[string][]chan Event),
	}
}

// Get returns the value for key, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value under key and notifies watchers.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()

	m.notify(Event{Key: key, Value: value})
	return nil
}

// Remove deletes key. Removing a missing key is a no-op.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	_, existed := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()

	if existed {
		m.notify(Event{Key: key, Removed: true})
	}
	return nil
}

// Keys returns all keys with the given prefix, sorted for determinism.
func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len reports the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Watch registers a listener for changes to key. Events are delivered on a
// buffered channel; if the consumer falls behind, intermediate events are
// dropped rather than blocking writers.
func (m *MemoryStore) Watch(_ context.Context, key string) (<-chan Event, func(), error) {
	ch := make(chan Event, 16)

	m.mu.Lock()
	m.watchers[key] = append(m.watchers[key], ch)
	m.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			chans := m.watchers[key]
			for i, c := range chans {
				if c == ch {
					m.watchers[key] = append(chans[:i], chans[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}

	return ch, stop, nil
}

func (m *MemoryStore) notify(ev Event) {
	m.mu.RLock()
	chans := make([]chan Event, len(m.watchers[ev.Key]))
	copy(chans, m.watchers[ev.Key])
	m.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			// Slow consumer; drop rather than block the writer.
		}
	}
}
