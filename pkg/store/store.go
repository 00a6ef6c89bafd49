// Package store provides the key/value backends the stash engine persists
// into. A backend is anything implementing the narrow Store interface -
// Redis, a bbolt file, a shared directory, or a plain in-process map. All
// backends treat values as opaque strings; encoding is the caller's concern.
//
// Backends that can observe writes made by other contexts (other processes
// sharing the same directory, or in-process peers sharing a MemoryStore)
// additionally implement Watcher, which the sync layer uses as its
// storage-event fallback path.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Get when the key does not exist.
// Use IsNotFound to check for it.
var ErrNotFound = errors.New("key not found")

// Store is the uniform facade over a key/value backend.
//
// Get must return ErrNotFound for ordinary absence, never a hard failure.
// Remove of a missing key is not an error. Set may fail (capacity, I/O);
// callers are expected to handle that.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error

	// Keys returns all keys beginning with prefix. Used by group operations.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Event describes an observed change to a watched key.
type Event struct {
	Key     string
	Value   string // new value; empty when Removed
	Removed bool
}

// Watcher is implemented by stores that can report changes to a key.
// The returned stop function detaches the watch; it must be safe to call
// more than once. Events are delivered best-effort: slow consumers may
// miss intermediate values.
type Watcher interface {
	Watch(ctx context.Context, key string) (<-chan Event, func(), error)
}

// IsNotFound returns true if the error is a "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// probeSentinel is the key used for availability round-trips. The value is
// removed again immediately, so collisions with real data are harmless.
const probeSentinel = "stash:__probe__"

// Probe verifies that a store is actually usable by performing a real
// write+read+delete round-trip with a sentinel key. Any error, or a value
// mismatch on read-back, means the store is unavailable.
func Probe(ctx context.Context, s Store) bool {
	const want = "ok"
	if err := s.Set(ctx, probeSentinel, want); err != nil {
		return false
	}
	got, err := s.Get(ctx, probeSentinel)
	if err != nil || got != want {
		return false
	}
	return s.Remove(ctx, probeSentinel) == nil
}

var (
	fallbackOnce sync.Once
	fallback     *MemoryStore
)

// Fallback returns the process-wide in-memory fallback store. It is
// constructed on first use and never reset; data held in it does not
// survive a process restart. That is the intended degraded-mode behavior
// when no durable backend is available.
func Fallback() *MemoryStore {
	fallbackOnce.Do(func() {
		fallback = NewMemoryStore()
	})
	return fallback
}

// WithFallback probes s and returns it if the round-trip succeeds,
// otherwise the process-wide in-memory fallback. A nil s always yields
// the fallback.
func WithFallback(ctx context.Context, s Store) Store {
	if s == nil {
		return Fallback()
	}
	if !Probe(ctx, s) {
		return Fallback()
	}
	return s
}

// wrapSetErr annotates backend write failures with the key for diagnostics
// without losing the original error for classification.
func wrapSetErr(key string, err error) error {
	return fmt.Errorf("failed to write key %q: %w", key, err)
}
