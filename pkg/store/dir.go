package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DirStore stores each key as one file in a directory. Unlike BoltStore it
// holds no lock on its data, so several processes can share the same
// directory; Watch observes writes made by any of them via fsnotify. This
// makes it the backend of choice when separate processes need to see each
// other's saves.
//
// Key names are path-escaped to form file names, so arbitrary key strings
// (including ':' separators) are safe.
type DirStore struct {
	dir string

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	watched map[string][]chan Event // key -> listeners
	done    chan struct{}
}

const dirStoreSuffix = ".stash"

// OpenDir creates a store over dir, creating the directory if needed.
func OpenDir(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %q: %w", dir, err)
	}
	return &DirStore{dir: dir, watched: make(map[string][]chan Event)}, nil
}

// Close stops the filesystem watcher if one was started.
func (d *DirStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fsw == nil {
		return nil
	}
	close(d.done)
	err := d.fsw.Close()
	d.fsw = nil
	return err
}

func (d *DirStore) path(key string) string {
	return filepath.Join(d.dir, url.PathEscape(key)+dirStoreSuffix)
}

func (d *DirStore) keyFromFile(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, dirStoreSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(base, dirStoreSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}

// Get returns the value for key, or ErrNotFound.
func (d *DirStore) Get(_ context.Context, key string) (string, error) {
	data, err := os.ReadFile(d.path(key))
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return string(data), nil
}

// Set writes value to the key's file. The write goes through a temp file
// and rename so concurrent readers never observe a partial value.
func (d *DirStore) Set(_ context.Context, key, value string) error {
	target := d.path(key)
	tmp, err := os.CreateTemp(d.dir, ".tmp-*")
	if err != nil {
		return wrapSetErr(key, err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return wrapSetErr(key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return wrapSetErr(key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return wrapSetErr(key, err)
	}
	return nil
}

// Remove deletes the key's file. A missing file is not an error.
func (d *DirStore) Remove(_ context.Context, key string) error {
	err := os.Remove(d.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}
	return nil
}

// Keys returns all keys with the given prefix.
func (d *DirStore) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list store directory: %w", err)
	}

	keys := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, ok := d.keyFromFile(e.Name())
		if !ok {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Watch registers a listener for changes to key, including changes made by
// other processes sharing the directory. The fsnotify watcher is started
// lazily on the first Watch call.
func (d *DirStore) Watch(ctx context.Context, key string) (<-chan Event, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fsw == nil {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
		}
		if err := fsw.Add(d.dir); err != nil {
			fsw.Close()
			return nil, nil, fmt.Errorf("failed to watch store directory: %w", err)
		}
		d.fsw = fsw
		d.done = make(chan struct{})
		go d.dispatch(fsw, d.done)
	}

	ch := make(chan Event, 16)
	d.watched[key] = append(d.watched[key], ch)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			chans := d.watched[key]
			for i, c := range chans {
				if c == ch {
					d.watched[key] = append(chans[:i], chans[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}

	return ch, stop, nil
}

// dispatch translates raw filesystem events into key events for listeners.
// Rename-based writes surface as Create events; deletes as Remove/Rename.
func (d *DirStore) dispatch(fsw *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			key, valid := d.keyFromFile(ev.Name)
			if !valid {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, err := os.ReadFile(ev.Name)
				if err != nil {
					continue
				}
				d.notify(Event{Key: key, Value: string(data)})
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				d.notify(Event{Key: key, Removed: true})
			}
		case _, ok := <-fsw.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; sync is best-effort.
		}
	}
}

func (d *DirStore) notify(ev Event) {
	d.mu.Lock()
	chans := make([]chan Event, len(d.watched[ev.Key]))
	copy(chans, d.watched[ev.Key])
	d.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
	}
}
