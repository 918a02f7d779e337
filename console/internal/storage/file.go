package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
)

// lockRetry is how often a blocked writer retries the advisory lock.
const lockRetry = 10 * time.Millisecond

// File stores all keys in one JSON document.
//
// Every read goes to disk so that writes from other processes sharing the
// file are picked up. Writes replace the file atomically (temp file + rename)
// while holding an advisory lock on a sibling ".lock" file, so concurrent
// writers in different processes never drop each other's keys.
//
// Document layout:
//
//	{
//	  "accessToken": "eyJ...",
//	  "refreshToken": "eyJ...",
//	  "alertSoundEnabled": "true"
//	}
type File struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu sync.Mutex
}

// NewFile creates a file-backed store. If path is empty, it defaults to
// ~/.edos/console.json.
func NewFile(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".edos", "console.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	logger.Debug("using file storage", "path", path)

	return &File{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}, nil
}

// Path returns the backing file.
func (f *File) Path() string {
	return f.path
}

// Get returns the value for key.
func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

// Set stores value under key.
func (f *File) Set(ctx context.Context, key string, value []byte) error {
	return f.update(ctx, func(doc map[string]string) bool {
		doc[key] = string(value)
		return true
	})
}

// Delete removes key.
func (f *File) Delete(ctx context.Context, key string) error {
	return f.update(ctx, func(doc map[string]string) bool {
		if _, ok := doc[key]; !ok {
			return false
		}
		delete(doc, key)
		return true
	})
}

// update runs a read-modify-write cycle under the advisory lock. mutate
// reports whether the document changed.
func (f *File) update(ctx context.Context, mutate func(doc map[string]string) bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	locked, err := f.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("locking storage file: %w", err)
	}
	if !locked {
		return fmt.Errorf("locking storage file: %s is held", f.lock.Path())
	}
	defer f.lock.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	if !mutate(doc) {
		return nil
	}
	return f.save(doc)
}

// Watch follows the backing file with fsnotify and emits a Change for every
// key that differs from the previous snapshot.
func (f *File) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	// Watch the directory: the file is replaced by rename on every write.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(f.path), err)
	}

	f.mu.Lock()
	last, err := f.load()
	f.mu.Unlock()
	if err != nil {
		last = map[string]string{}
	}

	out := make(chan Change, watchBuffer)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(f.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
					continue
				}

				f.mu.Lock()
				current, err := f.load()
				f.mu.Unlock()
				if err != nil {
					f.logger.Debug("reloading storage file failed", "error", err)
					continue
				}

				for _, c := range diff(last, current) {
					select {
					case out <- c:
					case <-ctx.Done():
						return
					}
				}
				last = current
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Warn("storage watcher error", "error", err)
			}
		}
	}()

	return out, nil
}

// Close releases the lock file handle.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lock.Unlock()
}

// load must be called with f.mu held. A missing file is an empty document.
func (f *File) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading storage file: %w", err)
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}

	doc := map[string]string{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing storage file: %w", err)
	}
	return doc, nil
}

// save must be called with f.mu and the advisory lock held.
func (f *File) save(doc map[string]string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling storage file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".console-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing storage file: %w", err)
	}
	return nil
}

// diff returns the changes that turn prev into next.
func diff(prev, next map[string]string) []Change {
	var changes []Change
	for k, v := range next {
		if old, ok := prev[k]; !ok || old != v {
			changes = append(changes, Change{Key: k, Value: []byte(v)})
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			changes = append(changes, Change{Key: k, Deleted: true})
		}
	}
	return changes
}
