package storage

import (
	"bytes"
	"context"
	"sync"
)

// watchBuffer is the per-watcher channel capacity; slow watchers drop changes.
const watchBuffer = 16

// Memory is a process-local store.
type Memory struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[chan Change]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string][]byte),
		watchers: make(map[chan Change]struct{}),
	}
}

// Get returns the value for key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

// Set stores value under key and notifies watchers.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.data[key] = bytes.Clone(value)
	m.broadcast(Change{Key: key, Value: bytes.Clone(value)})
	m.mu.Unlock()
	return nil
}

// Delete removes key and notifies watchers if it existed.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	if _, ok := m.data[key]; ok {
		delete(m.data, key)
		m.broadcast(Change{Key: key, Deleted: true})
	}
	m.mu.Unlock()
	return nil
}

// Watch streams changes until ctx is cancelled.
func (m *Memory) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, watchBuffer)

	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()

	return ch, nil
}

// Close is a no-op for the memory store.
func (m *Memory) Close() error {
	return nil
}

// broadcast must be called with m.mu held.
func (m *Memory) broadcast(c Change) {
	for ch := range m.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}
