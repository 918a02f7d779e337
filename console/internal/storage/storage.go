// Package storage provides the console's client-local key/value store.
//
// # Backends
//
//   - Memory: process-local, used in tests and one-shot runs
//   - File: a JSON document on disk; other processes sharing the file see changes
//   - Redis: shared session across hosts; changes are broadcast on a pub/sub channel
//
// Any backend can be wrapped with Sealed to encrypt values at rest.
//
// # Change Notification
//
// Watch streams every change made through any handle on the same backing store,
// including the caller's own writes. Consumers that only care about foreign
// changes compare against their current value.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned by Get for a key that is not stored.
var ErrNotFound = errors.New("storage: key not found")

// Change describes a single key update.
type Change struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Store is a small key/value store with change notification.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Watch streams changes until ctx is cancelled. The channel is closed on return.
	Watch(ctx context.Context) (<-chan Change, error)

	// Close releases any resources held by the store.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "memory", "file" or "redis"
	Backend string

	// FilePath is the JSON document for the file backend
	FilePath string

	// RedisURL is used by the redis backend (redis://host:6379/0)
	RedisURL string

	// SealKey, when set, is a hex-encoded 32-byte key used to encrypt values
	SealKey string
}

// New builds the configured store.
func New(cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "", "file":
		store, err = NewFile(cfg.FilePath, logger)
	case "memory":
		store = NewMemory()
	case "redis":
		store, err = NewRedis(cfg.RedisURL, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.SealKey == "" {
		return store, nil
	}

	key, err := ParseSealKey(cfg.SealKey)
	if err != nil {
		store.Close()
		return nil, err
	}
	sealed, err := Sealed(store, key)
	if err != nil {
		store.Close()
		return nil, err
	}
	logger.Info("storage values are sealed", "backend", cfg.Backend)
	return sealed, nil
}
