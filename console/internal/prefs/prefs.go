// Package prefs holds the one UI preference the notifier reads: whether
// alert sounds are enabled.
//
// The flag is stored as JSON (true/false) under a fixed key. Watch follows
// changes made by other consoles sharing the same storage, so toggling the
// flag anywhere takes effect everywhere without a restart.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/pilot-net/edos-console/console/internal/storage"
)

// SoundEnabledKey is the storage key for the sound flag.
const SoundEnabledKey = "alertSoundEnabled"

// Prefs caches the sound flag in memory and persists changes.
type Prefs struct {
	kv     storage.Store
	logger *slog.Logger

	sound atomic.Bool
}

// Load reads the current flag. Missing or malformed values default to enabled.
func Load(ctx context.Context, kv storage.Store, logger *slog.Logger) *Prefs {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Prefs{
		kv:     kv,
		logger: logger.With("component", "prefs"),
	}

	p.sound.Store(true)
	data, err := kv.Get(ctx, SoundEnabledKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		p.logger.Warn("reading sound preference failed, using default", "error", err)
	default:
		p.sound.Store(decodeFlag(data, true))
	}
	return p
}

// SoundEnabled reports the current flag.
func (p *Prefs) SoundEnabled() bool {
	return p.sound.Load()
}

// SetSoundEnabled updates the flag in memory and in storage.
// The in-memory value changes even if persisting fails.
func (p *Prefs) SetSoundEnabled(ctx context.Context, enabled bool) error {
	p.sound.Store(enabled)
	data, _ := json.Marshal(enabled)
	return p.kv.Set(ctx, SoundEnabledKey, data)
}

// Toggle flips the flag and returns the new value.
func (p *Prefs) Toggle(ctx context.Context) (bool, error) {
	next := !p.SoundEnabled()
	return next, p.SetSoundEnabled(ctx, next)
}

// Watch applies changes from the backing store until ctx is cancelled.
func (p *Prefs) Watch(ctx context.Context) error {
	changes, err := p.kv.Watch(ctx)
	if err != nil {
		return err
	}

	for c := range changes {
		if c.Key != SoundEnabledKey {
			continue
		}
		// A removed key leaves the current value in place.
		if c.Deleted {
			continue
		}
		next := decodeFlag(c.Value, p.SoundEnabled())
		if prev := p.sound.Swap(next); prev != next {
			p.logger.Info("sound preference changed", "enabled", next)
		}
	}
	return ctx.Err()
}

func decodeFlag(data []byte, fallback bool) bool {
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return fallback
	}
	return v
}
