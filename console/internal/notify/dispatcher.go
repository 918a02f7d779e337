// Package notify turns newly observed alerts into a toast and a tone.
//
// # Behavior
//
// - Any visible toast is dismissed before a new one is shown
// - CRITICAL and HIGH toasts stay up longer than MEDIUM and LOW ones
// - Selecting the toast dismisses it and opens the alerts view
// - The tone plays only while the sound flag is on; the toast is always shown
// - Audio failures are logged and never reach the user
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/edos-console/console/internal/tone"
	"github.com/pilot-net/edos-console/pkg/types"
)

// AlertsPath is where selecting a toast navigates.
const AlertsPath = "/alerts"

// Toast durations per severity tier.
const (
	UrgentTimeout = 5 * time.Second
	NormalTimeout = 3 * time.Second
)

// playTimeout bounds a single tone.
const playTimeout = 3 * time.Second

// ErrNoToast is returned by Select when no matching toast is visible.
var ErrNoToast = errors.New("no toast visible")

// Toast is one transient notification.
type Toast struct {
	ID      string
	AlertID string
	Level   types.Level
	Title   string
	Message string
	Timeout time.Duration
	ShownAt time.Time
}

// Expired reports whether the toast's timeout has passed at now.
func (t Toast) Expired(now time.Time) bool {
	return !now.Before(t.ShownAt.Add(t.Timeout))
}

// TimeoutFor returns the toast duration for a severity.
func TimeoutFor(level types.Level) time.Duration {
	if level.Urgent() {
		return UrgentTimeout
	}
	return NormalTimeout
}

// Toaster renders toasts.
type Toaster interface {
	Show(t Toast)
	Dismiss(id string)
	DismissAll()
}

// Navigator opens a view of the hosting application.
type Navigator interface {
	Navigate(ctx context.Context, path string) error
}

// SoundFlag reports whether alert sounds are enabled.
type SoundFlag interface {
	SoundEnabled() bool
}

// Config for the dispatcher.
type Config struct {
	Toaster   Toaster
	Player    tone.Player
	Sound     SoundFlag
	Navigator Navigator
	Logger    *slog.Logger
}

// Dispatcher shows toasts and plays tones.
type Dispatcher struct {
	toaster Toaster
	player  tone.Player
	sound   SoundFlag
	nav     Navigator
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	current *Toast

	wg sync.WaitGroup
}

// New creates a dispatcher. A nil player is silent.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Player == nil {
		cfg.Player = tone.Silent{}
	}
	return &Dispatcher{
		toaster: cfg.Toaster,
		player:  cfg.Player,
		sound:   cfg.Sound,
		nav:     cfg.Navigator,
		logger:  cfg.Logger.With("component", "notify"),
		now:     time.Now,
	}
}

// Notify shows a toast for event and, if sound is on, plays its tone in
// the background.
func (d *Dispatcher) Notify(ctx context.Context, event types.NotificationEvent) {
	toast := Toast{
		ID:      uuid.NewString(),
		AlertID: event.AlertID,
		Level:   event.Level,
		Title:   event.Title,
		Message: event.Message,
		Timeout: TimeoutFor(event.Level),
		ShownAt: d.now(),
	}

	d.mu.Lock()
	d.toaster.DismissAll()
	d.toaster.Show(toast)
	d.current = &toast
	d.mu.Unlock()

	if d.sound == nil || !d.sound.SoundEnabled() {
		d.logger.Debug("sound disabled, skipping tone", "alert_id", event.AlertID)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.play(ctx, event.Level)
	}()
}

func (d *Dispatcher) play(ctx context.Context, level types.Level) {
	ctx, cancel := context.WithTimeout(ctx, playTimeout)
	defer cancel()

	if err := d.player.Play(ctx, level); err != nil {
		d.logger.Debug("alert tone failed", "player", d.player.Name(), "error", err)
	}
}

// Current returns the visible toast, if any.
func (d *Dispatcher) Current() (Toast, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil || d.current.Expired(d.now()) {
		return Toast{}, false
	}
	return *d.current, true
}

// Select dismisses the toast with id and navigates to the alerts view.
// An empty id selects whichever toast is visible.
func (d *Dispatcher) Select(ctx context.Context, id string) error {
	d.mu.Lock()
	current := d.current
	if current == nil || current.Expired(d.now()) || (id != "" && current.ID != id) {
		d.mu.Unlock()
		return ErrNoToast
	}
	d.toaster.Dismiss(current.ID)
	d.current = nil
	d.mu.Unlock()

	if d.nav == nil {
		return nil
	}
	return d.nav.Navigate(ctx, AlertsPath)
}

// DismissAll removes every visible toast.
func (d *Dispatcher) DismissAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.toaster.DismissAll()
	d.current = nil
}

// Wait blocks until background tones have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
