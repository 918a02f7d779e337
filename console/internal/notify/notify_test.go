package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pilot-net/edos-console/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingToaster logs every call in order.
type recordingToaster struct {
	mu    sync.Mutex
	calls []string
	shown []Toast
}

func (r *recordingToaster) Show(t Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "show:"+t.AlertID)
	r.shown = append(r.shown, t)
}

func (r *recordingToaster) Dismiss(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "dismiss")
}

func (r *recordingToaster) DismissAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "dismiss-all")
}

type countingPlayer struct {
	mu     sync.Mutex
	levels []types.Level
	err    error
}

func (p *countingPlayer) Name() string { return "counting" }

func (p *countingPlayer) Play(_ context.Context, level types.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = append(p.levels, level)
	return p.err
}

func (p *countingPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.levels)
}

type flag struct{ on bool }

func (f *flag) SoundEnabled() bool { return f.on }

type recordingNavigator struct {
	paths []string
}

func (n *recordingNavigator) Navigate(_ context.Context, path string) error {
	n.paths = append(n.paths, path)
	return nil
}

func event(id string, level types.Level) types.NotificationEvent {
	return types.NotificationEvent{AlertID: id, Level: level, Title: "Port scan", Message: "alert " + id}
}

func TestNotify_DismissesBeforeShowing(t *testing.T) {
	toaster := &recordingToaster{}
	d := New(Config{Toaster: toaster, Sound: &flag{}, Logger: testLogger()})

	d.Notify(context.Background(), event("a1", types.LevelHigh))
	d.Notify(context.Background(), event("a2", types.LevelLow))

	want := []string{"dismiss-all", "show:a1", "dismiss-all", "show:a2"}
	if len(toaster.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, toaster.calls)
	}
	for i := range want {
		if toaster.calls[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], toaster.calls[i])
		}
	}

	current, ok := d.Current()
	if !ok || current.AlertID != "a2" {
		t.Errorf("expected current toast a2, got %+v", current)
	}
}

func TestNotify_Timeouts(t *testing.T) {
	toaster := &recordingToaster{}
	d := New(Config{Toaster: toaster, Logger: testLogger()})

	for _, level := range []types.Level{types.LevelCritical, types.LevelHigh, types.LevelMedium, types.LevelLow} {
		d.Notify(context.Background(), event("x", level))
	}

	want := []time.Duration{UrgentTimeout, UrgentTimeout, NormalTimeout, NormalTimeout}
	for i, toast := range toaster.shown {
		if toast.Timeout != want[i] {
			t.Errorf("%s: expected timeout %v, got %v", toast.Level, want[i], toast.Timeout)
		}
	}
	if UrgentTimeout <= NormalTimeout {
		t.Error("expected urgent toasts to stay longer")
	}
}

func TestNotify_SoundFlag(t *testing.T) {
	toaster := &recordingToaster{}
	player := &countingPlayer{}
	sound := &flag{on: true}
	d := New(Config{Toaster: toaster, Player: player, Sound: sound, Logger: testLogger()})

	d.Notify(context.Background(), event("a1", types.LevelCritical))
	d.Wait()
	if player.count() != 1 {
		t.Fatalf("expected one tone with sound on, got %d", player.count())
	}

	sound.on = false
	d.Notify(context.Background(), event("a2", types.LevelCritical))
	d.Wait()
	if player.count() != 1 {
		t.Errorf("expected no tone with sound off, got %d", player.count())
	}
	if len(toaster.shown) != 2 {
		t.Errorf("expected toast shown regardless of sound, got %d", len(toaster.shown))
	}
}

func TestNotify_PlayerErrorSwallowed(t *testing.T) {
	toaster := &recordingToaster{}
	player := &countingPlayer{err: errors.New("no audio device")}
	d := New(Config{Toaster: toaster, Player: player, Sound: &flag{on: true}, Logger: testLogger()})

	d.Notify(context.Background(), event("a1", types.LevelMedium))
	d.Wait()

	if len(toaster.shown) != 1 {
		t.Error("expected toast despite audio failure")
	}
	if player.levels[0] != types.LevelMedium {
		t.Errorf("expected tone for MEDIUM, got %s", player.levels[0])
	}
}

func TestSelect_NavigatesToAlerts(t *testing.T) {
	toaster := &recordingToaster{}
	nav := &recordingNavigator{}
	d := New(Config{Toaster: toaster, Navigator: nav, Logger: testLogger()})

	if err := d.Select(context.Background(), ""); !errors.Is(err, ErrNoToast) {
		t.Errorf("expected ErrNoToast with nothing shown, got %v", err)
	}

	d.Notify(context.Background(), event("a1", types.LevelHigh))
	current, _ := d.Current()

	if err := d.Select(context.Background(), "other"); !errors.Is(err, ErrNoToast) {
		t.Errorf("expected ErrNoToast for unknown id, got %v", err)
	}
	if err := d.Select(context.Background(), current.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(nav.paths) != 1 || nav.paths[0] != AlertsPath {
		t.Errorf("expected navigation to %s, got %v", AlertsPath, nav.paths)
	}
	if toaster.calls[len(toaster.calls)-1] != "dismiss" {
		t.Errorf("expected toast dismissed on select, got %v", toaster.calls)
	}
	if _, ok := d.Current(); ok {
		t.Error("expected no current toast after select")
	}
}

func TestCurrent_Expires(t *testing.T) {
	d := New(Config{Toaster: &recordingToaster{}, Logger: testLogger()})
	start := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return start }

	d.Notify(context.Background(), event("a1", types.LevelLow))
	if _, ok := d.Current(); !ok {
		t.Fatal("expected toast visible")
	}

	d.now = func() time.Time { return start.Add(NormalTimeout) }
	if _, ok := d.Current(); ok {
		t.Error("expected toast gone after its timeout")
	}
	if err := d.Select(context.Background(), ""); !errors.Is(err, ErrNoToast) {
		t.Errorf("expected ErrNoToast after expiry, got %v", err)
	}
}

func TestTerminalToaster(t *testing.T) {
	var out bytes.Buffer
	tt := NewTerminalToaster(&out, testLogger())

	tt.Show(Toast{ID: "t1", AlertID: "a1", Level: types.LevelCritical, Title: "DDoS", Message: "SYN flood", Timeout: time.Hour})
	tt.Show(Toast{ID: "t2", AlertID: "a2", Level: types.LevelLow, Message: "Port scan", Timeout: time.Hour})

	if !strings.Contains(out.String(), "SYN flood") || !strings.Contains(out.String(), "Port scan") {
		t.Errorf("expected toast text in output, got %q", out.String())
	}
	if len(tt.Visible()) != 2 {
		t.Errorf("expected 2 visible, got %d", len(tt.Visible()))
	}

	tt.Dismiss("t1")
	if v := tt.Visible(); len(v) != 1 || v[0].ID != "t2" {
		t.Errorf("expected only t2 visible, got %+v", v)
	}

	tt.DismissAll()
	if len(tt.Visible()) != 0 {
		t.Error("expected nothing visible after DismissAll")
	}
}

func TestTerminalToaster_AutoDismiss(t *testing.T) {
	tt := NewTerminalToaster(io.Discard, testLogger())
	tt.Show(Toast{ID: "t1", Level: types.LevelMedium, Message: "m", Timeout: 10 * time.Millisecond})

	deadline := time.Now().Add(2 * time.Second)
	for len(tt.Visible()) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(tt.Visible()) != 0 {
		t.Error("expected toast to auto-dismiss")
	}
}

func TestBrowserNavigator(t *testing.T) {
	var gotName, gotURL string
	n := &BrowserNavigator{
		baseURL: "http://localhost:3000",
		command: "/usr/bin/xdg-open",
		logger:  testLogger(),
		start: func(name string, args ...string) error {
			gotName, gotURL = name, args[0]
			return nil
		},
	}

	if err := n.Navigate(context.Background(), AlertsPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotName != "/usr/bin/xdg-open" || gotURL != "http://localhost:3000/alerts" {
		t.Errorf("unexpected launch %s %s", gotName, gotURL)
	}

	n.start = func(string, ...string) error { return errors.New("no display") }
	if err := n.Navigate(context.Background(), "/"); err == nil {
		t.Error("expected launch error")
	}
}
