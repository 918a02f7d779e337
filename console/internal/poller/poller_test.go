package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pilot-net/edos-console/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFeed serves a mutable alert list.
type fakeFeed struct {
	mu     sync.Mutex
	alerts []types.Alert
	err    error
	calls  int
	limit  int
}

func (f *fakeFeed) ListAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return append([]types.Alert(nil), f.alerts...), nil
}

func (f *fakeFeed) set(alerts ...types.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = alerts
}

func (f *fakeFeed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSession struct{ token string }

func (s fakeSession) AccessToken(context.Context) string { return s.token }

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []types.NotificationEvent
}

func (r *recorder) handle(_ context.Context, e types.NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.events))
	for i, e := range r.events {
		ids[i] = e.AlertID
	}
	return ids
}

var base = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func alertAt(id string, offset time.Duration, read bool) types.Alert {
	return types.Alert{
		ID:        id,
		Level:     "HIGH",
		Title:     "Traffic spike",
		Message:   "alert " + id,
		Timestamp: base.Add(offset).Format("2006-01-02T15:04:05.999999"),
		Read:      read,
	}
}

func newTestPoller(feed *fakeFeed, rec *recorder) *Poller {
	return New(Config{}, feed, fakeSession{token: "tok"}, rec.handle, testLogger())
}

func TestCheck_StreamSeededMarker(t *testing.T) {
	feed := &fakeFeed{}
	rec := &recorder{}
	p := newTestPoller(feed, rec)

	t1 := alertAt("t1", 0, false)
	t2 := alertAt("t2", time.Second, false)
	t3 := alertAt("t3", 2*time.Second, false)

	p.SetMarker(base)

	feed.set(t1)
	p.Check(context.Background())
	if got := rec.ids(); len(got) != 0 {
		t.Fatalf("expected no event for t1, got %v", got)
	}

	feed.set(t2, t1)
	p.Check(context.Background())
	p.Check(context.Background())

	feed.set(t3, t2, t1)
	p.Check(context.Background())
	p.Check(context.Background())

	got := rec.ids()
	if len(got) != 2 || got[0] != "t2" || got[1] != "t3" {
		t.Errorf("expected [t2 t3], got %v", got)
	}
	if m, ok := p.Marker(); !ok || !m.Equal(base.Add(2*time.Second)) {
		t.Errorf("expected marker at t3, got %v", m)
	}
}

func TestCheck_ColdStartEmitsOnce(t *testing.T) {
	feed := &fakeFeed{}
	rec := &recorder{}
	p := newTestPoller(feed, rec)

	// Feed order is not trusted; the newest is in the middle.
	feed.set(
		alertAt("older", time.Second, false),
		alertAt("newest", 3*time.Second, false),
		alertAt("oldest", 0, false),
	)

	if !p.Check(context.Background()) {
		t.Fatal("expected a cold-start notification")
	}
	p.Check(context.Background())

	got := rec.ids()
	if len(got) != 1 || got[0] != "newest" {
		t.Errorf("expected exactly [newest], got %v", got)
	}
}

func TestCheck_IgnoresReadAndMalformed(t *testing.T) {
	feed := &fakeFeed{}
	rec := &recorder{}
	p := newTestPoller(feed, rec)

	noID := alertAt("", 5*time.Second, false)
	badLevel := alertAt("bad-level", 6*time.Second, false)
	badLevel.Level = "URGENT"
	badTime := alertAt("bad-time", 0, false)
	badTime.Timestamp = "yesterday"

	feed.set(
		alertAt("read", 10*time.Second, true),
		noID, badLevel, badTime,
		alertAt("good", time.Second, false),
	)

	p.Check(context.Background())
	got := rec.ids()
	if len(got) != 1 || got[0] != "good" {
		t.Errorf("expected [good], got %v", got)
	}
	if st := p.Stats(); st.Malformed != 3 {
		t.Errorf("expected 3 malformed, got %d", st.Malformed)
	}
}

func TestCheck_AllReadEmitsNothing(t *testing.T) {
	feed := &fakeFeed{}
	rec := &recorder{}
	p := newTestPoller(feed, rec)

	feed.set(alertAt("a", 0, true), alertAt("b", time.Second, true))
	if p.Check(context.Background()) {
		t.Error("expected no notification when every alert is read")
	}
	if _, ok := p.Marker(); ok {
		t.Error("expected marker unset")
	}
}

func TestCheck_ComparesInstantsAcrossZones(t *testing.T) {
	feed := &fakeFeed{}
	rec := &recorder{}
	p := newTestPoller(feed, rec)
	p.SetMarker(base)

	// 04:04:06+01:00 is one second after the marker.
	later := alertAt("zoned", 0, false)
	later.Timestamp = "2025-01-02T04:04:06+01:00"
	feed.set(later)

	if !p.Check(context.Background()) {
		t.Error("expected zoned timestamp after marker to notify")
	}
}

func TestCheck_FetchFailureSwallowed(t *testing.T) {
	feed := &fakeFeed{}
	rec := &recorder{}
	p := newTestPoller(feed, rec)

	feed.fail(errors.New("connection refused"))
	if p.Check(context.Background()) {
		t.Error("expected no notification on failure")
	}
	st := p.Stats()
	if st.Failures != 1 || st.LastError != "connection refused" {
		t.Errorf("unexpected stats %+v", st)
	}

	feed.fail(nil)
	feed.set(alertAt("a", 0, false))
	if !p.Check(context.Background()) {
		t.Error("expected recovery on next check")
	}
}

func TestCheck_SkipsWithoutSession(t *testing.T) {
	feed := &fakeFeed{}
	rec := &recorder{}
	p := New(Config{}, feed, fakeSession{}, rec.handle, testLogger())

	feed.set(alertAt("a", 0, false))
	p.Check(context.Background())

	if feed.callCount() != 0 {
		t.Error("expected no fetch without a session")
	}
	if st := p.Stats(); st.Skipped != 1 {
		t.Errorf("expected 1 skipped poll, got %d", st.Skipped)
	}
}

func TestResetMarker(t *testing.T) {
	feed := &fakeFeed{}
	rec := &recorder{}
	p := newTestPoller(feed, rec)

	feed.set(alertAt("a", 0, false))
	p.Check(context.Background())
	p.ResetMarker()
	p.Check(context.Background())

	if got := rec.ids(); len(got) != 2 {
		t.Errorf("expected re-notification after reset, got %v", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, &fakeFeed{}, nil, nil, nil)
	want := DefaultConfig()
	if p.config != want {
		t.Errorf("expected defaults %+v, got %+v", want, p.config)
	}
}

func TestRun_PollsAndStopsOnCancel(t *testing.T) {
	feed := &fakeFeed{}
	rec := &recorder{}
	p := New(Config{
		InitialDelay: time.Millisecond,
		Interval:     10 * time.Millisecond,
		Limit:        7,
	}, feed, fakeSession{token: "tok"}, rec.handle, testLogger())

	feed.set(alertAt("a", 0, false))
	feed.fail(errors.New("flaky"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for feed.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	feed.fail(nil)
	for len(rec.ids()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if got := rec.ids(); len(got) != 1 {
		t.Errorf("expected one notification across repeated ticks, got %v", got)
	}
	calls := feed.callCount()
	time.Sleep(30 * time.Millisecond)
	if feed.callCount() != calls {
		t.Error("expected no polls after Run returned")
	}
	feed.mu.Lock()
	if feed.limit != 7 {
		t.Errorf("expected limit 7, got %d", feed.limit)
	}
	feed.mu.Unlock()
}

func TestRun_CancelBeforeFirstCheck(t *testing.T) {
	feed := &fakeFeed{}
	p := New(Config{InitialDelay: time.Hour}, feed, fakeSession{token: "tok"}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if feed.callCount() != 0 {
		t.Error("expected no fetch")
	}
}
