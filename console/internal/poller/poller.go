// Package poller detects newly arrived alerts.
//
// # Design
//
// One goroutine fetches the most recent alerts on a fixed interval, so ticks
// never overlap. Each tick compares the newest unread alert against a
// last-seen marker held in memory:
//
//  1. No marker yet: notify for the newest unread alert and set the marker
//  2. Newest unread is strictly later than the marker: notify once, advance
//  3. Otherwise: nothing
//
// A cold start with a backlog therefore emits at most one notification.
//
// # Graceful Handling
//
// - Ticks are skipped while no session is stored
// - Fetch failures are logged and retried on the next tick
// - Malformed alerts are dropped
// - Only context cancellation stops Run
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/edos-console/pkg/types"
)

// Fetcher lists the most recent alerts.
type Fetcher interface {
	ListAlerts(ctx context.Context, limit int) ([]types.Alert, error)
}

// Session reports the stored access token; "" means signed out.
type Session interface {
	AccessToken(ctx context.Context) string
}

// Handler receives one event per newly observed alert.
type Handler func(ctx context.Context, event types.NotificationEvent)

// Config for the poller.
type Config struct {
	// InitialDelay before the first check (default: 100ms)
	InitialDelay time.Duration

	// Interval between checks (default: 3s)
	Interval time.Duration

	// FetchTimeout bounds a single fetch (default: 5s)
	FetchTimeout time.Duration

	// Limit is how many recent alerts are fetched (default: 10)
	Limit int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 100 * time.Millisecond,
		Interval:     3 * time.Second,
		FetchTimeout: 5 * time.Second,
		Limit:        10,
	}
}

// Poller watches the alert feed.
type Poller struct {
	config  Config
	fetcher Fetcher
	session Session
	handler Handler
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	marker time.Time
	seeded bool

	statsMu sync.Mutex
	stats   Stats
}

// Stats tracks poller metrics.
type Stats struct {
	Polls         int64     `json:"polls"`
	Skipped       int64     `json:"skipped"`
	Failures      int64     `json:"failures"`
	Malformed     int64     `json:"malformed"`
	Notifications int64     `json:"notifications"`
	LastPoll      time.Time `json:"last_poll"`
	LastError     string    `json:"last_error,omitempty"`
}

// New creates a poller. Zero config fields take their defaults.
func New(cfg Config, fetcher Fetcher, session Session, handler Handler, logger *slog.Logger) *Poller {
	defaults := DefaultConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaults.Limit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		config:  cfg,
		fetcher: fetcher,
		session: session,
		handler: handler,
		logger:  logger.With("component", "poller"),
		now:     time.Now,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("starting alert poller",
		"interval", p.config.Interval,
		"limit", p.config.Limit)

	timer := time.NewTimer(p.config.InitialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stopping alert poller")
			return ctx.Err()
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check runs one poll. It reports whether a notification was emitted.
func (p *Poller) Check(ctx context.Context) bool {
	if p.session != nil && p.session.AccessToken(ctx) == "" {
		p.logger.Debug("no session stored, skipping poll")
		p.statsMu.Lock()
		p.stats.Skipped++
		p.statsMu.Unlock()
		return false
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	alerts, err := p.fetcher.ListAlerts(fetchCtx, p.config.Limit)
	cancel()

	p.statsMu.Lock()
	p.stats.Polls++
	p.stats.LastPoll = p.now()
	if err != nil {
		p.stats.Failures++
		p.stats.LastError = err.Error()
	}
	p.statsMu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("alert poll failed", "error", err)
		}
		return false
	}

	newest, ok := p.newestUnread(alerts)
	if !ok {
		return false
	}

	if !p.advance(newest.At) {
		return false
	}

	event := types.NewNotificationEvent(newest, p.now())
	p.logger.Info("new alert",
		"alert_id", newest.ID,
		"level", newest.Severity,
		"timestamp", newest.At)

	p.statsMu.Lock()
	p.stats.Notifications++
	p.statsMu.Unlock()

	if p.handler != nil {
		p.handler(ctx, event)
	}
	return true
}

// newestUnread returns the unread alert with the latest timestamp.
// Ties keep the first one in feed order.
func (p *Poller) newestUnread(alerts []types.Alert) (types.ObservedAlert, bool) {
	var newest types.ObservedAlert
	found := false
	malformed := 0

	for _, a := range alerts {
		if a.Read {
			continue
		}
		obs, err := a.Observe()
		if err != nil {
			malformed++
			p.logger.Debug("dropping malformed alert", "error", err)
			continue
		}
		if !found || obs.At.After(newest.At) {
			newest = obs
			found = true
		}
	}

	if malformed > 0 {
		p.statsMu.Lock()
		p.stats.Malformed += int64(malformed)
		p.statsMu.Unlock()
	}
	return newest, found
}

// advance moves the marker to at if at is new. Compare and set happen under
// one lock so concurrent checks cannot both claim the same alert.
func (p *Poller) advance(at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seeded && !at.After(p.marker) {
		return false
	}
	p.marker = at
	p.seeded = true
	return true
}

// Marker returns the last-seen timestamp and whether one is set.
func (p *Poller) Marker() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.marker, p.seeded
}

// SetMarker seeds the last-seen timestamp.
func (p *Poller) SetMarker(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marker = at
	p.seeded = true
}

// ResetMarker forgets the last-seen timestamp; the next unread alert is
// treated as a cold start.
func (p *Poller) ResetMarker() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marker = time.Time{}
	p.seeded = false
}

// Stats returns poller statistics.
func (p *Poller) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}
