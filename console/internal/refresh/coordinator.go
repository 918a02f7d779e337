// Package refresh coordinates access-token renewal.
//
// # State Machine
//
//	Idle ──first caller──▶ Refreshing ──outcome──▶ Idle
//	                          ▲    │
//	                more callers   └─ resolve/reject every waiter, in arrival order
//
// At most one renewal call is in flight. Callers that need a token while a
// renewal is running join the waiter queue; each waiter receives the outcome
// exactly once. A failed renewal clears the stored credentials, rejects every
// waiter with the same error value and ends the session through OnSessionEnd.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/edos-console/pkg/types"
)

// ErrNoRefreshToken is the renewal failure when no refresh token is stored.
var ErrNoRefreshToken = errors.New("no refresh token available")

// State is the coordinator's renewal state.
type State int

const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CredentialStore is the subset of the credential store the coordinator needs.
type CredentialStore interface {
	AccessToken(ctx context.Context) string
	RefreshToken(ctx context.Context) (string, bool)
	Set(ctx context.Context, creds types.Credentials) error
	Clear(ctx context.Context) error
}

// Renewer exchanges a refresh token for new credentials.
// Implementations must honor ctx cancellation.
type Renewer interface {
	Renew(ctx context.Context, refreshToken string) (types.Credentials, error)
}

// Config for the coordinator.
type Config struct {
	Store   CredentialStore
	Renewer Renewer

	// Timeout bounds a single renewal call (default: 10s)
	Timeout time.Duration

	// OnSessionEnd is called once per failed renewal, before any waiter is
	// rejected, so a rejected caller can rely on the session end having been
	// signalled. The host decides what re-authentication means.
	OnSessionEnd func(err error)

	Logger *slog.Logger
}

// Coordinator performs single-flight token renewal.
type Coordinator struct {
	store        CredentialStore
	renewer      Renewer
	timeout      time.Duration
	onSessionEnd func(error)
	logger       *slog.Logger

	mu      sync.Mutex
	state   State
	waiters []chan outcome

	// Metrics
	renewals int64
	failures int64
}

type outcome struct {
	token string
	err   error
}

// storeTimeout bounds credential writes after a renewal outcome.
const storeTimeout = 5 * time.Second

// New creates a coordinator in the Idle state.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Coordinator{
		store:        cfg.Store,
		renewer:      cfg.Renewer,
		timeout:      cfg.Timeout,
		onSessionEnd: cfg.OnSessionEnd,
		logger:       cfg.Logger.With("component", "refresh"),
	}
}

// Token returns an access token newer than stale.
//
// If the stored token already differs from stale, another caller renewed it
// and it is returned without a network call. Otherwise the caller waits for
// the in-flight renewal, starting one if none is running. Cancelling ctx stops
// the wait but not the renewal.
func (c *Coordinator) Token(ctx context.Context, stale string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ch := make(chan outcome, 1)

	// A read cut short by ctx would look like a missing token.
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	c.mu.Lock()
	if c.state == Idle {
		if current := c.store.AccessToken(readCtx); current != "" && current != stale {
			c.mu.Unlock()
			return current, nil
		}
	}
	c.waiters = append(c.waiters, ch)
	if c.state == Idle {
		c.state = Refreshing
		c.renewals++
		go c.renew()
	}
	c.mu.Unlock()

	select {
	case o := <-ch:
		return o.token, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// State returns the current renewal state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of queued waiters.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// renew runs one renewal cycle and settles every waiter.
func (c *Coordinator) renew() {
	start := time.Now()

	creds, err := c.exchange()

	storeCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err == nil {
		if serr := c.store.Set(storeCtx, creds); serr != nil {
			// The new token is still handed to waiters; later calls will
			// renew again if it was not persisted.
			c.logger.Warn("failed to persist renewed credentials", "error", serr)
		}
	} else {
		if cerr := c.store.Clear(storeCtx); cerr != nil {
			c.logger.Warn("failed to clear credentials", "error", cerr)
		}
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.state = Idle
	if err != nil {
		c.failures++
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("token renewal failed, ending session",
			"error", err,
			"waiters", len(waiters),
			"elapsed", time.Since(start))
		if c.onSessionEnd != nil {
			c.onSessionEnd(err)
		}
	}

	for _, w := range waiters {
		w <- outcome{token: creds.AccessToken, err: err}
	}

	if err != nil {
		return
	}

	c.logger.Info("access token renewed",
		"waiters", len(waiters),
		"elapsed", time.Since(start))
}

// exchange performs the renewal call under the coordinator's timeout.
func (c *Coordinator) exchange() (types.Credentials, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	refreshToken, ok := c.store.RefreshToken(ctx)
	if !ok {
		return types.Credentials{}, ErrNoRefreshToken
	}

	creds, err := c.renewer.Renew(ctx, refreshToken)
	if err != nil {
		return types.Credentials{}, fmt.Errorf("token renewal: %w", err)
	}
	if creds.AccessToken == "" {
		return types.Credentials{}, errors.New("token renewal: response has no access token")
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}
	return creds, nil
}

// Stats returns coordinator statistics.
type Stats struct {
	State    string `json:"state"`
	Pending  int    `json:"pending"`
	Renewals int64  `json:"renewals"`
	Failures int64  `json:"failures"`
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		State:    c.state.String(),
		Pending:  len(c.waiters),
		Renewals: c.renewals,
		Failures: c.failures,
	}
}
