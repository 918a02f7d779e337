// Package console provides the alert console.
//
// # Console Lifecycle
//
//  1. Open client-local storage and load the sound preference
//  2. Restore the stored session, renewing or signing in if needed
//  3. Start the alert poller
//  4. Follow preference changes from other consoles
//  5. Read keyboard commands until quit or shutdown signal
//
// When token renewal fails the session is over: the poller stops, the
// console navigates to the entry view and signs in again if a login source
// is configured. Without one Run returns ErrSessionTerminated.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/pilot-net/edos-console/console/internal/client"
	"github.com/pilot-net/edos-console/console/internal/config"
	"github.com/pilot-net/edos-console/console/internal/credstore"
	"github.com/pilot-net/edos-console/console/internal/notify"
	"github.com/pilot-net/edos-console/console/internal/poller"
	"github.com/pilot-net/edos-console/console/internal/prefs"
	"github.com/pilot-net/edos-console/console/internal/refresh"
	"github.com/pilot-net/edos-console/console/internal/secrets"
	"github.com/pilot-net/edos-console/console/internal/storage"
	"github.com/pilot-net/edos-console/console/internal/tone"
)

// Version is set at build time.
var Version = "dev"

// ErrSessionTerminated is returned by Run when the session ended and could
// not be re-established.
var ErrSessionTerminated = errors.New("session terminated")

// EntryPath is the unauthenticated view shown after a session ends.
const EntryPath = "/"

// setupTimeout bounds storage reads and sign-in at startup.
const setupTimeout = 15 * time.Second

// Options overrides collaborators, mainly for tests. Zero fields are built
// from configuration.
type Options struct {
	Store      storage.Store
	HTTPClient *http.Client
	Player     tone.Player
	Toaster    notify.Toaster
	Navigator  notify.Navigator
	In         io.Reader
	Out        io.Writer
}

// Console is the alert console.
type Console struct {
	cfg        *config.Config
	store      storage.Store
	creds      *credstore.Store
	prefs      *prefs.Prefs
	coord      *refresh.Coordinator
	client     *client.Client
	dispatcher *notify.Dispatcher
	poller     *poller.Poller
	login      secrets.LoginSource
	nav        notify.Navigator
	in         io.Reader
	out        io.Writer
	logger     *slog.Logger

	sessionEnded chan error
	startTime    time.Time
}

// New creates a console with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Console, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = storage.New(cfg.StorageOptions(), logger)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
	}

	login, err := secrets.New(cfg.Secrets, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("configuring login source: %w", err)
	}

	c := &Console{
		cfg:          cfg,
		store:        store,
		creds:        credstore.New(store, logger),
		login:        login,
		in:           opts.In,
		out:          opts.Out,
		logger:       logger,
		sessionEnded: make(chan error, 1),
		startTime:    time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	c.prefs = prefs.Load(ctx, store, logger)

	c.coord = refresh.New(refresh.Config{
		Store: c.creds,
		Renewer: client.NewRenewer(client.RenewerConfig{
			BaseURL:            cfg.Backend.URL,
			APIPrefix:          cfg.Backend.APIPrefix,
			HTTPClient:         opts.HTTPClient,
			InsecureSkipVerify: cfg.Backend.InsecureSkipVerify,
			Timeout:            cfg.Auth.RefreshTimeout,
		}),
		Timeout:      cfg.Auth.RefreshTimeout,
		OnSessionEnd: c.endSession,
		Logger:       logger,
	})

	c.client = client.New(client.Config{
		BaseURL:            cfg.Backend.URL,
		APIPrefix:          cfg.Backend.APIPrefix,
		HTTPClient:         opts.HTTPClient,
		InsecureSkipVerify: cfg.Backend.InsecureSkipVerify,
		Timeout:            cfg.Backend.RequestTimeout,
		RequestsPerMinute:  cfg.Backend.RequestsPerMinute,
		Credentials:        c.creds,
		Tokens:             c.coord,
		Logger:             logger,
	})

	player := opts.Player
	if player == nil {
		player, err = tone.Select(tone.Options{Backend: cfg.Notify.AudioBackend, Logger: logger})
		if err != nil {
			logger.Warn("audio unavailable, alerts will be silent", "error", err)
			player = tone.Silent{}
		}
	}

	toaster := opts.Toaster
	if toaster == nil {
		toaster = notify.NewTerminalToaster(opts.Out, logger)
	}

	c.nav = opts.Navigator
	if c.nav == nil {
		c.nav = c.defaultNavigator()
	}

	c.dispatcher = notify.New(notify.Config{
		Toaster:   toaster,
		Player:    player,
		Sound:     c.prefs,
		Navigator: c.nav,
		Logger:    logger,
	})

	c.poller = poller.New(cfg.PollerOptions(), c.client, c.creds, c.dispatcher.Notify, logger)

	return c, nil
}

func (c *Console) defaultNavigator() notify.Navigator {
	if c.cfg.Notify.OpenBrowser {
		if nav, ok := notify.NewBrowserNavigator(c.cfg.DashboardURL(), c.logger); ok {
			return nav
		}
		c.logger.Warn("no browser opener found, navigation will be logged only")
	}
	return notify.LogNavigator{Logger: c.logger}
}

// Run starts the console and blocks until quit, shutdown or session end.
func (c *Console) Run(ctx context.Context) error {
	c.logger.Info("starting console",
		"version", Version,
		"backend", c.cfg.Backend.URL,
		"sound", c.prefs.SoundEnabled())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.restoreSession(ctx); err != nil {
		return err
	}

	// Run preference watch and command loop for the whole session
	errCh := make(chan error, 2)

	go func() {
		errCh <- c.runPrefsWatch(ctx)
	}()

	go func() {
		errCh <- c.runCommands(ctx)
	}()

	for {
		pollCtx, stopPoll := context.WithCancel(ctx)
		pollDone := make(chan error, 1)
		go func() {
			pollDone <- c.poller.Run(pollCtx)
		}()

		select {
		case err := <-errCh:
			stopPoll()
			<-pollDone
			if errors.Is(err, errQuit) {
				return nil
			}
			return err

		case <-ctx.Done():
			stopPoll()
			<-pollDone
			return ctx.Err()

		case reason := <-c.sessionEnded:
			stopPoll()
			<-pollDone
			if err := c.handleSessionEnd(ctx, reason); err != nil {
				return err
			}
		}
	}
}

// Close releases storage and waits for background tones.
func (c *Console) Close() error {
	c.dispatcher.Wait()
	return c.store.Close()
}

// endSession is the coordinator's session-end hook.
func (c *Console) endSession(err error) {
	select {
	case c.sessionEnded <- err:
	default:
		// A termination is already pending.
	}
}

// handleSessionEnd moves to the entry view and signs in again if possible.
func (c *Console) handleSessionEnd(ctx context.Context, reason error) error {
	c.logger.Warn("session terminated", "reason", reason)
	c.dispatcher.DismissAll()

	if err := c.nav.Navigate(ctx, EntryPath); err != nil {
		c.logger.Warn("navigation failed", "path", EntryPath, "error", err)
	}

	if c.login == nil {
		return fmt.Errorf("%w: %w", ErrSessionTerminated, reason)
	}

	if err := c.signIn(ctx); err != nil {
		return fmt.Errorf("%w: sign-in failed: %w", ErrSessionTerminated, err)
	}
	c.drainSessionEnded()
	return nil
}

// restoreSession makes sure a session exists before polling starts.
func (c *Console) restoreSession(ctx context.Context) error {
	if _, ok := c.creds.Get(ctx); ok {
		c.logger.Info("using stored session")
		return nil
	}

	if _, ok := c.creds.RefreshToken(ctx); ok {
		_, err := c.coord.Token(ctx, "")
		if err == nil {
			c.drainSessionEnded()
			c.logger.Info("renewed stored session")
			return nil
		}
		c.logger.Warn("stored session could not be renewed", "error", err)
	}
	c.drainSessionEnded()

	if c.login == nil {
		c.logger.Info("no session stored, waiting for sign-in from another console")
		return nil
	}

	if err := c.signIn(ctx); err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	return nil
}

// signIn logs in through the configured login source.
func (c *Console) signIn(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	req, err := c.login.Login(ctx)
	if err != nil {
		return fmt.Errorf("%s login source: %w", c.login.Name(), err)
	}
	if _, err := c.client.Login(ctx, req); err != nil {
		return err
	}
	return nil
}

func (c *Console) drainSessionEnded() {
	select {
	case <-c.sessionEnded:
	default:
	}
}

// runPrefsWatch follows preference changes. A watch that cannot start is
// logged; the console keeps using the local value.
func (c *Console) runPrefsWatch(ctx context.Context) error {
	if err := c.prefs.Watch(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("preference watch stopped", "error", err)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Stats is a snapshot of console state.
type Stats struct {
	Uptime       time.Duration `json:"uptime"`
	SoundEnabled bool          `json:"sound_enabled"`
	Refresh      refresh.Stats `json:"refresh"`
	Poller       poller.Stats  `json:"poller"`
}

// Stats returns console statistics.
func (c *Console) Stats() Stats {
	return Stats{
		Uptime:       time.Since(c.startTime),
		SoundEnabled: c.prefs.SoundEnabled(),
		Refresh:      c.coord.Stats(),
		Poller:       c.poller.Stats(),
	}
}
