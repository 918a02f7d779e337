// Package client provides the authenticated backend API client.
//
// # Operations
//
// - Login: Exchange username and password for a token pair
// - Me: Fetch the signed-in user
// - ListAlerts: Fetch the most recent alerts
// - FindAlerts: Fetch alerts filtered by level and read state
// - AlertStats: Fetch alert counts
// - MarkRead: Acknowledge one alert
// - MarkAllRead: Acknowledge every alert
// - Logout: Drop the local session
//
// Every operation goes through Send, which attaches the stored access token
// and replays a call once after a 401 through the refresh coordinator.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pilot-net/edos-console/pkg/types"
)

// DefaultAPIPrefix is joined between the base URL and every route.
const DefaultAPIPrefix = "/api"

const userAgent = "edos-console/1.0"

// Routes relative to the API prefix.
const (
	routeLogin       = "/auth/login"
	routeRefresh     = "/auth/refresh-token"
	routeAlerts      = "/alerts"
	routeMarkAllRead = "/alerts/mark-all-read"
	routeAlertStats  = "/alerts/stats"
	routeMe          = "/v1/users/me"
)

// CredentialStore is the subset of the credential store the client needs.
type CredentialStore interface {
	AccessToken(ctx context.Context) string
	IsExpired(token string) bool
	Set(ctx context.Context, creds types.Credentials) error
	Clear(ctx context.Context) error
}

// TokenSource hands out an access token newer than stale.
// refresh.Coordinator implements it.
type TokenSource interface {
	Token(ctx context.Context, stale string) (string, error)
}

// Client communicates with the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialStore
	tokens     TokenSource
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Config for the client.
type Config struct {
	BaseURL            string
	APIPrefix          string
	HTTPClient         *http.Client
	InsecureSkipVerify bool

	// Timeout per attempt when HTTPClient is nil (default: 30s)
	Timeout time.Duration

	// RequestsPerMinute caps outbound calls; 0 disables the limiter
	RequestsPerMinute int

	Credentials CredentialStore
	Tokens      TokenSource
	Logger      *slog.Logger
}

// New creates a backend client.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient(cfg.Timeout, cfg.InsecureSkipVerify)
	}

	c := &Client{
		baseURL:    joinBase(cfg.BaseURL, cfg.APIPrefix),
		httpClient: cfg.HTTPClient,
		creds:      cfg.Credentials,
		tokens:     cfg.Tokens,
		logger:     cfg.Logger.With("component", "client"),
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return c
}

func newHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// joinBase returns base URL plus prefix with no trailing slash.
func joinBase(baseURL, prefix string) string {
	if prefix == "" {
		prefix = DefaultAPIPrefix
	}
	if prefix == "/" {
		prefix = ""
	}
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimRight(baseURL, "/") + strings.TrimRight(prefix, "/")
}

// APIError is a non-2xx backend response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// StatusCode returns the HTTP status of err if it is an *APIError, else 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Login authenticates and stores the returned token pair.
func (c *Client) Login(ctx context.Context, req types.LoginRequest) (types.Credentials, error) {
	resp, err := c.Send(ctx, Request{
		Method:    http.MethodPost,
		Path:      routeLogin,
		Body:      req,
		Anonymous: true,
	})
	if err != nil {
		return types.Credentials{}, err
	}

	var creds types.Credentials
	if err := resp.Decode(&creds); err != nil {
		return types.Credentials{}, err
	}
	if creds.AccessToken == "" {
		return types.Credentials{}, errors.New("login response has no access token")
	}

	if err := c.creds.Set(ctx, creds); err != nil {
		return types.Credentials{}, fmt.Errorf("storing credentials: %w", err)
	}
	c.logger.Info("logged in", "user", req.Username)
	return creds, nil
}

// Logout clears the local session. The backend keeps no session state.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.creds.Clear(ctx); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	c.logger.Info("logged out")
	return nil
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (*types.User, error) {
	resp, err := c.Send(ctx, Request{Method: http.MethodGet, Path: routeMe})
	if err != nil {
		return nil, err
	}

	var user types.User
	if err := resp.Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListAlerts fetches the limit most recent alerts, newest first as the
// backend orders them.
func (c *Client) ListAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	return c.FindAlerts(ctx, AlertFilter{Limit: limit})
}

// AlertFilter narrows an alert listing. Zero fields do not filter.
type AlertFilter struct {
	Level types.Level
	Read  *bool
	Limit int
}

func (f AlertFilter) query() url.Values {
	query := url.Values{}
	if f.Level != "" {
		query.Set("level", string(f.Level))
	}
	if f.Read != nil {
		query.Set("read", strconv.FormatBool(*f.Read))
	}
	if f.Limit > 0 {
		query.Set("limit", strconv.Itoa(f.Limit))
	}
	return query
}

// Match reports whether a passes the filter.
func (f AlertFilter) Match(a types.Alert) bool {
	if f.Read != nil && a.Read != *f.Read {
		return false
	}
	if f.Level != "" {
		if l, err := types.ParseLevel(a.Level); err != nil || l != f.Level {
			return false
		}
	}
	return true
}

// FindAlerts fetches alerts matching filter.
func (c *Client) FindAlerts(ctx context.Context, filter AlertFilter) ([]types.Alert, error) {
	resp, err := c.Send(ctx, Request{Method: http.MethodGet, Path: routeAlerts, Query: filter.query()})
	if err != nil {
		return nil, err
	}

	var alerts []types.Alert
	if err := resp.Decode(&alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// AlertStats fetches alert counts.
func (c *Client) AlertStats(ctx context.Context) (*types.AlertStats, error) {
	resp, err := c.Send(ctx, Request{Method: http.MethodGet, Path: routeAlertStats})
	if err != nil {
		return nil, err
	}

	var stats types.AlertStats
	if err := resp.Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// MarkRead acknowledges one alert.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	path := fmt.Sprintf("%s/%s/read", routeAlerts, url.PathEscape(id))
	_, err := c.Send(ctx, Request{Method: http.MethodPatch, Path: path})
	return err
}

// MarkAllRead acknowledges every alert.
func (c *Client) MarkAllRead(ctx context.Context) error {
	_, err := c.Send(ctx, Request{Method: http.MethodPut, Path: routeMarkAllRead})
	return err
}

// Response is a buffered 2xx backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
