// Package config handles console configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (EDOS_*, OP_*)
// 3. Config file (YAML)
// 4. Defaults
//
// # Example Config File
//
//	backend:
//	  url: https://edos.example.net
//	  api_prefix: /api
//	  dashboard_url: https://edos.example.net
//	  requests_per_minute: 120
//
//	auth:
//	  refresh_timeout: 10s
//
//	storage:
//	  backend: file
//	  path: ~/.edos/console.json
//
//	poller:
//	  interval: 3s
//	  limit: 10
//
//	notify:
//	  audio_backend: auto
//	  open_browser: true
//
//	secrets:
//	  backend: 1password
//	  onepassword_host: http://op-connect:8080
//	  onepassword_vault_id: 3x4mpl3v4ult
//	  onepassword_item: edos-console
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pilot-net/edos-console/console/internal/poller"
	"github.com/pilot-net/edos-console/console/internal/secrets"
	"github.com/pilot-net/edos-console/console/internal/storage"
	"github.com/pilot-net/edos-console/console/internal/tone"
)

// Config is the complete console configuration.
type Config struct {
	Backend BackendConfig  `yaml:"backend"`
	Auth    AuthConfig     `yaml:"auth"`
	Storage StorageConfig  `yaml:"storage"`
	Poller  PollerConfig   `yaml:"poller"`
	Notify  NotifyConfig   `yaml:"notify"`
	Secrets secrets.Config `yaml:"secrets"`
	Logging LoggingConfig  `yaml:"logging"`
}

// BackendConfig defines how to reach the backend API.
type BackendConfig struct {
	URL       string `yaml:"url"`        // e.g., https://edos.example.net
	APIPrefix string `yaml:"api_prefix"` // joined before every route

	// DashboardURL is opened when a toast is selected (default: URL)
	DashboardURL string `yaml:"dashboard_url,omitempty"`

	// TLS settings
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`

	RequestTimeout    time.Duration `yaml:"request_timeout,omitempty"`
	RequestsPerMinute int           `yaml:"requests_per_minute,omitempty"`
}

// AuthConfig defines token renewal behavior.
type AuthConfig struct {
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// StorageConfig defines where tokens and preferences live.
type StorageConfig struct {
	Backend  string `yaml:"backend"` // memory, file, redis
	Path     string `yaml:"path,omitempty"`
	RedisURL string `yaml:"redis_url,omitempty"`
	SealKey  string `yaml:"seal_key,omitempty"` // hex, 32 bytes
}

// PollerConfig defines alert polling.
type PollerConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Interval     time.Duration `yaml:"interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Limit        int           `yaml:"limit"`
}

// NotifyConfig defines toast and tone behavior.
type NotifyConfig struct {
	AudioBackend string `yaml:"audio_backend"` // auto, oscillator, buffer, none
	OpenBrowser  bool   `yaml:"open_browser"`
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	p := poller.DefaultConfig()
	return &Config{
		Backend: BackendConfig{
			URL:            "http://localhost:8080",
			APIPrefix:      "/api",
			RequestTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			RefreshTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "file",
		},
		Poller: PollerConfig{
			InitialDelay: p.InitialDelay,
			Interval:     p.Interval,
			FetchTimeout: p.FetchTimeout,
			Limit:        p.Limit,
		},
		Notify: NotifyConfig{
			AudioBackend: tone.BackendAuto,
		},
		Secrets: secrets.Config{
			Backend:         "auto",
			OnePasswordItem: secrets.DefaultItemTitle,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.url must be an http(s) URL: %q", c.Backend.URL)
	}

	switch c.Storage.Backend {
	case "", "file", "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend: %s", c.Storage.Backend)
	}
	if c.Storage.SealKey != "" {
		if _, err := storage.ParseSealKey(c.Storage.SealKey); err != nil {
			return fmt.Errorf("storage.seal_key: %w", err)
		}
	}

	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive")
	}
	if c.Poller.Limit <= 0 {
		return fmt.Errorf("poller.limit must be positive")
	}

	switch c.Notify.AudioBackend {
	case "", tone.BackendAuto, tone.BackendOscillator, tone.BackendBuffer, tone.BackendNone:
	default:
		return fmt.Errorf("unknown notify.audio_backend: %s", c.Notify.AudioBackend)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging.format: %s", c.Logging.Format)
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use EDOS_ prefix:
// - EDOS_BACKEND_URL
// - EDOS_API_PREFIX
// - EDOS_DASHBOARD_URL
// - EDOS_INSECURE_SKIP_VERIFY (true/false)
// - EDOS_STORAGE_BACKEND
// - EDOS_STORAGE_PATH
// - EDOS_REDIS_URL
// - EDOS_SEAL_KEY
// - EDOS_POLL_INTERVAL (duration, e.g. "5s")
// - EDOS_AUDIO_BACKEND
// - EDOS_LOG_LEVEL
// - EDOS_SECRETS_BACKEND, EDOS_USERNAME, EDOS_PASSWORD
// - OP_CONNECT_HOST, OP_CONNECT_TOKEN, OP_VAULT_ID, OP_ITEM
func (c *Config) ApplyEnvOverrides() {
	setString(&c.Backend.URL, "EDOS_BACKEND_URL")
	setString(&c.Backend.APIPrefix, "EDOS_API_PREFIX")
	setString(&c.Backend.DashboardURL, "EDOS_DASHBOARD_URL")
	if v := os.Getenv("EDOS_INSECURE_SKIP_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Backend.InsecureSkipVerify = b
		}
	}

	setString(&c.Storage.Backend, "EDOS_STORAGE_BACKEND")
	setString(&c.Storage.Path, "EDOS_STORAGE_PATH")
	setString(&c.Storage.RedisURL, "EDOS_REDIS_URL")
	setString(&c.Storage.SealKey, "EDOS_SEAL_KEY")

	if v := os.Getenv("EDOS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Poller.Interval = d
		}
	}

	setString(&c.Notify.AudioBackend, "EDOS_AUDIO_BACKEND")
	setString(&c.Logging.Level, "EDOS_LOG_LEVEL")

	setString(&c.Secrets.Backend, "EDOS_SECRETS_BACKEND")
	setString(&c.Secrets.Username, "EDOS_USERNAME")
	setString(&c.Secrets.Password, "EDOS_PASSWORD")
	setString(&c.Secrets.OnePasswordHost, "OP_CONNECT_HOST")
	setString(&c.Secrets.OnePasswordToken, "OP_CONNECT_TOKEN")
	setString(&c.Secrets.OnePasswordVaultID, "OP_VAULT_ID")
	setString(&c.Secrets.OnePasswordItem, "OP_ITEM")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// StorageOptions converts the storage section for storage.New.
func (c *Config) StorageOptions() storage.Config {
	return storage.Config{
		Backend:  c.Storage.Backend,
		FilePath: expandHome(c.Storage.Path),
		RedisURL: c.Storage.RedisURL,
		SealKey:  c.Storage.SealKey,
	}
}

// PollerOptions converts the poller section for poller.New.
func (c *Config) PollerOptions() poller.Config {
	return poller.Config{
		InitialDelay: c.Poller.InitialDelay,
		Interval:     c.Poller.Interval,
		FetchTimeout: c.Poller.FetchTimeout,
		Limit:        c.Poller.Limit,
	}
}

// DashboardURL returns where views are opened.
func (c *Config) DashboardURL() string {
	if c.Backend.DashboardURL != "" {
		return c.Backend.DashboardURL
	}
	return c.Backend.URL
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
