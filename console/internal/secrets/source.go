// Package secrets supplies the username and password used to sign in.
//
// # Backends
//
// - static: credentials from config or EDOS_USERNAME / EDOS_PASSWORD
// - 1password: a login item read through 1Password Connect
// - auto: 1Password when Connect is configured, otherwise static when a
//   username is set, otherwise none
//
// With no source the console waits for a session to appear in storage.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pilot-net/edos-console/pkg/types"
)

// ErrNoCredentials is returned by a source that has nothing to offer.
var ErrNoCredentials = errors.New("no login credentials configured")

// LoginSource produces a login request.
type LoginSource interface {
	Name() string
	Login(ctx context.Context) (types.LoginRequest, error)
}

// Config holds configuration for the login source.
type Config struct {
	// Backend specifies which backend to use: "1password", "static", "none" or "auto"
	Backend string `yaml:"backend"`

	// Static credentials
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// 1Password Connect configuration
	OnePasswordHost    string `yaml:"onepassword_host"`
	OnePasswordToken   string `yaml:"-"`
	OnePasswordVaultID string `yaml:"onepassword_vault_id"`
	// OnePasswordItem is the title of the login item (default: "edos-console")
	OnePasswordItem string `yaml:"onepassword_item"`
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	return Config{
		Backend:            getEnv("EDOS_SECRETS_BACKEND", "auto"),
		Username:           os.Getenv("EDOS_USERNAME"),
		Password:           os.Getenv("EDOS_PASSWORD"),
		OnePasswordHost:    os.Getenv("OP_CONNECT_HOST"),
		OnePasswordToken:   os.Getenv("OP_CONNECT_TOKEN"),
		OnePasswordVaultID: os.Getenv("OP_VAULT_ID"),
		OnePasswordItem:    getEnv("OP_ITEM", DefaultItemTitle),
	}
}

// New creates a LoginSource based on configuration. It returns nil, nil
// when no source is configured.
func New(cfg Config, logger *slog.Logger) (LoginSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	onePassword := OnePasswordConfig{
		Host:    cfg.OnePasswordHost,
		Token:   cfg.OnePasswordToken,
		VaultID: cfg.OnePasswordVaultID,
		Item:    cfg.OnePasswordItem,
	}

	switch backend {
	case "1password":
		return NewOnePassword(onePassword, logger)

	case "static":
		if cfg.Username == "" {
			return nil, fmt.Errorf("static backend requested but no username set")
		}
		return Static{Username: cfg.Username, Password: cfg.Password}, nil

	case "none":
		return nil, nil

	case "auto":
		if onePassword.complete() {
			src, err := NewOnePassword(onePassword, logger)
			if err != nil {
				logger.Warn("failed to initialize 1Password, falling back to static credentials",
					"error", err)
			} else {
				return src, nil
			}
		}
		if cfg.Username != "" {
			return Static{Username: cfg.Username, Password: cfg.Password}, nil
		}
		logger.Info("no login source configured, waiting for a stored session")
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}

// Static returns fixed credentials.
type Static struct {
	Username string
	Password string
}

func (s Static) Name() string { return "static" }

func (s Static) Login(ctx context.Context) (types.LoginRequest, error) {
	if s.Username == "" {
		return types.LoginRequest{}, ErrNoCredentials
	}
	return types.LoginRequest{Username: s.Username, Password: s.Password}, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
