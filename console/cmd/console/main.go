// Command console runs the EDOS alert console.
//
// # Usage
//
//	console --backend https://edos.example.net
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (EDOS_*, OP_*)
// - Config file (--config)
//
// # Examples
//
// Run with flags:
//
//	console --backend https://edos.example.net \
//	        --storage file \
//	        --audio buffer
//
// Run with config file:
//
//	console --config /etc/edos/console.yaml
//
// Run with a 1Password Connect login item:
//
//	OP_CONNECT_HOST=http://op-connect:8080 \
//	OP_CONNECT_TOKEN=... \
//	OP_VAULT_ID=3x4mpl3v4ult \
//	console --backend https://edos.example.net
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pilot-net/edos-console/console"
	"github.com/pilot-net/edos-console/console/internal/config"
)

func main() {
	// Parse flags
	var (
		configFile = flag.String("config", "", "Path to config file")
		backendURL = flag.String("backend", "", "Backend URL")
		storage    = flag.String("storage", "", "Storage backend (memory, file, redis)")
		audio      = flag.String("audio", "", "Audio backend (auto, oscillator, buffer, none)")
		browser    = flag.Bool("browser", false, "Open selected alerts in a browser")
		jsonLogs   = flag.Bool("json-logs", false, "Log in JSON")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	// Print version
	if *version {
		fmt.Printf("edos-console %s\n", console.Version)
		os.Exit(0)
	}

	logger := newLogger("info", "text")

	// Load configuration
	cfg := config.DefaultConfig()

	// Load from file if specified
	if *configFile != "" {
		fileCfg, err := config.LoadFromFile(*configFile)
		if err != nil {
			logger.Error("failed to load config file", "error", err)
			os.Exit(1)
		}
		cfg = fileCfg
	}

	// Apply environment overrides
	cfg.ApplyEnvOverrides()

	// Apply flag overrides
	if *backendURL != "" {
		cfg.Backend.URL = *backendURL
	}
	if *storage != "" {
		cfg.Storage.Backend = *storage
	}
	if *audio != "" {
		cfg.Notify.AudioBackend = *audio
	}
	if *browser {
		cfg.Notify.OpenBrowser = true
	}
	if *jsonLogs {
		cfg.Logging.Format = "json"
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger = newLogger(cfg.Logging.Level, cfg.Logging.Format)

	// Create console
	c, err := console.New(cfg, logger, console.Options{})
	if err != nil {
		logger.Error("failed to create console", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	// Set up signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	err = c.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, console.ErrSessionTerminated):
		logger.Error("signed out, restart the console to sign in again", "error", err)
		c.Close()
		os.Exit(2)
	default:
		logger.Error("console exited with error", "error", err)
		c.Close()
		os.Exit(1)
	}

	logger.Info("console shutdown complete")
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
