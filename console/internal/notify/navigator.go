package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// LogNavigator records navigation requests without opening anything.
type LogNavigator struct {
	Logger *slog.Logger
}

func (n LogNavigator) Navigate(ctx context.Context, path string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("navigate", "path", path)
	return nil
}

// BrowserNavigator opens dashboard views in the desktop browser.
type BrowserNavigator struct {
	baseURL string
	command string
	logger  *slog.Logger

	// start launches the opener; replaced in tests.
	start func(name string, args ...string) error
}

// NewBrowserNavigator finds a URL opener for this platform. It reports false
// when none is installed.
func NewBrowserNavigator(baseURL string, logger *slog.Logger) (*BrowserNavigator, bool) {
	if logger == nil {
		logger = slog.Default()
	}

	command := "xdg-open"
	if runtime.GOOS == "darwin" {
		command = "open"
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, false
	}

	return &BrowserNavigator{
		baseURL: strings.TrimRight(baseURL, "/"),
		command: path,
		logger:  logger.With("component", "navigator"),
		start: func(name string, args ...string) error {
			cmd := exec.Command(name, args...)
			if err := cmd.Start(); err != nil {
				return err
			}
			go cmd.Wait()
			return nil
		},
	}, true
}

func (n *BrowserNavigator) Navigate(ctx context.Context, path string) error {
	url := n.baseURL + path
	if err := n.start(n.command, url); err != nil {
		return fmt.Errorf("opening %s: %w", url, err)
	}
	n.logger.Debug("opened browser", "url", url)
	return nil
}
