package notify

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/pilot-net/edos-console/pkg/types"
)

// TerminalToaster prints toasts as colored pterm lines and tracks which are
// still on screen until their timeout fires.
type TerminalToaster struct {
	out    io.Writer
	logger *slog.Logger

	mu      sync.Mutex
	visible map[string]Toast
	timers  map[string]*time.Timer
}

// NewTerminalToaster creates a toaster writing to out (default: stdout).
func NewTerminalToaster(out io.Writer, logger *slog.Logger) *TerminalToaster {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TerminalToaster{
		out:     out,
		logger:  logger.With("component", "toaster"),
		visible: make(map[string]Toast),
		timers:  make(map[string]*time.Timer),
	}
}

// Show prints t and schedules its dismissal.
func (tt *TerminalToaster) Show(t Toast) {
	printer := printerFor(t.Level).WithWriter(tt.out)
	if t.Title != "" {
		printer.Printfln("%s: %s  (v to view)", t.Title, t.Message)
	} else {
		printer.Printfln("%s  (v to view)", t.Message)
	}

	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.visible[t.ID] = t
	id := t.ID
	tt.timers[id] = time.AfterFunc(t.Timeout, func() {
		tt.expire(id)
	})
}

// Dismiss removes the toast with id.
func (tt *TerminalToaster) Dismiss(id string) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.remove(id)
}

// DismissAll removes every toast.
func (tt *TerminalToaster) DismissAll() {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	for id := range tt.visible {
		tt.remove(id)
	}
}

// Visible returns the toasts still on screen.
func (tt *TerminalToaster) Visible() []Toast {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	out := make([]Toast, 0, len(tt.visible))
	for _, t := range tt.visible {
		out = append(out, t)
	}
	return out
}

func (tt *TerminalToaster) expire(id string) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if _, ok := tt.visible[id]; ok {
		tt.logger.Debug("toast expired", "toast_id", id)
	}
	tt.remove(id)
}

// remove must be called with mu held.
func (tt *TerminalToaster) remove(id string) {
	if timer, ok := tt.timers[id]; ok {
		timer.Stop()
		delete(tt.timers, id)
	}
	delete(tt.visible, id)
}

func printerFor(level types.Level) *pterm.PrefixPrinter {
	switch level {
	case types.LevelCritical:
		return pterm.Error.WithPrefix(pterm.Prefix{
			Text:  "CRITICAL",
			Style: pterm.NewStyle(pterm.BgRed, pterm.FgLightWhite, pterm.Bold),
		})
	case types.LevelHigh:
		return pterm.Warning.WithPrefix(pterm.Prefix{
			Text:  "HIGH",
			Style: pterm.NewStyle(pterm.BgYellow, pterm.FgBlack),
		})
	case types.LevelMedium:
		return pterm.Info.WithPrefix(pterm.Prefix{
			Text:  "MEDIUM",
			Style: pterm.NewStyle(pterm.BgCyan, pterm.FgBlack),
		})
	default:
		return pterm.Info.WithPrefix(pterm.Prefix{
			Text:  "LOW",
			Style: pterm.NewStyle(pterm.BgGray, pterm.FgLightWhite),
		})
	}
}
