// Package tone plays a short severity-coded alert tone.
//
// # Players
//
// Two ways of producing sound exist, picked at startup by searching PATH:
//
//  1. Oscillator: synthesizes a sine wave sample by sample and streams raw
//     PCM into a realtime sink (pacat, aplay)
//  2. Buffer: encodes a complete WAV file in memory and hands it to a file
//     player (paplay, aplay, afplay, ffplay)
//
// The buffer player is used only when no oscillator sink exists, or when
// the oscillator fails at play time. With neither available the silent
// player is used. No player surfaces errors to the user; callers log and
// move on.
package tone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/pilot-net/edos-console/pkg/types"
)

// SampleRate for every generated waveform.
const SampleRate = 44100

// Oscillator envelope: ramp up to the tier gain, then back to silence.
const (
	attack       = 100 * time.Millisecond
	toneDuration = 500 * time.Millisecond
)

// Buffer tone parameters.
const (
	bufferDuration  = 300 * time.Millisecond
	bufferAmplitude = 0.3
)

// Playback volume of the buffer tone, 0.2 of full scale in each player's units.
const (
	paplayVolume = "13107" // PA_VOLUME_NORM is 65536
	afplayVolume = "0.2"
	ffplayVolume = "20"
)

// Tier is the frequency and peak gain for one severity.
type Tier struct {
	Frequency float64
	Gain      float64
}

// TierFor maps a severity to its tone.
func TierFor(level types.Level) Tier {
	switch level {
	case types.LevelCritical:
		return Tier{Frequency: 800, Gain: 0.3}
	case types.LevelHigh:
		return Tier{Frequency: 600, Gain: 0.2}
	default:
		return Tier{Frequency: 400, Gain: 0.1}
	}
}

// Envelope returns the gain at offset t into the oscillator tone:
// linear from 0 to peak over the attack, then linear back to 0 at the end.
func Envelope(peak float64, t time.Duration) float64 {
	switch {
	case t <= 0 || t >= toneDuration:
		return 0
	case t <= attack:
		return peak * float64(t) / float64(attack)
	default:
		return peak * float64(toneDuration-t) / float64(toneDuration-attack)
	}
}

// Player produces the alert tone for a severity.
type Player interface {
	Name() string
	Play(ctx context.Context, level types.Level) error
}

// runFunc executes an external command with stdin attached.
type runFunc func(ctx context.Context, name string, args []string, stdin io.Reader) error

func runCommand(ctx context.Context, name string, args []string, stdin io.Reader) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin

	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// =============================================================================
// SELECTION
// =============================================================================

// Backends accepted by Options.Backend.
const (
	BackendAuto       = "auto"
	BackendOscillator = "oscillator"
	BackendBuffer     = "buffer"
	BackendNone       = "none"
)

// ErrNoBackend is returned when a requested backend has no usable program.
var ErrNoBackend = errors.New("no audio program found")

// Options for Select.
type Options struct {
	// Backend is auto, oscillator, buffer or none (default: auto)
	Backend string

	// LookPath resolves program names (default: exec.LookPath)
	LookPath func(file string) (string, error)

	Logger *slog.Logger
}

// Select looks up audio programs and returns the best player.
func Select(opts Options) (Player, error) {
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Backend == "" {
		opts.Backend = BackendAuto
	}
	logger := opts.Logger.With("component", "tone")

	osc, oscOK := findOscillator(opts.LookPath)
	buf, bufOK := findBuffer(opts.LookPath)

	var player Player
	switch opts.Backend {
	case BackendNone:
		player = Silent{}
	case BackendOscillator:
		if !oscOK {
			return nil, fmt.Errorf("oscillator backend: %w", ErrNoBackend)
		}
		player = osc
	case BackendBuffer:
		if !bufOK {
			return nil, fmt.Errorf("buffer backend: %w", ErrNoBackend)
		}
		player = buf
	case BackendAuto:
		switch {
		case oscOK && bufOK:
			player = &fallback{primary: osc, secondary: buf, logger: logger}
		case oscOK:
			player = osc
		case bufOK:
			player = buf
		default:
			player = Silent{}
		}
	default:
		return nil, fmt.Errorf("unknown audio backend: %s", opts.Backend)
	}

	logger.Info("audio player selected", "player", player.Name())
	return player, nil
}

// fallback plays through secondary when primary fails.
type fallback struct {
	primary   Player
	secondary Player
	logger    *slog.Logger
}

func (f *fallback) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *fallback) Play(ctx context.Context, level types.Level) error {
	err := f.primary.Play(ctx, level)
	if err == nil || ctx.Err() != nil {
		return err
	}
	f.logger.Debug("oscillator failed, using buffer playback", "error", err)
	return f.secondary.Play(ctx, level)
}

// Silent plays nothing.
type Silent struct{}

func (Silent) Name() string { return "silent" }

func (Silent) Play(context.Context, types.Level) error { return nil }
