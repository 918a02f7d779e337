package tone

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/pilot-net/edos-console/pkg/types"
)

// wavHeaderSize for a canonical PCM WAV file.
const wavHeaderSize = 44

// EncodeWAV builds a mono 16-bit PCM WAV at SampleRate holding a constant
// amplitude sine wave.
func EncodeWAV(frequency float64, duration time.Duration, amplitude float64) []byte {
	samples := int(int64(duration) * SampleRate / int64(time.Second))
	dataSize := samples * 2

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + dataSize)

	le := binary.LittleEndian
	buf.WriteString("RIFF")
	binary.Write(&buf, le, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, le, uint32(16))           // chunk size
	binary.Write(&buf, le, uint16(1))            // PCM
	binary.Write(&buf, le, uint16(1))            // mono
	binary.Write(&buf, le, uint32(SampleRate))   // sample rate
	binary.Write(&buf, le, uint32(SampleRate*2)) // byte rate
	binary.Write(&buf, le, uint16(2))            // block align
	binary.Write(&buf, le, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, le, uint32(dataSize))

	sample := make([]byte, 2)
	for i := 0; i < samples; i++ {
		v := math.Sin(2*math.Pi*frequency*float64(i)/SampleRate) * amplitude * math.MaxInt16
		le.PutUint16(sample, uint16(int16(v)))
		buf.Write(sample)
	}
	return buf.Bytes()
}

// filePlayer plays a WAV from stdin, or from a file when stdin is false.
type filePlayer struct {
	name  string
	args  []string
	stdin bool
}

// File players in order of preference.
var filePlayers = []filePlayer{
	{name: "paplay", args: []string{"--volume=" + paplayVolume}, stdin: true},
	{name: "aplay", args: []string{"-q", "-"}, stdin: true},
	{name: "afplay", args: []string{"-v", afplayVolume}},
	{name: "ffplay", args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet",
		"-volume", ffplayVolume, "-i", "pipe:0"}, stdin: true},
}

// Buffer plays an in-memory WAV through a file player.
type Buffer struct {
	path  string
	args  []string
	stdin bool
	run   runFunc
}

func findBuffer(lookPath func(string) (string, error)) (*Buffer, bool) {
	for _, p := range filePlayers {
		if path, err := lookPath(p.name); err == nil {
			return &Buffer{path: path, args: p.args, stdin: p.stdin, run: runCommand}, true
		}
	}
	return nil, false
}

func (b *Buffer) Name() string { return "buffer" }

// Play builds the tier tone and pipes it to the player. Players that cannot
// read stdin get a temporary file.
func (b *Buffer) Play(ctx context.Context, level types.Level) error {
	wav := EncodeWAV(TierFor(level).Frequency, bufferDuration, bufferAmplitude)

	if b.stdin {
		return b.run(ctx, b.path, b.args, bytes.NewReader(wav))
	}

	f, err := os.CreateTemp("", "edos-tone-*.wav")
	if err != nil {
		return fmt.Errorf("creating tone file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(wav); err != nil {
		f.Close()
		return fmt.Errorf("writing tone file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing tone file: %w", err)
	}

	args := append(append([]string(nil), b.args...), f.Name())
	return b.run(ctx, b.path, args, nil)
}
