package tone

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/pilot-net/edos-console/pkg/types"
)

// sink is a program that plays raw s16le mono PCM from stdin.
type sink struct {
	name string
	args []string
}

// Oscillator sinks in order of preference.
var sinks = []sink{
	{name: "pacat", args: []string{"--raw", "--format=s16le", "--rate=" + strconv.Itoa(SampleRate), "--channels=1"}},
	{name: "aplay", args: []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", strconv.Itoa(SampleRate), "-c", "1"}},
}

// Oscillator streams a synthesized sine wave into a realtime sink.
type Oscillator struct {
	path string
	args []string
	run  runFunc
}

func findOscillator(lookPath func(string) (string, error)) (*Oscillator, bool) {
	for _, s := range sinks {
		if path, err := lookPath(s.name); err == nil {
			return &Oscillator{path: path, args: s.args, run: runCommand}, true
		}
	}
	return nil, false
}

func (o *Oscillator) Name() string { return "oscillator" }

// Play streams the tier tone for level until the envelope closes.
func (o *Oscillator) Play(ctx context.Context, level types.Level) error {
	return o.run(ctx, o.path, o.args, newSineReader(TierFor(level)))
}

// sineReader generates enveloped sine samples on demand as s16le bytes.
type sineReader struct {
	tier    Tier
	index   int
	total   int
	sample  [2]byte
	pending []byte
}

func newSineReader(tier Tier) *sineReader {
	return &sineReader{
		tier:  tier,
		total: int(int64(toneDuration) * SampleRate / int64(time.Second)),
	}
}

func (r *sineReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			if r.index >= r.total {
				break
			}
			r.next()
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// next renders the sample at index into pending.
func (r *sineReader) next() {
	t := time.Duration(r.index) * time.Second / SampleRate
	v := math.Sin(2*math.Pi*r.tier.Frequency*float64(r.index)/SampleRate) * Envelope(r.tier.Gain, t)
	binary.LittleEndian.PutUint16(r.sample[:], uint16(int16(v*math.MaxInt16)))
	r.pending = r.sample[:]
	r.index++
}
