// ABOUTME: Sine tone generator used as a pull source callback
// ABOUTME: Produces a fixed length of 16-bit mono audio for checking a server without a microphone
package app

import (
	"math"
	"sync"
	"time"

	"github.com/speechlink/speechlink-go/pkg/audio"
)

// Tone generates a sine wave at half volume
type Tone struct {
	mu          sync.Mutex
	format      audio.Format
	frequency   float64
	sampleIndex uint64
	total       uint64
	closed      bool
}

// NewTone creates a generator for duration of frequency Hz in format.
// Only 16-bit PCM formats are generated; extra channels repeat the sample.
func NewTone(format audio.Format, frequency float64, duration time.Duration) *Tone {
	return &Tone{
		format:    format,
		frequency: frequency,
		total:     uint64(duration.Seconds() * float64(format.SamplesPerSec)),
	}
}

// Read fills buf with whole frames and returns the bytes written
func (t *Tone) Read(buf []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0
	}
	frameBytes := 2 * t.format.Channels
	frames := uint64(len(buf) / frameBytes)
	if remaining := t.total - t.sampleIndex; frames > remaining {
		frames = remaining
	}

	samples := make([]int16, 0, int(frames)*t.format.Channels)
	for i := uint64(0); i < frames; i++ {
		at := float64(t.sampleIndex+i) / float64(t.format.SamplesPerSec)
		v := int16(math.Sin(2*math.Pi*t.frequency*at) * 32767.0 * 0.5)
		for c := 0; c < t.format.Channels; c++ {
			samples = append(samples, v)
		}
	}
	t.sampleIndex += frames

	return copy(buf, audio.Int16ToBytes(samples))
}

// Close stops the tone early
func (t *Tone) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
