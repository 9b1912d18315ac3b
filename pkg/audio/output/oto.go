// ABOUTME: Oto-based audio output implementation
// ABOUTME: Handles PCM16 playback with software volume control using oto library
package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"

	"github.com/speechlink/speechlink-go/pkg/audio"
)

// Oto output implementation using oto library
type Oto struct {
	log *logrus.Entry

	mu         sync.Mutex
	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	sampleRate int
	channels   int
	volume     int
	muted      bool
	ready      bool
}

// NewOto creates a new Oto output
func NewOto(log *logrus.Entry) *Oto {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Oto{
		log:    log.WithField("component", "oto"),
		volume: 100,
	}
}

// Open initializes the output device
func (o *Oto) Open(format audio.Format) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	// oto only supports 16-bit output
	if format.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bit depth for playback: %d", format.BitsPerSample)
	}

	// If already initialized with same format, reuse the existing context
	if o.otoCtx != nil && o.sampleRate == format.SamplesPerSec && o.channels == format.Channels {
		o.log.Debug("Audio output already initialized with same format, reusing context")
		return nil
	}

	// oto only allows one context per process
	if o.otoCtx != nil {
		o.log.Warnf("format change detected (%dHz %dch -> %dHz %dch) but oto doesn't support reinitialization",
			o.sampleRate, o.channels, format.SamplesPerSec, format.Channels)
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   format.SamplesPerSec,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}

	<-readyChan

	o.otoCtx = ctx
	o.sampleRate = format.SamplesPerSec
	o.channels = format.Channels

	// Create pipe for continuous streaming
	o.pipeReader, o.pipeWriter = io.Pipe()

	// Create persistent player that reads from the pipe
	o.player = o.otoCtx.NewPlayer(o.pipeReader)
	o.player.Play()

	o.ready = true

	o.log.Infof("Audio output initialized: %dHz, %d channels", format.SamplesPerSec, format.Channels)

	return nil
}

// Write outputs PCM16 bytes (blocks until written)
func (o *Oto) Write(pcm []byte) error {
	o.mu.Lock()
	ready := o.ready
	w := o.pipeWriter
	volume, muted := o.volume, o.muted
	o.mu.Unlock()

	if !ready {
		return fmt.Errorf("output not initialized")
	}

	if _, err := w.Write(applyVolume(pcm, volume, muted)); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}
	return nil
}

// Close releases output resources
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.otoCtx != nil {
		o.otoCtx.Suspend()
		o.ready = false
	}
	return nil
}

// SetVolume sets the volume (0-100)
func (o *Oto) SetVolume(volume int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = min(max(volume, 0), 100)
}

// SetMuted sets mute state
func (o *Oto) SetMuted(muted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.muted = muted
}

// applyVolume scales PCM16 samples with clipping protection
func applyVolume(pcm []byte, volume int, muted bool) []byte {
	multiplier := getVolumeMultiplier(volume, muted)
	if multiplier == 1 {
		return pcm
	}

	out := make([]byte, len(pcm)-len(pcm)%2)
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		scaled := math.Max(math.MinInt16, math.Min(math.MaxInt16, sample*multiplier))
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(scaled)))
	}
	return out
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}
