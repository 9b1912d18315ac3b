// ABOUTME: Opus audio encoder
// ABOUTME: Encodes one 20ms float32 frame per call into an Opus packet
package encode

import (
	"fmt"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket is the largest packet the encoder is allowed to produce
const maxOpusPacket = 4000

// OpusEncoder encodes Opus audio
type OpusEncoder struct {
	encoder   *opus.Encoder
	format    audio.Format
	frameSize int
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (Encoder, error) {
	if format.FormatTag != audio.FormatOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.FormatTag)
	}

	switch format.SamplesPerSec {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("unsupported opus sample rate: %d", format.SamplesPerSec)
	}

	encoder, err := opus.NewEncoder(format.SamplesPerSec, format.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	return &OpusEncoder{
		encoder:   encoder,
		format:    format,
		frameSize: format.SamplesPerSec / 50, // 20ms frame
	}, nil
}

// FrameSamples returns how many interleaved samples Encode expects
func (e *OpusEncoder) FrameSamples() int {
	return e.frameSize * e.format.Channels
}

// Encode converts exactly one 20ms frame to an Opus packet
func (e *OpusEncoder) Encode(samples []float32) ([]byte, error) {
	if len(samples) != e.FrameSamples() {
		return nil, fmt.Errorf("opus frame must have %d samples, got %d", e.FrameSamples(), len(samples))
	}

	data := make([]byte, maxOpusPacket)
	n, err := e.encoder.EncodeFloat32(samples, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}

	return data[:n], nil
}

// Format returns the output format
func (e *OpusEncoder) Format() audio.Format {
	return e.format
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}
