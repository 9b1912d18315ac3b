// ABOUTME: Opus audio decoder
// ABOUTME: Decodes length-prefixed Opus timeslices back to int16 samples
package decode

import (
	"fmt"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder *opus.Decoder
	format  audio.Format
}

// NewOpus creates a new Opus decoder
func NewOpus(format audio.Format) (*OpusDecoder, error) {
	if format.FormatTag != audio.FormatOpus {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", format.FormatTag)
	}

	dec, err := opus.NewDecoder(format.SamplesPerSec, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder: dec,
		format:  format,
	}, nil
}

// Decode converts one Opus packet to int16 samples
func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	// 120ms is the longest Opus frame
	pcm := make([]int16, d.format.SamplesPerSec*120/1000*d.format.Channels)

	n, err := d.decoder.Decode(packet, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	return pcm[:n*d.format.Channels], nil
}

// DecodeFramed decodes every packet of a length-prefixed timeslice
func (d *OpusDecoder) DecodeFramed(chunk []byte) ([]int16, error) {
	packets, err := audio.SplitFramedPackets(chunk)
	if err != nil {
		return nil, err
	}
	var out []int16
	for _, p := range packets {
		pcm, err := d.Decode(p)
		if err != nil {
			return out, err
		}
		out = append(out, pcm...)
	}
	return out, nil
}

// Close releases decoder resources
func (d *OpusDecoder) Close() error {
	return nil
}
