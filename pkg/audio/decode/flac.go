// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes FLAC frames to interleaved int16 samples
package decode

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

// FLACSource decodes a FLAC stream frame by frame
type FLACSource struct {
	r          io.ReadCloser
	stream     *flac.Stream
	sampleRate int
	channels   int
	bitDepth   int
	pending    []int16
}

// NewFLAC creates a FLAC decoder reading from r
func NewFLAC(r io.ReadCloser) (*FLACSource, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	return &FLACSource{
		r:          r,
		stream:     stream,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		bitDepth:   int(info.BitsPerSample),
	}, nil
}

// Read decodes up to len(samples) samples
func (s *FLACSource) Read(samples []int16) (int, error) {
	n := 0
	for n < len(samples) {
		if len(s.pending) == 0 {
			frame, err := s.stream.ParseNext()
			if err == io.EOF {
				if n == 0 {
					return 0, io.EOF
				}
				return n, nil
			}
			if err != nil {
				return n, fmt.Errorf("flac decode error: %w", err)
			}

			// FLAC stores samples as signed integers with the stream bit depth
			shift := s.bitDepth - 16
			for i := 0; i < int(frame.BlockSize); i++ {
				for ch := 0; ch < s.channels; ch++ {
					v := frame.Subframes[ch].Samples[i]
					if shift > 0 {
						v >>= shift
					} else if shift < 0 {
						v <<= -shift
					}
					s.pending = append(s.pending, int16(v))
				}
			}
		}
		c := copy(samples[n:], s.pending)
		s.pending = s.pending[c:]
		n += c
	}
	return n, nil
}

// SampleRate returns the stream sample rate
func (s *FLACSource) SampleRate() int { return s.sampleRate }

// Channels returns the stream channel count
func (s *FLACSource) Channels() int { return s.channels }

// Close releases decoder resources
func (s *FLACSource) Close() error {
	s.stream.Close()
	return s.r.Close()
}
