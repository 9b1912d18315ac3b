// ABOUTME: WAV file decoder
// ABOUTME: Reads 16-bit PCM sample data following the RIFF header
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/speechlink/speechlink-go/pkg/audio"
)

// WAVSource reads PCM16 samples from a WAV stream
type WAVSource struct {
	r      io.ReadCloser
	data   io.Reader
	format audio.Format
	buf    []byte
}

// NewWAV parses the header of r and positions it at the sample data
func NewWAV(r io.ReadCloser) (*WAVSource, error) {
	info, err := audio.ParseWAV(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse WAV: %w", err)
	}
	if info.Format.FormatTag != audio.FormatPCM || info.Format.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported WAV encoding: %s", info.Format)
	}
	return &WAVSource{
		r:      r,
		data:   io.LimitReader(r, info.DataSize),
		format: info.Format,
	}, nil
}

// Read reads up to len(samples) samples
func (s *WAVSource) Read(samples []int16) (int, error) {
	need := len(samples) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	n, err := io.ReadFull(s.data, buf)
	count := n / 2
	for i := 0; i < count; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	if count == 0 && err == nil {
		err = io.EOF
	}
	return count, err
}

// SampleRate returns the file sample rate
func (s *WAVSource) SampleRate() int { return s.format.SamplesPerSec }

// Channels returns the file channel count
func (s *WAVSource) Channels() int { return s.format.Channels }

// Close closes the underlying file
func (s *WAVSource) Close() error {
	return s.r.Close()
}
