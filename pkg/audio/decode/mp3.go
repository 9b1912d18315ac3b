// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes MP3 files to interleaved stereo int16 samples
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Source decodes an MP3 stream
type MP3Source struct {
	r       io.ReadCloser
	decoder *mp3.Decoder
	buf     []byte
}

// NewMP3 creates an MP3 decoder reading from r
func NewMP3(r io.ReadCloser) (*MP3Source, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}
	return &MP3Source{r: r, decoder: decoder}, nil
}

// Read decodes up to len(samples) samples
func (s *MP3Source) Read(samples []int16) (int, error) {
	need := len(samples) * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	n, err := io.ReadFull(s.decoder, buf)
	count := n / 2
	for i := 0; i < count; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	if err == io.ErrUnexpectedEOF {
		err = nil
		if count == 0 {
			err = io.EOF
		}
	}
	if err != nil && err != io.EOF {
		return count, fmt.Errorf("mp3 decode error: %w", err)
	}
	return count, err
}

// SampleRate returns the decoded sample rate
func (s *MP3Source) SampleRate() int { return s.decoder.SampleRate() }

// Channels is always 2; go-mp3 outputs stereo
func (s *MP3Source) Channels() int { return 2 }

// Close releases decoder resources
func (s *MP3Source) Close() error {
	return s.r.Close()
}
