// ABOUTME: Decoder interfaces for compressed audio files and packets
// ABOUTME: Open picks a file decoder from the file extension
package decode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source yields interleaved 16-bit PCM decoded from a file
type Source interface {
	// Read fills samples and returns how many were written; io.EOF at the end
	Read(samples []int16) (int, error)

	SampleRate() int
	Channels() int

	// Close releases decoder resources
	Close() error
}

// Open opens path with the decoder matching its extension
func Open(path string) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3", ".flac", ".wav":
	default:
		return nil, fmt.Errorf("unsupported audio file type: %q", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	var src Source
	switch ext {
	case ".mp3":
		src, err = NewMP3(f)
	case ".flac":
		src, err = NewFLAC(f)
	default:
		src, err = NewWAV(f)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}
