// ABOUTME: WAV file audio source that uploads the file in paced fixed-size chunks
// ABOUTME: Validates extension, size ceiling and RIFF header before any node can read
package audiosource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/stream"
)

const (
	// DefaultMaxFileDuration is the longest file accepted by default
	DefaultMaxFileDuration = 600 * time.Second
	// DefaultMaxFileBytes is ten minutes of 16 kHz 16-bit mono plus the header
	DefaultMaxFileBytes = int64(32000*600 + audio.WAVHeaderSize)
	// DefaultUploadInterval paces file chunks at five per second
	DefaultUploadInterval = 200 * time.Millisecond
)

// WithMaxFileBytes overrides the file size ceiling
func WithMaxFileBytes(n int64) Option {
	return func(s *settings) { s.maxFileBytes = n }
}

// WithUploadInterval sets the minimum delay between file chunks
func WithUploadInterval(d time.Duration) Option {
	return func(s *settings) { s.uploadInterval = d }
}

// FileSource reads a WAV file
type FileSource struct {
	*base

	path     string
	maxBytes int64
	interval time.Duration

	mu     sync.Mutex
	format audio.Format
	size   int64
}

// NewFile creates a file source for path
func NewFile(path string, opts ...Option) *FileSource {
	s := newSettings(opts)
	return &FileSource{
		base:     newBase("file", s),
		path:     path,
		maxBytes: s.maxFileBytes,
		interval: s.uploadInterval,
		format:   audio.DefaultInputFormat(),
	}
}

// Path returns the file path
func (f *FileSource) Path() string { return f.path }

// Format returns the parsed file format, or the default until turned on
func (f *FileSource) Format() audio.Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

// ChunkSize is the number of bytes sent per chunk: 2/5 of a second of audio
func (f *FileSource) ChunkSize() int {
	n := f.Format().AvgBytesPerSec * 2 / 5
	if n <= 0 {
		n = stream.DefaultChunkSize
	}
	return n
}

// TurnOn validates the file
func (f *FileSource) TurnOn(ctx context.Context) error {
	return f.turnOn(ctx, f.validate)
}

func (f *FileSource) validate(ctx context.Context) error {
	if !strings.EqualFold(filepath.Ext(f.path), ".wav") {
		return fmt.Errorf("%w: %s: only .wav files are supported", ErrValidation, filepath.Base(f.path))
	}

	st, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrValidation, f.path)
	}
	if f.maxBytes > 0 && st.Size() > f.maxBytes {
		return fmt.Errorf("%w: file size %d exceeds limit of %d bytes", ErrValidation, st.Size(), f.maxBytes)
	}

	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	defer file.Close()

	info, err := audio.ParseWAV(file)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	f.mu.Lock()
	f.format = info.Format
	f.size = st.Size()
	f.mu.Unlock()

	f.log.WithField("format", info.Format.String()).Debug("WAV file validated")
	return nil
}

// Attach starts reading the file from the beginning into a fresh stream
func (f *FileSource) Attach(ctx context.Context, nodeID string) (Node, error) {
	att, err := f.attach(ctx, nodeID, f.TurnOn, func(id string) (*attachment, error) {
		file, err := os.Open(f.path)
		if err != nil {
			return nil, err
		}

		out := stream.NewWithID[[]byte](id)
		rctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer file.Close()
			f.pump(rctx, id, file, out)
		}()

		return &attachment{stream: out, stop: func() {
			cancel()
			<-done
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return newStreamNode(nodeID, att.stream, func() { f.Detach(nodeID) })
}

// pump copies the file into out chunk by chunk, waiting at least the upload
// interval between chunks, and closes out at end of file
func (f *FileSource) pump(ctx context.Context, nodeID string, r io.Reader, out *stream.Stream[[]byte]) {
	size := f.ChunkSize()
	var last time.Time

	for {
		if !last.IsZero() && f.interval > 0 {
			if wait := f.interval - time.Since(last); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}

		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if werr := out.Write(buf[:n]); werr != nil {
				return
			}
			last = time.Now()
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			out.Close()
			return
		default:
			f.log.WithError(err).WithField("node", nodeID).Warn("File read failed")
			f.emit(EventNodeError, nodeID, err)
			out.Close()
			return
		}
	}
}

// TurnOff detaches every node
func (f *FileSource) TurnOff(ctx context.Context) error {
	return f.turnOff(nil)
}
