// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for playing back PCM16 audio such as server echoes
package output

import "github.com/speechlink/speechlink-go/pkg/audio"

// Output represents an audio output device
type Output interface {
	// Open initializes the output device for 16-bit PCM in format
	Open(format audio.Format) error

	// Write outputs little-endian PCM16 bytes (blocks until written)
	Write(pcm []byte) error

	// Close releases output resources
	Close() error
}

// New returns the output backend registered under name
func New(name string, opts ...Option) (Output, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	switch name {
	case "", "oto":
		return NewOto(o.log), nil
	case "portaudio":
		return NewPortAudio(), nil
	}
	return nil, &UnknownBackendError{Name: name}
}

// UnknownBackendError reports an unsupported output backend name
type UnknownBackendError struct {
	Name string
}

func (e *UnknownBackendError) Error() string {
	return "unknown audio output backend: " + e.Name
}
