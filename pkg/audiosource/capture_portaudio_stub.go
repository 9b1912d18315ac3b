//go:build !portaudio

// ABOUTME: PortAudio capture stub when the library is not compiled in
// ABOUTME: Reports a capability error so microphone sources fail turn-on cleanly
package audiosource

import (
	"context"
	"fmt"
)

// PortAudioBackend is unavailable without the portaudio build tag
type PortAudioBackend struct{}

// NewPortAudioBackend creates the PortAudio capture backend
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{}
}

// Name returns the backend name
func (b *PortAudioBackend) Name() string { return "portaudio" }

// Available always fails in this build
func (b *PortAudioBackend) Available() error {
	return fmt.Errorf("%w: PortAudio support not enabled (build with -tags portaudio)", ErrCapability)
}

// OpenInput always fails in this build
func (b *PortAudioBackend) OpenInput(context.Context, InputConfig) (Input, error) {
	return nil, b.Available()
}
