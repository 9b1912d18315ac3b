//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package output

import (
	"errors"

	"github.com/speechlink/speechlink-go/pkg/audio"
)

var errNoPortAudio = errors.New("PortAudio support not enabled (build with -tags portaudio)")

// PortAudio output implementation (stub)
type PortAudio struct{}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() Output {
	return &PortAudio{}
}

// Open initializes PortAudio
func (p *PortAudio) Open(audio.Format) error { return errNoPortAudio }

// Write outputs audio samples
func (p *PortAudio) Write([]byte) error { return errNoPortAudio }

// Close releases resources
func (p *PortAudio) Close() error { return errNoPortAudio }
