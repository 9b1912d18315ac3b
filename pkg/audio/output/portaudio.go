//go:build portaudio

// ABOUTME: PortAudio output implementation
// ABOUTME: Cross-platform PCM16 playback using blocking PortAudio writes
package output

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/speechlink/speechlink-go/pkg/audio"
)

// PortAudio output implementation
type PortAudio struct {
	stream *portaudio.Stream
	buffer []int16
}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() Output {
	return &PortAudio{}
}

// Open initializes PortAudio
func (p *PortAudio) Open(format audio.Format) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	// 20ms blocks
	p.buffer = make([]int16, format.SamplesPerSec/50*format.Channels)
	stream, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SamplesPerSec), len(p.buffer)/format.Channels, p.buffer)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open stream: %w", err)
	}

	p.stream = stream
	return stream.Start()
}

// Write outputs PCM16 bytes
func (p *PortAudio) Write(pcm []byte) error {
	if p.stream == nil {
		return fmt.Errorf("output not opened")
	}

	samples := audio.BytesToInt16(pcm)
	for len(samples) > 0 {
		n := copy(p.buffer, samples)
		for i := n; i < len(p.buffer); i++ {
			p.buffer[i] = 0
		}
		samples = samples[n:]
		if err := p.stream.Write(); err != nil {
			return fmt.Errorf("portaudio write failed: %w", err)
		}
	}
	return nil
}

// Close releases resources
func (p *PortAudio) Close() error {
	if p.stream != nil {
		if err := p.stream.Stop(); err != nil {
			return err
		}
		if err := p.stream.Close(); err != nil {
			return err
		}
	}
	return portaudio.Terminate()
}
