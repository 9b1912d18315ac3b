//go:build portaudio

// ABOUTME: PortAudio microphone capture backend
// ABOUTME: Reads blocking float32 buffers from the default input device on a capture goroutine
package audiosource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend captures from the default PortAudio input device
type PortAudioBackend struct{}

// NewPortAudioBackend creates the PortAudio capture backend
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{}
}

// Name returns the backend name
func (b *PortAudioBackend) Name() string { return "portaudio" }

// Available initializes PortAudio once to check for an input device
func (b *PortAudioBackend) Available() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: portaudio: %v", ErrCapability, err)
	}
	defer portaudio.Terminate()

	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return fmt.Errorf("%w: no input device: %v", ErrCapability, err)
	}
	return nil
}

// OpenInput opens the default input device
func (b *PortAudioBackend) OpenInput(ctx context.Context, cfg InputConfig) (Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio: %v", ErrCapability, err)
	}

	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}
	buf := make([]float32, cfg.FramesPerBuffer*cfg.Channels)
	st, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FramesPerBuffer, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: open input: %v", ErrPermission, err)
	}

	return &portAudioInput{
		stream:   st,
		buf:      buf,
		rate:     cfg.SampleRate,
		channels: cfg.Channels,
		done:     make(chan struct{}),
	}, nil
}

type portAudioInput struct {
	frameHub

	stream   *portaudio.Stream
	buf      []float32
	rate     int
	channels int

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func (in *portAudioInput) SampleRate() int { return in.rate }
func (in *portAudioInput) Channels() int   { return in.channels }

func (in *portAudioInput) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return errors.New("input closed")
	}
	if in.started {
		return nil
	}
	if err := in.stream.Start(); err != nil {
		return fmt.Errorf("start input: %w", err)
	}
	in.started = true

	in.wg.Add(1)
	go in.loop()
	return nil
}

func (in *portAudioInput) loop() {
	defer in.wg.Done()
	for {
		select {
		case <-in.done:
			return
		default:
		}
		if err := in.stream.Read(); err != nil {
			return
		}
		in.publish(in.buf)
	}
}

func (in *portAudioInput) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	started := in.started
	close(in.done)
	in.mu.Unlock()

	var err error
	if started {
		err = in.stream.Stop()
		in.wg.Wait()
	}
	if cerr := in.stream.Close(); err == nil {
		err = cerr
	}
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
