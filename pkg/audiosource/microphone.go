// ABOUTME: Microphone audio source backed by a capture backend and a recorder strategy
// ABOUTME: One shared input per source; each attached node gets its own recorder session
package audiosource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/stream"
)

// DefaultCaptureRate is the device rate requested when none is configured
const DefaultCaptureRate = 48000

// WithRecorder selects the recorder strategy (PCM by default)
func WithRecorder(r Recorder) Option {
	return func(s *settings) { s.recorder = r }
}

// WithBackend selects the capture backend (PortAudio by default)
func WithBackend(b CaptureBackend) Option {
	return func(s *settings) { s.backend = b }
}

// WithCaptureRate sets the device sample rate requested from the backend
func WithCaptureRate(rate int) Option {
	return func(s *settings) { s.captureRate = rate }
}

// MicrophoneSource captures from the default input device
type MicrophoneSource struct {
	*base

	backend     CaptureBackend
	recorder    Recorder
	captureRate int

	mu    sync.Mutex
	input Input
}

// NewMicrophone creates a microphone source
func NewMicrophone(opts ...Option) *MicrophoneSource {
	s := newSettings(opts)
	if s.recorder == nil {
		s.recorder = NewPCMRecorder()
	}
	if s.backend == nil {
		s.backend = NewPortAudioBackend()
	}
	if s.captureRate <= 0 {
		s.captureRate = DefaultCaptureRate
	}
	return &MicrophoneSource{
		base:        newBase("microphone", s),
		backend:     s.backend,
		recorder:    s.recorder,
		captureRate: s.captureRate,
	}
}

// Format returns the format of the recorded chunks
func (m *MicrophoneSource) Format() audio.Format {
	return m.recorder.Format()
}

// TurnOn checks the backend and opens the shared input
func (m *MicrophoneSource) TurnOn(ctx context.Context) error {
	return m.turnOn(ctx, m.open)
}

func (m *MicrophoneSource) open(ctx context.Context) error {
	if err := m.backend.Available(); err != nil {
		if !errors.Is(err, ErrCapability) {
			err = fmt.Errorf("%w: %v", ErrCapability, err)
		}
		return err
	}

	in, err := m.backend.OpenInput(ctx, InputConfig{
		SampleRate:      m.captureRate,
		Channels:        1,
		FramesPerBuffer: 1024,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.input = in
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"backend":     m.backend.Name(),
		"sample_rate": in.SampleRate(),
		"channels":    in.Channels(),
	}).Info("Microphone opened")
	return nil
}

// Attach turns the source on if needed and starts a recorder session for nodeID
func (m *MicrophoneSource) Attach(ctx context.Context, nodeID string) (Node, error) {
	att, err := m.attach(ctx, nodeID, m.TurnOn, func(id string) (*attachment, error) {
		m.mu.Lock()
		in := m.input
		m.mu.Unlock()
		if in == nil {
			return nil, errors.New("microphone input not open")
		}

		out := stream.NewWithID[[]byte](id)
		rctx, cancel := context.WithCancel(context.Background())
		if err := m.recorder.Record(rctx, in, out); err != nil {
			cancel()
			return nil, err
		}
		return &attachment{stream: out, stop: cancel}, nil
	})
	if err != nil {
		return nil, err
	}
	return newStreamNode(nodeID, att.stream, func() { m.Detach(nodeID) })
}

// TurnOff stops every recorder session, detaches all nodes and closes the input
func (m *MicrophoneSource) TurnOff(ctx context.Context) error {
	recErr := m.recorder.ReleaseMediaResources()

	return m.turnOff(func() error {
		m.mu.Lock()
		in := m.input
		m.input = nil
		m.mu.Unlock()

		var closeErr error
		if in != nil {
			closeErr = in.Close()
		}
		return errors.Join(recErr, closeErr)
	})
}
