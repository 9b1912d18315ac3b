// ABOUTME: In-memory capture backend used by microphone and recorder tests
// ABOUTME: Tests push frames by hand and can make availability or opening fail
package audiosource

import (
	"context"
	"sync"
	"sync/atomic"
)

type fakeBackend struct {
	availErr error
	openErr  error
	gate     chan struct{} // when set, OpenInput waits for it
	rate     int
	channels int

	opens atomic.Int32

	mu    sync.Mutex
	input *fakeInput
}

func newFakeBackend(rate, channels int) *fakeBackend {
	return &fakeBackend{rate: rate, channels: channels}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Available() error { return b.availErr }

func (b *fakeBackend) OpenInput(ctx context.Context, cfg InputConfig) (Input, error) {
	b.opens.Add(1)
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		err := b.openErr
		b.openErr = nil
		return nil, err
	}
	b.input = &fakeInput{rate: b.rate, channels: b.channels}
	return b.input, nil
}

func (b *fakeBackend) current() *fakeInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.input
}

type fakeInput struct {
	frameHub
	rate     int
	channels int

	started atomic.Int32
	closed  atomic.Bool
}

func (in *fakeInput) SampleRate() int { return in.rate }
func (in *fakeInput) Channels() int   { return in.channels }

func (in *fakeInput) Start() error {
	in.started.Add(1)
	return nil
}

func (in *fakeInput) Close() error {
	in.closed.Store(true)
	return nil
}

// emit delivers frames to every subscriber as the capture goroutine would
func (in *fakeInput) emit(frames []float32) {
	in.publish(frames)
}

func constantFrames(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
