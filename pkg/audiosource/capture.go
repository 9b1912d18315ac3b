// ABOUTME: Capture backend contract for microphone sources
// ABOUTME: An Input fans captured float32 frames out to every subscribed recorder
package audiosource

import (
	"context"
	"sync"
)

// InputConfig requests a capture shape from a backend. Backends may open
// a different rate or channel count; Input reports what was actually opened.
type InputConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// CaptureBackend opens microphone inputs
type CaptureBackend interface {
	Name() string
	// Available reports ErrCapability when the backend cannot work here
	Available() error
	// OpenInput requests access to the default input device
	OpenInput(ctx context.Context, cfg InputConfig) (Input, error)
}

// Input is an opened capture device shared by every node of one source
type Input interface {
	SampleRate() int
	Channels() int
	// Subscribe registers fn for interleaved frames. fn must not block.
	Subscribe(fn func(frames []float32)) (unsubscribe func())
	// Start begins delivering frames. Starting twice is a no-op.
	Start() error
	Close() error
}

// frameHub is the subscriber fan-out embedded by backend inputs
type frameHub struct {
	mu   sync.RWMutex
	next int
	subs map[int]func([]float32)
}

func (h *frameHub) Subscribe(fn func([]float32)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func([]float32))
	}
	id := h.next
	h.next++
	h.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// publish hands each subscriber its own copy of frames
func (h *frameHub) publish(frames []float32) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, fn := range h.subs {
		cp := make([]float32, len(frames))
		copy(cp, frames)
		fn(cp)
	}
}

func (h *frameHub) subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
