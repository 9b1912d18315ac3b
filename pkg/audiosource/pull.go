// ABOUTME: Pull audio source that asks a caller callback for audio on each node read
// ABOUTME: Reads fill a tenth of a second buffer and report the end once the callback is closed
package audiosource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/stream"
)

// PullCallback supplies audio on demand. Read returns the bytes written
// into buf; 0 means no more audio.
type PullCallback interface {
	Read(buf []byte) int
	Close()
}

// PullSource reads audio from a PullCallback
type PullSource struct {
	*base

	format   audio.Format
	callback PullCallback

	mu     sync.Mutex
	closed bool
}

// NewPull creates a pull source for audio in format
func NewPull(format audio.Format, cb PullCallback, opts ...Option) *PullSource {
	s := newSettings(opts)
	return &PullSource{
		base:     newBase("pull", s),
		format:   format,
		callback: cb,
	}
}

// Format returns the pulled audio format
func (p *PullSource) Format() audio.Format { return p.format }

// BufferSize is the number of bytes requested per node read
func (p *PullSource) BufferSize() int {
	n := p.format.AvgBytesPerSec / 10
	if n <= 0 {
		n = stream.DefaultChunkSize
	}
	return n
}

// TurnOn validates the format and callback
func (p *PullSource) TurnOn(ctx context.Context) error {
	return p.turnOn(ctx, func(context.Context) error {
		if p.callback == nil {
			return fmt.Errorf("%w: nil pull callback", ErrValidation)
		}
		if err := p.format.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil
	})
}

// Attach returns a node that pulls from the callback on each read
func (p *PullSource) Attach(ctx context.Context, nodeID string) (Node, error) {
	_, err := p.attach(ctx, nodeID, p.TurnOn, func(string) (*attachment, error) {
		return &attachment{}, nil
	})
	if err != nil {
		return nil, err
	}
	return &pullNode{id: nodeID, source: p}, nil
}

// Close closes the callback; every later read reports the end
func (p *PullSource) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.callback != nil {
		p.callback.Close()
	}
}

func (p *PullSource) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// pull fills one buffer, calling the callback until the buffer is full or
// it returns 0. A callback claiming more bytes than it was given fails the
// read.
func (p *PullSource) pull() (stream.Chunk[[]byte], error) {
	if p.isClosed() {
		return stream.Chunk[[]byte]{IsEnd: true, TimeReceived: time.Now()}, nil
	}

	buf := make([]byte, p.BufferSize())
	total := 0
	for total < len(buf) {
		n := p.callback.Read(buf[total:])
		if n <= 0 {
			break
		}
		if n > len(buf)-total {
			return stream.Chunk[[]byte]{}, fmt.Errorf("%w: oversize read: callback returned %d bytes for a %d byte buffer",
				ErrValidation, n, len(buf)-total)
		}
		total += n
	}
	if total == 0 {
		return stream.Chunk[[]byte]{IsEnd: true, TimeReceived: time.Now()}, nil
	}
	return stream.Chunk[[]byte]{Buffer: buf[:total], TimeReceived: time.Now()}, nil
}

// TurnOff detaches every node and closes the callback
func (p *PullSource) TurnOff(ctx context.Context) error {
	return p.turnOff(func() error {
		p.Close()
		return nil
	})
}

type pullNode struct {
	id     string
	source *PullSource

	mu       sync.Mutex
	detached bool
}

func (n *pullNode) ID() string { return n.id }

func (n *pullNode) Read(ctx context.Context) (stream.Chunk[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return stream.Chunk[[]byte]{}, err
	}
	n.mu.Lock()
	detached := n.detached
	n.mu.Unlock()
	if detached {
		return stream.Chunk[[]byte]{IsEnd: true, TimeReceived: time.Now()}, nil
	}
	chunk, err := n.source.pull()
	if err != nil {
		n.source.log.WithError(err).Warn("Pull callback read failed")
		n.source.emit(EventNodeError, n.id, err)
		return stream.Chunk[[]byte]{}, err
	}
	return chunk, nil
}

func (n *pullNode) Detach() error {
	n.mu.Lock()
	n.detached = true
	n.mu.Unlock()
	n.source.Detach(n.id)
	return nil
}
