// ABOUTME: Push audio source fed by caller writes
// ABOUTME: Writes are regrouped into fixed 4096-byte chunks before nodes read them
package audiosource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/stream"
)

// PushSource exposes a writable stream as an audio source
type PushSource struct {
	*base

	format audio.Format
	stream *stream.ChunkedStream

	mu      sync.Mutex
	readers map[string]*stream.Reader[[]byte]
}

// NewPush creates a push source for audio in format
func NewPush(format audio.Format, opts ...Option) *PushSource {
	s := newSettings(opts)
	return &PushSource{
		base:    newBase("push", s),
		format:  format,
		stream:  stream.NewChunked(stream.DefaultChunkSize),
		readers: make(map[string]*stream.Reader[[]byte]),
	}
}

// Format returns the pushed audio format
func (p *PushSource) Format() audio.Format { return p.format }

// Write appends audio. Data is visible to readers once a full chunk or Close.
func (p *PushSource) Write(data []byte) error {
	return p.stream.Write(data)
}

// Close ends the pushed audio; readers drain what was written then see the end
func (p *PushSource) Close() {
	p.stream.Close()
}

// TurnOn validates the format
func (p *PushSource) TurnOn(ctx context.Context) error {
	return p.turnOn(ctx, func(context.Context) error {
		if err := p.format.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil
	})
}

// Attach hands the pushed stream to nodeID. Only one node reads at a time.
func (p *PushSource) Attach(ctx context.Context, nodeID string) (Node, error) {
	var reader *stream.Reader[[]byte]
	_, err := p.attach(ctx, nodeID, p.TurnOn, func(id string) (*attachment, error) {
		r, err := p.stream.Reader()
		if err != nil {
			if errors.Is(err, stream.ErrReaderTaken) {
				return nil, fmt.Errorf("push source %s: %w", p.id, err)
			}
			return nil, err
		}
		reader = r

		p.mu.Lock()
		p.readers[id] = r
		p.mu.Unlock()

		return &attachment{stop: func() { p.release(id) }}, nil
	})
	if err != nil {
		return nil, err
	}
	return &streamNode{id: nodeID, reader: reader, detach: func() { p.Detach(nodeID) }}, nil
}

func (p *PushSource) release(nodeID string) {
	p.mu.Lock()
	r := p.readers[nodeID]
	delete(p.readers, nodeID)
	p.mu.Unlock()
	if r != nil {
		r.Release()
	}
}

// TurnOff releases every reader. The pushed stream itself stays open.
func (p *PushSource) TurnOff(ctx context.Context) error {
	return p.turnOff(nil)
}
