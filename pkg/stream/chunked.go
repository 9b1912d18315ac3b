// ABOUTME: Byte stream that regroups arbitrary writes into fixed-size chunks
// ABOUTME: Used by push sources so readers see uniform buffers regardless of caller write sizes
package stream

import (
	"context"
	"sync"
	"time"
)

// DefaultChunkSize is the chunk size used for push-style byte streams
const DefaultChunkSize = 4096

// ChunkedStream accumulates written bytes and emits them in targetSize chunks.
// The remainder is flushed as a final short chunk on Close. Only Write puts
// data in, so every chunk passes through the regrouping.
type ChunkedStream struct {
	stream *Stream[[]byte]

	targetSize int

	mu      sync.Mutex
	pending []byte
}

// NewChunked creates a chunked byte stream. A non-positive size selects DefaultChunkSize.
func NewChunked(targetSize int) *ChunkedStream {
	if targetSize <= 0 {
		targetSize = DefaultChunkSize
	}
	return &ChunkedStream{
		stream:     New[[]byte](),
		targetSize: targetSize,
	}
}

// ID returns the underlying stream id
func (c *ChunkedStream) ID() string { return c.stream.ID() }

// IsClosed reports whether Close was called
func (c *ChunkedStream) IsClosed() bool { return c.stream.IsClosed() }

// Len returns the number of complete chunks waiting to be read
func (c *ChunkedStream) Len() int { return c.stream.Len() }

// Read returns the next chunk, see Stream.Read
func (c *ChunkedStream) Read(ctx context.Context) (Chunk[[]byte], error) {
	return c.stream.Read(ctx)
}

// Reader takes the single reader of the stream, see Stream.Reader
func (c *ChunkedStream) Reader() (*Reader[[]byte], error) {
	return c.stream.Reader()
}

// TargetSize returns the emitted chunk size
func (c *ChunkedStream) TargetSize() int {
	return c.targetSize
}

// Write buffers data and emits every complete chunk it makes available
func (c *ChunkedStream) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream.IsClosed() {
		return ErrStreamClosed
	}

	c.pending = append(c.pending, data...)
	now := time.Now()
	for len(c.pending) >= c.targetSize {
		out := make([]byte, c.targetSize)
		copy(out, c.pending[:c.targetSize])
		c.pending = c.pending[c.targetSize:]
		if err := c.stream.WriteChunk(Chunk[[]byte]{Buffer: out, TimeReceived: now}); err != nil {
			return err
		}
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return nil
}

// Close flushes any partial chunk and closes the stream
func (c *ChunkedStream) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream.IsClosed() {
		return
	}
	if len(c.pending) > 0 {
		_ = c.stream.Write(c.pending)
		c.pending = nil
	}
	c.stream.Close()
}
