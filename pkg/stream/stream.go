// ABOUTME: Closable single-reader FIFO stream of typed chunks
// ABOUTME: Readers block until data arrives and see an end marker once the stream is drained
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrStreamClosed is returned when writing to a closed stream
	ErrStreamClosed = errors.New("stream closed")

	// ErrReaderTaken is returned when a second reader is requested while one is attached
	ErrReaderTaken = errors.New("stream already has an attached reader")
)

// Chunk is one unit of stream data. IsEnd marks the end of the stream and
// carries no buffer.
type Chunk[T any] struct {
	Buffer       T
	IsEnd        bool
	TimeReceived time.Time
}

// Stream is an ordered queue of chunks with a write side and a single read side.
// Chunks written before Close stay readable after it until drained.
type Stream[T any] struct {
	id string

	mu     sync.Mutex
	chunks []Chunk[T]
	closed bool
	notify chan struct{}
	reader *Reader[T]
}

// New creates an open stream with a random id
func New[T any]() *Stream[T] {
	return NewWithID[T](uuid.NewString())
}

// NewWithID creates an open stream with the given id
func NewWithID[T any](id string) *Stream[T] {
	return &Stream[T]{
		id:     id,
		notify: make(chan struct{}),
	}
}

// ID returns the stream id
func (s *Stream[T]) ID() string {
	return s.id
}

// IsClosed reports whether Close has been called
func (s *Stream[T]) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Len returns the number of buffered, unread chunks
func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Write appends a buffer stamped with the current time
func (s *Stream[T]) Write(buf T) error {
	return s.WriteChunk(Chunk[T]{Buffer: buf, TimeReceived: time.Now()})
}

// WriteChunk appends a chunk as-is
func (s *Stream[T]) WriteChunk(c Chunk[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}

	s.chunks = append(s.chunks, c)
	s.wakeLocked()
	return nil
}

// Close marks the stream closed. It is safe to call more than once.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.wakeLocked()
}

// Read returns the next chunk, waiting while the stream is open and empty.
// Once the stream is closed and drained every call returns an end chunk.
func (s *Stream[T]) Read(ctx context.Context) (Chunk[T], error) {
	for {
		s.mu.Lock()
		if len(s.chunks) > 0 {
			c := s.chunks[0]
			var zero Chunk[T]
			s.chunks[0] = zero
			s.chunks = s.chunks[1:]
			s.mu.Unlock()
			return c, nil
		}
		if s.closed {
			s.mu.Unlock()
			return Chunk[T]{IsEnd: true, TimeReceived: time.Now()}, nil
		}
		wait := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Chunk[T]{}, ctx.Err()
		case <-wait:
		}
	}
}

// Reader attaches the single reader. Release it to let another reader attach.
func (s *Stream[T]) Reader() (*Reader[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader != nil {
		return nil, ErrReaderTaken
	}
	r := &Reader[T]{stream: s}
	s.reader = r
	return r, nil
}

func (s *Stream[T]) release(r *Reader[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == r {
		s.reader = nil
	}
}

// wakeLocked wakes every goroutine parked in Read
func (s *Stream[T]) wakeLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// Reader is the read side of a Stream
type Reader[T any] struct {
	stream *Stream[T]

	mu       sync.Mutex
	released bool
}

// Read returns the next chunk of the underlying stream
func (r *Reader[T]) Read(ctx context.Context) (Chunk[T], error) {
	r.mu.Lock()
	released := r.released
	r.mu.Unlock()
	if released {
		return Chunk[T]{IsEnd: true, TimeReceived: time.Now()}, nil
	}
	return r.stream.Read(ctx)
}

// StreamID returns the id of the stream being read
func (r *Reader[T]) StreamID() string {
	return r.stream.ID()
}

// IsClosed reports whether the underlying stream was closed
func (r *Reader[T]) IsClosed() bool {
	return r.stream.IsClosed()
}

// Release detaches this reader from the stream without closing it
func (r *Reader[T]) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	r.stream.release(r)
}
