// ABOUTME: Node wrapper that retains read audio so it can be resent after a reconnect
// ABOUTME: Offsets are 100ns ticks converted to bytes through the stream's byte rate
package audiosource

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/stream"
)

// bufferEntry is one retained chunk and the absolute byte offset it starts at
type bufferEntry struct {
	chunk      stream.Chunk[[]byte]
	serial     int
	byteOffset int64
}

// ReplayableNode records every chunk read from an inner node. After
// Replay, reads are served from the retained chunks starting at the last
// ShrinkBuffers offset, then fall through to the inner node again.
type ReplayableNode struct {
	inner       Node
	bytesPerSec float64
	format      audio.Format

	mu               sync.Mutex
	buffers          []bufferEntry
	serial           int
	bufferedBytes    int64
	bufferStart      float64 // ticks
	lastShrinkOffset float64 // ticks
	replay           bool
	replayOffset     float64 // ticks
}

// NewReplayableNode wraps inner, whose chunks are audio in format
func NewReplayableNode(inner Node, format audio.Format) *ReplayableNode {
	return &ReplayableNode{
		inner:       inner,
		format:      format,
		bytesPerSec: float64(format.AvgBytesPerSec),
	}
}

// ID returns the inner node id
func (r *ReplayableNode) ID() string { return r.inner.ID() }

// Format returns the audio format of the wrapped node
func (r *ReplayableNode) Format() audio.Format { return r.format }

// Detach detaches the inner node
func (r *ReplayableNode) Detach() error { return r.inner.Detach() }

// Read returns the next replayed chunk while replay is armed, otherwise the
// next chunk from the inner node, which is retained.
func (r *ReplayableNode) Read(ctx context.Context) (stream.Chunk[[]byte], error) {
	if c, ok := r.nextReplayed(); ok {
		return c, nil
	}

	c, err := r.inner.Read(ctx)
	if err != nil {
		return c, err
	}
	if !c.IsEnd && len(c.Buffer) > 0 {
		r.mu.Lock()
		r.buffers = append(r.buffers, bufferEntry{chunk: c, serial: r.serial, byteOffset: r.bufferedBytes})
		r.serial++
		r.bufferedBytes += int64(len(c.Buffer))
		r.mu.Unlock()
	}
	return c, nil
}

func (r *ReplayableNode) nextReplayed() (stream.Chunk[[]byte], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, skip, ok := r.replaySeekLocked()
	if !ok {
		return stream.Chunk[[]byte]{}, false
	}

	entry := r.buffers[i]
	out := make([]byte, int64(len(entry.chunk.Buffer))-skip)
	copy(out, entry.chunk.Buffer[skip:])

	r.replayOffset += float64(len(out)) / r.bytesPerSec * 1e7
	if i == len(r.buffers)-1 {
		r.replay = false
	}
	return stream.Chunk[[]byte]{Buffer: out, TimeReceived: entry.chunk.TimeReceived}, true
}

// replaySeekLocked finds the retained chunk holding the replay offset and
// the bytes to skip inside it. It disarms replay once the offset lies past
// everything retained.
func (r *ReplayableNode) replaySeekLocked() (int, int64, bool) {
	if !r.replay || len(r.buffers) == 0 || r.bytesPerSec <= 0 {
		return 0, 0, false
	}

	bytesToSeek := int64(math.Round((r.replayOffset - r.bufferStart) * r.bytesPerSec * 1e-7))
	if bytesToSeek < 0 {
		bytesToSeek = 0
	}
	// Keep 16-bit samples whole
	if bytesToSeek%2 != 0 {
		bytesToSeek++
	}

	i := 0
	for i < len(r.buffers) && bytesToSeek >= int64(len(r.buffers[i].chunk.Buffer)) {
		bytesToSeek -= int64(len(r.buffers[i].chunk.Buffer))
		i++
	}
	if i >= len(r.buffers) {
		r.replay = false
		return 0, 0, false
	}
	return i, bytesToSeek, true
}

// Position returns the byte offset, from the start of the stream, of the
// next chunk Read will return
func (r *ReplayableNode) Position() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, skip, ok := r.replaySeekLocked(); ok {
		return r.buffers[i].byteOffset + skip
	}
	return r.bufferedBytes
}

// ShrinkBuffers drops retained chunks that end at or before offset (ticks).
// Offsets behind an earlier shrink are ignored.
func (r *ReplayableNode) ShrinkBuffers(offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buffers) == 0 || r.bytesPerSec <= 0 {
		return
	}
	target := float64(offset)
	if target < r.lastShrinkOffset {
		return
	}
	r.lastShrinkOffset = target

	bytesToSeek := int64(math.Round((target - r.bufferStart) * r.bytesPerSec * 1e-7))
	i := 0
	for i < len(r.buffers) && bytesToSeek >= int64(len(r.buffers[i].chunk.Buffer)) {
		bytesToSeek -= int64(len(r.buffers[i].chunk.Buffer))
		i++
	}
	r.bufferStart = math.Round(target - float64(bytesToSeek)/r.bytesPerSec*1e7)

	for j := 0; j < i; j++ {
		r.buffers[j] = bufferEntry{}
	}
	r.buffers = r.buffers[i:]
}

// Replay arms replay from the last shrink offset. It does nothing when no
// audio is retained.
func (r *ReplayableNode) Replay() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buffers) == 0 {
		return
	}
	r.replay = true
	r.replayOffset = r.lastShrinkOffset
}

// IsReplaying reports whether reads are currently served from retained audio
func (r *ReplayableNode) IsReplaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replay
}

// FindTimeAtOffset returns when the chunk holding offset (ticks) was read,
// or the zero time when that chunk is no longer retained.
func (r *ReplayableNode) FindTimeAtOffset(offset int64) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := float64(offset)
	if target < r.bufferStart || r.bytesPerSec <= 0 {
		return time.Time{}
	}
	for _, e := range r.buffers {
		start := float64(e.byteOffset) / r.bytesPerSec * 1e7
		end := start + float64(len(e.chunk.Buffer))/r.bytesPerSec*1e7
		if target >= start && target <= end {
			return e.chunk.TimeReceived
		}
	}
	return time.Time{}
}

// RetainedBytes returns the number of bytes held for replay
func (r *ReplayableNode) RetainedBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.buffers {
		n += int64(len(e.chunk.Buffer))
	}
	return n
}

// BytesRead returns the total bytes read from the inner node
func (r *ReplayableNode) BytesRead() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufferedBytes
}
