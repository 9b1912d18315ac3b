// ABOUTME: Tests for the replayable node
// ABOUTME: Checks replay starts at the last shrink offset and resumes live reads in order
package audiosource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/stream"
)

// sequenceNode serves numbered bytes in fixed-size chunks
type sequenceNode struct {
	s      *stream.Stream[[]byte]
	reader *stream.Reader[[]byte]
}

func newSequenceNode(t *testing.T, chunkSizes ...int) *sequenceNode {
	t.Helper()
	s := stream.New[[]byte]()
	next := 0
	base := time.Unix(1700000000, 0)
	for i, n := range chunkSizes {
		buf := make([]byte, n)
		for j := range buf {
			buf[j] = byte(next)
			next++
		}
		require.NoError(t, s.WriteChunk(stream.Chunk[[]byte]{Buffer: buf, TimeReceived: base.Add(time.Duration(i) * time.Second)}))
	}
	r, err := s.Reader()
	require.NoError(t, err)
	return &sequenceNode{s: s, reader: r}
}

func (n *sequenceNode) ID() string { return "seq" }

func (n *sequenceNode) Read(ctx context.Context) (stream.Chunk[[]byte], error) {
	return n.reader.Read(ctx)
}

func (n *sequenceNode) Detach() error {
	n.s.Close()
	return nil
}

func readAll(t *testing.T, n Node, count int) []byte {
	t.Helper()
	var out []byte
	for i := 0; i < count; i++ {
		out = append(out, readChunk(t, n)...)
	}
	return out
}

func seqBytes(from, to int) []byte {
	out := make([]byte, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, byte(i))
	}
	return out
}

func TestReplayStartsAtShrinkOffset(t *testing.T) {
	format := audio.DefaultInputFormat()
	inner := newSequenceNode(t, 2500, 2500, 2500, 2500, 1000)
	node := NewReplayableNode(inner, format)

	readAll(t, node, 4)
	assert.Equal(t, int64(10000), node.BytesRead())

	node.ShrinkBuffers(format.BytesToTicks(4000))
	assert.Equal(t, int64(7500), node.RetainedBytes())

	node.Replay()
	require.True(t, node.IsReplaying())

	first := readChunk(t, node)
	require.NotEmpty(t, first)
	assert.Equal(t, byte(4000%256), first[0])
	assert.Len(t, first, 1000)
}

func TestReplayYieldsExactTailThenLiveReads(t *testing.T) {
	format := audio.DefaultInputFormat()
	inner := newSequenceNode(t, 2500, 2500, 2500, 2500, 1000)
	node := NewReplayableNode(inner, format)

	readAll(t, node, 4)
	node.ShrinkBuffers(format.BytesToTicks(4000))
	node.Replay()

	var replayed []byte
	for node.IsReplaying() {
		replayed = append(replayed, readChunk(t, node)...)
	}
	assert.Equal(t, seqBytes(4000, 10000), replayed)

	// Live reads resume right after the last byte read before the replay
	live := readChunk(t, node)
	assert.Equal(t, seqBytes(10000, 11000), live)
}

func TestReplayWithoutShrinkStartsAtBeginning(t *testing.T) {
	inner := newSequenceNode(t, 100, 100)
	node := NewReplayableNode(inner, audio.DefaultInputFormat())

	readAll(t, node, 2)
	node.Replay()
	assert.Equal(t, seqBytes(0, 200), readAll(t, node, 2))
	assert.False(t, node.IsReplaying())
}

func TestReplayWithNothingRetainedIsNoop(t *testing.T) {
	inner := newSequenceNode(t, 100)
	node := NewReplayableNode(inner, audio.DefaultInputFormat())

	node.Replay()
	assert.False(t, node.IsReplaying())
	assert.Equal(t, seqBytes(0, 100), readChunk(t, node))
}

func TestShrinkIgnoresOlderOffsets(t *testing.T) {
	format := audio.DefaultInputFormat()
	inner := newSequenceNode(t, 1000, 1000, 1000)
	node := NewReplayableNode(inner, format)
	readAll(t, node, 3)

	node.ShrinkBuffers(format.BytesToTicks(2000))
	node.ShrinkBuffers(format.BytesToTicks(500))
	assert.Equal(t, int64(1000), node.RetainedBytes())

	node.Replay()
	assert.Equal(t, seqBytes(2000, 3000), readChunk(t, node))
}

func TestReplayTwiceAfterReconnects(t *testing.T) {
	format := audio.DefaultInputFormat()
	inner := newSequenceNode(t, 1000, 1000, 1000, 1000)
	node := NewReplayableNode(inner, format)

	readAll(t, node, 2)
	node.ShrinkBuffers(format.BytesToTicks(1000))
	node.Replay()
	assert.Equal(t, seqBytes(1000, 2000), readChunk(t, node))

	readAll(t, node, 1)
	node.ShrinkBuffers(format.BytesToTicks(2400))
	node.Replay()
	assert.Equal(t, seqBytes(2400, 3000), readChunk(t, node))
	assert.Equal(t, seqBytes(3000, 4000), readChunk(t, node))
}

func TestFindTimeAtOffset(t *testing.T) {
	format := audio.DefaultInputFormat()
	inner := newSequenceNode(t, 32000, 32000)
	node := NewReplayableNode(inner, format)
	readAll(t, node, 2)

	base := time.Unix(1700000000, 0)
	assert.Equal(t, base, node.FindTimeAtOffset(audio.TicksPerSecond/2))
	assert.Equal(t, base.Add(time.Second), node.FindTimeAtOffset(audio.TicksPerSecond*3/2))
	assert.True(t, node.FindTimeAtOffset(audio.TicksPerSecond*3).IsZero())

	node.ShrinkBuffers(audio.TicksPerSecond)
	assert.True(t, node.FindTimeAtOffset(audio.TicksPerSecond/2).IsZero())
	assert.Equal(t, base.Add(time.Second), node.FindTimeAtOffset(audio.TicksPerSecond*3/2))
}

func TestReplayableNodeForwardsIdentity(t *testing.T) {
	inner := newSequenceNode(t)
	node := NewReplayableNode(inner, audio.DefaultInputFormat())
	assert.Equal(t, "seq", node.ID())
	require.NoError(t, node.Detach())

	c, err := node.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, c.IsEnd)
}

func TestPositionTracksReplayAndLiveReads(t *testing.T) {
	format := audio.DefaultInputFormat()
	inner := newSequenceNode(t, 2500, 2500, 2500, 2500, 1000)
	node := NewReplayableNode(inner, format)

	assert.Equal(t, int64(0), node.Position())
	readAll(t, node, 4)
	assert.Equal(t, int64(10000), node.Position())

	node.ShrinkBuffers(format.BytesToTicks(4000))
	node.Replay()
	assert.Equal(t, int64(4000), node.Position())

	readChunk(t, node)
	assert.Equal(t, int64(5000), node.Position())

	for node.IsReplaying() {
		readChunk(t, node)
	}
	assert.Equal(t, int64(10000), node.Position())
	readChunk(t, node)
	assert.Equal(t, int64(11000), node.Position())
}
