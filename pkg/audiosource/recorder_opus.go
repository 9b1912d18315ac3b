// ABOUTME: Compressed recorder producing one chunk of Opus packets per 100ms timeslice
// ABOUTME: Each chunk holds five length-prefixed 20ms packets at 16 kHz mono
package audiosource

import (
	"context"
	"errors"
	"time"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/audio/encode"
	"github.com/speechlink/speechlink-go/pkg/stream"
)

// OpusTimeslice is the audio duration carried by each recorded chunk
const OpusTimeslice = 100 * time.Millisecond

// OpusRecorder records length-prefixed Opus packets
type OpusRecorder struct {
	format   audio.Format
	sessions sessionSet
}

// NewOpusRecorder records 16 kHz mono Opus
func NewOpusRecorder() *OpusRecorder {
	return &OpusRecorder{format: audio.NewFormat(audio.FormatOpus, 16000, 16, 1)}
}

// Format returns the recorded stream format
func (r *OpusRecorder) Format() audio.Format { return r.format }

// Record starts a session writing to out until ctx is done
func (r *OpusRecorder) Record(ctx context.Context, in Input, out *stream.Stream[[]byte]) error {
	if in == nil || out == nil {
		return errors.New("opus recorder: nil input or output")
	}
	enc, err := encode.NewOpus(r.format)
	if err != nil {
		return err
	}
	frame := enc.(*encode.OpusEncoder).FrameSamples()
	slice := r.format.SamplesPerSec * int(OpusTimeslice/time.Millisecond) / 1000

	w := &opusWriter{enc: enc, out: out, frameSamples: frame, sliceSamples: slice}
	// One timeslice of device frames per conversion batch
	block := in.SampleRate() * int(OpusTimeslice/time.Millisecond) / 1000
	_, err = startSession(ctx, &r.sessions, in, r.format.SamplesPerSec, block, w)
	return err
}

// ReleaseMediaResources stops every running session
func (r *OpusRecorder) ReleaseMediaResources() error {
	r.sessions.stopAll()
	return nil
}

type opusWriter struct {
	enc          encode.Encoder
	out          *stream.Stream[[]byte]
	frameSamples int
	sliceSamples int
	pending      []float32
}

func (w *opusWriter) push(samples []float32) error {
	w.pending = append(w.pending, samples...)
	for len(w.pending) >= w.sliceSamples {
		if err := w.writeSlice(w.pending[:w.sliceSamples]); err != nil {
			return err
		}
		w.pending = w.pending[w.sliceSamples:]
	}
	return nil
}

func (w *opusWriter) writeSlice(samples []float32) error {
	var chunk []byte
	for len(samples) >= w.frameSamples {
		packet, err := w.enc.Encode(samples[:w.frameSamples])
		if err != nil {
			return err
		}
		if chunk, err = audio.AppendFramedPacket(chunk, packet); err != nil {
			return err
		}
		samples = samples[w.frameSamples:]
	}
	if len(chunk) == 0 {
		return nil
	}
	if err := w.out.Write(chunk); err != nil && !errors.Is(err, stream.ErrStreamClosed) {
		return err
	}
	return nil
}

// flush pads the last partial timeslice to whole frames with silence
func (w *opusWriter) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	frames := (len(w.pending) + w.frameSamples - 1) / w.frameSamples
	padded := make([]float32, frames*w.frameSamples)
	copy(padded, w.pending)
	w.pending = nil
	return w.writeSlice(padded)
}

func (w *opusWriter) close() error { return w.enc.Close() }
