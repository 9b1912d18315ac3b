// ABOUTME: PCM recorder that streams a WAV header followed by 16 kHz PCM16 frames
// ABOUTME: Capture buffers grow with the device rate so conversion runs in larger batches
package audiosource

import (
	"context"
	"errors"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/audio/encode"
	"github.com/speechlink/speechlink-go/pkg/stream"
)

const (
	minCaptureBuffer = 2048
	maxCaptureBuffer = 16384
)

// PCMRecorder records 16-bit mono PCM at the target rate
type PCMRecorder struct {
	format   audio.Format
	sessions sessionSet
}

// NewPCMRecorder records at 16 kHz
func NewPCMRecorder() *PCMRecorder {
	return &PCMRecorder{format: audio.DefaultInputFormat()}
}

// Format returns the recorded stream format
func (r *PCMRecorder) Format() audio.Format { return r.format }

// CaptureBufferSize returns the frames per conversion batch for a device
// rate. It starts at 2048 and doubles, halving the rate, while the rate is
// still at least twice the target.
func (r *PCMRecorder) CaptureBufferSize(deviceRate int) int {
	size := minCaptureBuffer
	rate := deviceRate
	for size < maxCaptureBuffer && rate >= 2*r.format.SamplesPerSec {
		size <<= 1
		rate >>= 1
	}
	return size
}

// Record starts a session writing to out until ctx is done
func (r *PCMRecorder) Record(ctx context.Context, in Input, out *stream.Stream[[]byte]) error {
	if in == nil || out == nil {
		return errors.New("pcm recorder: nil input or output")
	}
	enc, err := encode.NewPCM(r.format)
	if err != nil {
		return err
	}
	w := &pcmWriter{enc: enc, out: out, header: r.format.Header(), needHeader: true}
	_, err = startSession(ctx, &r.sessions, in, r.format.SamplesPerSec, r.CaptureBufferSize(in.SampleRate()), w)
	return err
}

// ReleaseMediaResources stops every running session
func (r *PCMRecorder) ReleaseMediaResources() error {
	r.sessions.stopAll()
	return nil
}

type pcmWriter struct {
	enc        encode.Encoder
	out        *stream.Stream[[]byte]
	header     []byte
	needHeader bool
}

func (w *pcmWriter) push(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	data, err := w.enc.Encode(samples)
	if err != nil {
		return err
	}
	if w.needHeader {
		data = append(append([]byte{}, w.header...), data...)
		w.needHeader = false
	}
	if err := w.out.Write(data); err != nil && !errors.Is(err, stream.ErrStreamClosed) {
		return err
	}
	return nil
}

func (w *pcmWriter) flush() error { return nil }
func (w *pcmWriter) close() error { return w.enc.Close() }
