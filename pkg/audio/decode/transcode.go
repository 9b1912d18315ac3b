// ABOUTME: Converts any decoded Source to mono PCM at the upload rate
// ABOUTME: Emits little-endian PCM16 blocks through a callback
package decode

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/audio/resample"
)

// transcodeBlock is how many source frames are converted per emit
const transcodeBlock = 4096

// Transcode reads src to the end and emits target-format PCM16 bytes.
// Only mono 16-bit PCM targets are supported.
func Transcode(ctx context.Context, src Source, target audio.Format, emit func([]byte) error) error {
	if target.FormatTag != audio.FormatPCM || target.BitsPerSample != 16 || target.Channels != 1 {
		return fmt.Errorf("unsupported transcode target: %s", target)
	}

	channels := src.Channels()
	r := resample.New(src.SampleRate(), target.SamplesPerSec, 1)
	buf := make([]int16, transcodeBlock*channels)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := src.Read(buf)
		if n > 0 {
			mono := audio.DownmixInt16ToMono(buf[:n-n%channels], channels)
			frames := make([]float32, len(mono))
			for i, s := range mono {
				frames[i] = audio.Int16ToFloat32(s)
			}

			out := r.Process(frames)
			pcm := make([]int16, len(out))
			for i, s := range out {
				pcm[i] = audio.Float32ToInt16(s)
			}
			if len(pcm) > 0 {
				if emitErr := emit(audio.Int16ToBytes(pcm)); emitErr != nil {
					return emitErr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
