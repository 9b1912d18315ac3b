// ABOUTME: Audio stream format value object
// ABOUTME: Derives byte rate and block alignment and converts between bytes and 100ns ticks
package audio

import (
	"fmt"
	"time"
)

// FormatTag identifies the wire encoding of an audio stream
type FormatTag int

const (
	FormatPCM FormatTag = iota + 1
	FormatMuLaw
	FormatSiren
	FormatMP3
	FormatSILKSkype
	FormatOggOpus
	FormatWebmOpus
	FormatALaw
	FormatFLAC
	FormatOpus
)

func (t FormatTag) String() string {
	switch t {
	case FormatPCM:
		return "pcm"
	case FormatMuLaw:
		return "mulaw"
	case FormatSiren:
		return "siren"
	case FormatMP3:
		return "mp3"
	case FormatSILKSkype:
		return "silk"
	case FormatOggOpus:
		return "ogg-opus"
	case FormatWebmOpus:
		return "webm-opus"
	case FormatALaw:
		return "alaw"
	case FormatFLAC:
		return "flac"
	case FormatOpus:
		return "opus"
	}
	return fmt.Sprintf("FormatTag(%d)", int(t))
}

// ContentType returns the MIME type used when this format is sent over the wire
func (t FormatTag) ContentType() string {
	switch t {
	case FormatPCM:
		return "audio/x-wav"
	case FormatOpus:
		return "audio/opus; framing=length-prefixed"
	case FormatOggOpus:
		return "audio/ogg; codecs=opus"
	case FormatWebmOpus:
		return "audio/webm; codecs=opus"
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatMuLaw:
		return "audio/basic"
	case FormatALaw:
		return "audio/x-alaw-basic"
	}
	return "application/octet-stream"
}

const (
	// DefaultSampleRate is the rate of the default capture format
	DefaultSampleRate = 16000
	// DefaultBitsPerSample is the sample width of the default capture format
	DefaultBitsPerSample = 16
	// DefaultChannels is the channel count of the default capture format
	DefaultChannels = 1

	// TicksPerSecond is the number of 100ns ticks in a second
	TicksPerSecond = 10_000_000
)

// Format describes the wave parameters of an audio stream. It is a value
// object; use the constructors so derived fields stay consistent.
type Format struct {
	FormatTag      FormatTag
	Channels       int
	SamplesPerSec  int
	BitsPerSample  int
	AvgBytesPerSec int
	BlockAlign     int
}

// NewFormat builds a format for tag and derives byte rate and block alignment
func NewFormat(tag FormatTag, samplesPerSec, bitsPerSample, channels int) Format {
	return Format{
		FormatTag:      tag,
		Channels:       channels,
		SamplesPerSec:  samplesPerSec,
		BitsPerSample:  bitsPerSample,
		AvgBytesPerSec: samplesPerSec * channels * bitsPerSample / 8,
		BlockAlign:     channels * max(bitsPerSample, 8),
	}
}

// NewPCMFormat builds a PCM wave format
func NewPCMFormat(samplesPerSec, bitsPerSample, channels int) Format {
	return NewFormat(FormatPCM, samplesPerSec, bitsPerSample, channels)
}

// DefaultInputFormat is 16 kHz, 16-bit, mono PCM
func DefaultInputFormat() Format {
	return NewPCMFormat(DefaultSampleRate, DefaultBitsPerSample, DefaultChannels)
}

// Validate checks the format can describe a stream
func (f Format) Validate() error {
	if f.SamplesPerSec <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SamplesPerSec)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("unsupported channel count: %d (supported: 1, 2)", f.Channels)
	}
	if f.FormatTag == FormatPCM && f.BitsPerSample != 8 && f.BitsPerSample != 16 && f.BitsPerSample != 24 && f.BitsPerSample != 32 {
		return fmt.Errorf("unsupported bit depth: %d", f.BitsPerSample)
	}
	return nil
}

// FrameBytes is the size in bytes of one sample across all channels
func (f Format) FrameBytes() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesToTicks converts a byte count in this format to 100ns ticks
func (f Format) BytesToTicks(n int64) int64 {
	if f.AvgBytesPerSec == 0 {
		return 0
	}
	return n * TicksPerSecond / int64(f.AvgBytesPerSec)
}

// TicksToBytes converts 100ns ticks to a byte count in this format
func (f Format) TicksToBytes(ticks int64) int64 {
	return ticks * int64(f.AvgBytesPerSec) / TicksPerSecond
}

// Duration returns the play time of n bytes in this format
func (f Format) Duration(n int64) time.Duration {
	if f.AvgBytesPerSec == 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / int64(f.AvgBytesPerSec))
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dHz %dbit %dch", f.FormatTag, f.SamplesPerSec, f.BitsPerSample, f.Channels)
}
