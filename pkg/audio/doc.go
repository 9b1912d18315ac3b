// ABOUTME: Audio fundamentals package providing the stream format and WAV utilities
// ABOUTME: Defines Format, WAV header handling and PCM sample conversions
// Package audio provides the audio stream format used across speechlink.
//
// This package defines:
//   - Format: wave parameters of a stream with derived byte rate and block alignment
//   - WAVHeader, ParseWAV, WAVWriter: RIFF/WAVE encoding and decoding
//   - sample helpers converting between float32 frames, int16 samples and bytes
//
// Offsets exchanged with a speech service are expressed in 100ns ticks;
// Format.BytesToTicks and Format.TicksToBytes convert them.
//
// Example:
//
//	format := audio.DefaultInputFormat() // 16 kHz, 16-bit, mono PCM
//	header := format.Header()            // 44-byte streaming WAV header
//	ticks := format.BytesToTicks(32000)  // one second
package audio
