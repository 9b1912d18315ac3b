// ABOUTME: Audio encoder package for turning captured frames into wire audio
// ABOUTME: Provides Encoder interface and implementations for PCM, Opus
// Package encode provides audio encoders used by the microphone recorders.
//
// Supports: PCM (16-bit and 24-bit little-endian), Opus
//
// All encoders accept interleaved float32 samples in the [-1, 1] range.
//
// Example:
//
//	encoder, err := encode.NewPCM(audio.DefaultInputFormat())
//	data, err := encoder.Encode(frame)
package encode
