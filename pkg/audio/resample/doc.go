// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts captured float32 frames between sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation for converting between sample rates. State is
// carried across calls so a capture callback can feed it chunk by chunk.
//
// Example:
//
//	r := resample.New(48000, 16000, 1)
//	out := r.Process(frame)
package resample
