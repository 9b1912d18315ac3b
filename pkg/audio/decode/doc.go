// ABOUTME: Audio decoder package for compressed files and Opus timeslices
// ABOUTME: Provides file Sources for MP3, FLAC, WAV and an Opus packet decoder
// Package decode turns compressed audio into 16-bit PCM.
//
// File decoders implement Source and are used to feed push streams from
// recordings; Transcode converts any Source to the upload format.
// OpusDecoder reverses the length-prefixed timeslices written by the
// Opus microphone recorder.
//
// Example:
//
//	src, err := decode.Open("utterance.flac")
//	err = decode.Transcode(ctx, src, audio.DefaultInputFormat(), push.Write)
package decode
