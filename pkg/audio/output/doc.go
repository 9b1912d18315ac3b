// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output interface with oto and PortAudio implementations
// Package output plays PCM16 audio, used to monitor audio echoed back by a
// speech endpoint.
//
// Example:
//
//	out, err := output.New("oto")
//	err = out.Open(audio.DefaultInputFormat())
//	err = out.Write(pcm)
package output
