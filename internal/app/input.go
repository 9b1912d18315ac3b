// ABOUTME: Builds the configured audio source for an upload
// ABOUTME: Push inputs come with a feeder that decodes a file into the source
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/speechlink/speechlink-go/internal/config"
	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/audio/decode"
	"github.com/speechlink/speechlink-go/pkg/audiosource"
	"github.com/speechlink/speechlink-go/pkg/events"
)

// Input is an audio source together with whatever feeds it
type Input struct {
	Source audiosource.Source
	Name   string
	feed   func(ctx context.Context) error
}

// Feed runs the feeder until the input is exhausted. Inputs that produce
// audio on their own return immediately.
func (in *Input) Feed(ctx context.Context) error {
	if in.feed == nil {
		return nil
	}
	return in.feed(ctx)
}

// NewInput builds the source named by cfg.Source. Pushed and generated
// audio use format, which must be mono PCM16.
func NewInput(cfg config.ClientConfig, format audio.Format, log *logrus.Entry, sink events.Sink) (*Input, error) {
	opts := []audiosource.Option{
		audiosource.WithLogger(log),
		audiosource.WithSink(sink),
	}

	switch cfg.Source {
	case "microphone":
		var backend audiosource.CaptureBackend = audiosource.NewPortAudioBackend()
		if cfg.Backend == "ffmpeg" {
			backend = audiosource.NewFFmpegBackend("")
		}
		var recorder audiosource.Recorder = audiosource.NewPCMRecorder()
		if cfg.Recorder == "opus" {
			recorder = audiosource.NewOpusRecorder()
		}
		opts = append(opts,
			audiosource.WithBackend(backend),
			audiosource.WithRecorder(recorder),
			audiosource.WithCaptureRate(cfg.CaptureRate),
		)
		return &Input{Source: audiosource.NewMicrophone(opts...), Name: "microphone/" + backend.Name()}, nil

	case "file":
		opts = append(opts,
			audiosource.WithMaxFileBytes(cfg.MaxFileBytes),
			audiosource.WithUploadInterval(cfg.UploadInterval),
		)
		return &Input{Source: audiosource.NewFile(cfg.File, opts...), Name: "file"}, nil

	case "push":
		push := audiosource.NewPush(format, opts...)
		path := cfg.File
		return &Input{
			Source: push,
			Name:   "push",
			feed: func(ctx context.Context) error {
				defer push.Close()
				return pushFile(ctx, push, path, format)
			},
		}, nil

	case "tone":
		tone := NewTone(format, cfg.ToneFrequency, cfg.ToneDuration)
		return &Input{Source: audiosource.NewPull(format, tone, opts...), Name: "tone"}, nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}

// pushFile decodes path, converts it to format and writes it, header
// first, into push
func pushFile(ctx context.Context, push *audiosource.PushSource, path string, format audio.Format) error {
	src, err := decode.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := push.Write(format.Header()); err != nil {
		return fmt.Errorf("failed to push header: %w", err)
	}
	if err := decode.Transcode(ctx, src, format, push.Write); err != nil {
		return fmt.Errorf("failed to push %s: %w", path, err)
	}
	return nil
}
