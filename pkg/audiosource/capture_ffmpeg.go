// ABOUTME: Microphone capture backend that reads s16le PCM from an ffmpeg subprocess
// ABOUTME: Works wherever ffmpeg can reach the system audio server (pulse, alsa, avfoundation)
package audiosource

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/speechlink/speechlink-go/pkg/audio"
)

const (
	ffmpegStartGrace = 250 * time.Millisecond
	ffmpegStopGrace  = 1200 * time.Millisecond
)

// FFmpegBackend captures through an ffmpeg subprocess
type FFmpegBackend struct {
	Command     string
	InputFormat string
	InputDevice string
}

// NewFFmpegBackend creates a backend using command (default "ffmpeg")
// with the pulse default device.
func NewFFmpegBackend(command string) *FFmpegBackend {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegBackend{Command: command, InputFormat: "pulse", InputDevice: "default"}
}

// Name returns the backend name
func (b *FFmpegBackend) Name() string { return "ffmpeg" }

// Available checks that the ffmpeg binary can be found
func (b *FFmpegBackend) Available() error {
	if _, err := exec.LookPath(b.Command); err != nil {
		return fmt.Errorf("%w: %s not found: %v", ErrCapability, b.Command, err)
	}
	return nil
}

// OpenInput starts ffmpeg and waits briefly to see that capture came up.
// The subprocess outlives ctx; Close stops it.
func (b *FFmpegBackend) OpenInput(ctx context.Context, cfg InputConfig) (Input, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", b.InputFormat,
		"-i", b.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.Command(b.Command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrCapability, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		msg := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", ErrPermission, err, msg)
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", ErrPermission)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(ffmpegStartGrace):
	}

	return &ffmpegInput{
		stdout:   stdout,
		stderr:   stderr,
		process:  cmd.Process,
		waitErr:  waitErr,
		rate:     cfg.SampleRate,
		channels: cfg.Channels,
		frames:   cfg.FramesPerBuffer,
		done:     make(chan struct{}),
	}, nil
}

type ffmpegInput struct {
	frameHub

	stdout  io.ReadCloser
	stderr  *lockedBuffer
	process *os.Process
	waitErr <-chan error

	rate     int
	channels int
	frames   int

	startOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
	done      chan struct{}
	wg        sync.WaitGroup
}

func (in *ffmpegInput) SampleRate() int { return in.rate }
func (in *ffmpegInput) Channels() int   { return in.channels }

func (in *ffmpegInput) Start() error {
	in.startOnce.Do(func() {
		in.wg.Add(1)
		go in.loop()
	})
	return nil
}

func (in *ffmpegInput) loop() {
	defer in.wg.Done()

	r := bufio.NewReader(in.stdout)
	raw := make([]byte, in.frames*in.channels*2)
	frames := make([]float32, in.frames*in.channels)
	for {
		if _, err := io.ReadFull(r, raw); err != nil {
			return
		}
		select {
		case <-in.done:
			return
		default:
		}
		for i, s := range audio.BytesToInt16(raw) {
			frames[i] = audio.Int16ToFloat32(s)
		}
		in.publish(frames)
	}
}

func (in *ffmpegInput) Close() error {
	in.stopOnce.Do(func() {
		close(in.done)
		_ = in.process.Signal(os.Interrupt)

		select {
		case err, ok := <-in.waitErr:
			if ok {
				in.stopErr = normalizeStopErr(err)
			}
		case <-time.After(ffmpegStopGrace):
			_ = in.process.Kill()
			if err, ok := <-in.waitErr; ok {
				in.stopErr = normalizeStopErr(err)
			}
		}

		if err := in.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && in.stopErr == nil {
			in.stopErr = err
		}
		in.wg.Wait()

		if in.stopErr != nil && in.stderr.Len() > 0 {
			in.stopErr = fmt.Errorf("%w: %s", in.stopErr, strings.TrimSpace(in.stderr.String()))
		}
	})
	return in.stopErr
}

// normalizeStopErr treats the interrupt exit status as a clean stop
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
