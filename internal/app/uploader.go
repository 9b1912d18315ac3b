// ABOUTME: Uploader streams one audio source to a speechlink server
// ABOUTME: Unacknowledged audio is replayed over a fresh connection after a drop
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/speechlink/speechlink-go/internal/metrics"
	"github.com/speechlink/speechlink-go/internal/protocol"
	"github.com/speechlink/speechlink-go/internal/version"
	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/audio/output"
	"github.com/speechlink/speechlink-go/pkg/audiosource"
	"github.com/speechlink/speechlink-go/pkg/events"
	"github.com/speechlink/speechlink-go/pkg/transport"
)

// Config holds uploader configuration
type Config struct {
	URL               string
	Query             map[string]string
	Headers           map[string]string
	Formatter         transport.Formatter
	SourceName        string
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
}

// Uploader sends the audio of one source node over a Connection
type Uploader struct {
	config  Config
	source  audiosource.Source
	log     *logrus.Entry
	sink    events.Sink
	metrics *metrics.Metrics
	monitor output.Output

	requestID string
	node      *audiosource.ReplayableNode
	lastAck   atomic.Int64

	monitorOnce sync.Once
	monitorErr  error
}

// Option configures an Uploader
type Option func(*Uploader)

// WithLogger sets the logger
func WithLogger(log *logrus.Entry) Option {
	return func(u *Uploader) { u.log = log }
}

// WithSink publishes connection, source and progress events to sink
func WithSink(sink events.Sink) Option {
	return func(u *Uploader) { u.sink = sink }
}

// WithMetrics records replay and retention metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Uploader) { u.metrics = m }
}

// WithMonitor plays audio echoed by the server on out
func WithMonitor(out output.Output) Option {
	return func(u *Uploader) { u.monitor = out }
}

// New creates an uploader for source
func New(source audiosource.Source, config Config, opts ...Option) *Uploader {
	if config.Formatter == nil {
		config.Formatter = transport.SpeechFormatter{}
	}
	if config.ReconnectBackoff <= 0 {
		config.ReconnectBackoff = time.Second
	}

	u := &Uploader{
		config:    config,
		source:    source,
		requestID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.log == nil {
		u.log = logrus.NewEntry(logrus.StandardLogger())
	}
	u.log = u.log.WithFields(logrus.Fields{"component": "uploader", "request_id": u.requestID})
	return u
}

// RequestID identifies this upload across reconnects
func (u *Uploader) RequestID() string { return u.requestID }

// fatalError ends Run without another reconnect attempt
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Run turns the source on, streams it until its end and returns the
// server's turn summary. Lost connections are retried with backoff.
func (u *Uploader) Run(ctx context.Context) (*protocol.TurnEnd, error) {
	if err := u.source.TurnOn(ctx); err != nil {
		return nil, fmt.Errorf("failed to turn on source: %w", err)
	}
	defer func() {
		if err := u.source.TurnOff(context.Background()); err != nil {
			u.log.WithError(err).Warn("Failed to turn off source")
		}
	}()
	defer u.closeMonitor()

	inner, err := u.source.Attach(ctx, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to attach to source: %w", err)
	}
	u.node = audiosource.NewReplayableNode(inner, u.source.Format())

	attempt := 0
	for {
		end, connected, err := u.session(ctx)
		if err == nil {
			u.publish(Progress{Kind: ProgressTurnEnd, Offset: u.lastAck.Load()})
			return end, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var fatal *fatalError
		if errors.As(err, &fatal) {
			return nil, fatal.err
		}

		if connected {
			attempt = 0
		}
		attempt++
		if attempt > u.config.ReconnectAttempts {
			return nil, fmt.Errorf("giving up after %d reconnect attempts: %w", attempt-1, err)
		}

		backoff := u.config.ReconnectBackoff * time.Duration(attempt)
		u.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": backoff,
		}).Warn("Connection lost, reconnecting")
		u.publish(Progress{Kind: ProgressReconnecting, Attempt: attempt, Retained: u.node.RetainedBytes(), Err: err})

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		u.node.Replay()
	}
}

// session runs one connection. connected reports whether the handshake
// succeeded, which resets the reconnect budget.
func (u *Uploader) session(ctx context.Context) (*protocol.TurnEnd, bool, error) {
	opts := []transport.Option{
		transport.WithFormatter(u.config.Formatter),
		transport.WithQuery(u.config.Query),
		transport.WithLogger(u.log),
		transport.WithSink(u.sink),
	}
	for name, value := range u.config.Headers {
		opts = append(opts, transport.WithHeader(name, value))
	}
	conn := transport.NewConnection(u.config.URL, opts...)

	resp, err := conn.Open(ctx)
	if err != nil {
		return nil, false, err
	}
	if !resp.OK() {
		return nil, false, fmt.Errorf("handshake refused: %d %s", resp.StatusCode, resp.Reason)
	}
	defer conn.Close("upload finished")

	format := u.source.Format()
	cfgMsg, err := protocol.NewSpeechConfig(u.requestID, protocol.SpeechConfig{
		Source: u.config.SourceName,
		Format: protocol.FromFormat(format),
		Client: protocol.ClientInfo{
			Product:      version.Product,
			Manufacturer: version.Manufacturer,
			Version:      version.Version,
		},
	})
	if err != nil {
		return nil, true, &fatalError{err}
	}
	if err := conn.Send(ctx, cfgMsg); err != nil {
		return nil, true, err
	}

	var end protocol.TurnEnd
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return u.sendLoop(gctx, conn, format) })
	g.Go(func() error { return u.receiveLoop(gctx, conn, &end) })
	if err := g.Wait(); err != nil {
		return nil, true, err
	}
	return &end, true, nil
}

func (u *Uploader) sendLoop(ctx context.Context, conn *transport.Connection, format audio.Format) error {
	for {
		offset := u.node.Position()
		replaying := u.node.IsReplaying()

		chunk, err := u.node.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return &fatalError{fmt.Errorf("failed to read audio: %w", err)}
		}

		if chunk.IsEnd {
			u.log.WithField("bytes", offset).Info("Audio source ended")
			return conn.Send(ctx, protocol.NewAudio(u.requestID, format, offset, nil))
		}

		if err := conn.Send(ctx, protocol.NewAudio(u.requestID, format, offset, chunk.Buffer)); err != nil {
			return err
		}
		if replaying {
			if u.metrics != nil {
				u.metrics.RecordReplay(len(chunk.Buffer))
			}
			u.publish(Progress{Kind: ProgressReplayed, Offset: offset, Bytes: len(chunk.Buffer)})
		}
	}
}

func (u *Uploader) receiveLoop(ctx context.Context, conn *transport.Connection, end *protocol.TurnEnd) error {
	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		switch msg.Path() {
		case protocol.PathAck:
			offset, err := protocol.Int64Header(msg, transport.HeaderOffset)
			if err != nil {
				u.log.WithError(err).Warn("Ignoring malformed ack")
				continue
			}
			u.node.ShrinkBuffers(offset)
			u.lastAck.Store(offset)
			retained := u.node.RetainedBytes()
			if u.metrics != nil {
				u.metrics.SetRetained(retained)
			}
			u.publish(Progress{Kind: ProgressAcked, Offset: offset, Retained: retained})

		case protocol.PathEcho:
			u.play(msg.BinaryBody)

		case protocol.PathTurnEnd:
			if err := protocol.DecodeBody(msg, end); err != nil {
				u.log.WithError(err).Warn("Malformed turn.end body")
			}
			u.log.WithFields(logrus.Fields{
				"file":  end.File,
				"bytes": end.Bytes,
			}).Info("Turn complete")
			return nil

		default:
			u.log.WithField("path", msg.Path()).Debug("Ignoring message")
		}
	}
}

// play writes echoed PCM to the monitor output, opening it on first use
func (u *Uploader) play(pcm []byte) {
	if u.monitor == nil || len(pcm) == 0 {
		return
	}
	u.monitorOnce.Do(func() {
		f := u.source.Format()
		u.monitorErr = u.monitor.Open(audio.NewPCMFormat(f.SamplesPerSec, 16, f.Channels))
		if u.monitorErr != nil {
			u.log.WithError(u.monitorErr).Warn("Monitor output unavailable")
		}
	})
	if u.monitorErr != nil {
		return
	}
	if err := u.monitor.Write(pcm); err != nil {
		u.log.WithError(err).Debug("Monitor write failed")
	}
}

func (u *Uploader) closeMonitor() {
	if u.monitor == nil {
		return
	}
	u.monitorOnce.Do(func() { u.monitorErr = errors.New("monitor never opened") })
	if u.monitorErr == nil {
		if err := u.monitor.Close(); err != nil {
			u.log.WithError(err).Debug("Failed to close monitor")
		}
	}
}

func (u *Uploader) publish(p Progress) {
	if u.sink == nil {
		return
	}
	p.RequestID = u.requestID
	p.Time = time.Now()
	u.sink.Publish(TopicUploader, p)
}
