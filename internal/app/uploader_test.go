// ABOUTME: Tests for the uploader against the ingest server
// ABOUTME: Covers a clean turn, replay after a dropped connection, echo monitoring and giving up
package app

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speechlink/speechlink-go/internal/metrics"
	"github.com/speechlink/speechlink-go/internal/server"
	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/audiosource"
	"github.com/speechlink/speechlink-go/pkg/transport"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	return logrus.NewEntry(l)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// startIngest runs an ingest server and returns its websocket URL
func startIngest(t *testing.T, cfg server.Config) string {
	t.Helper()
	if cfg.AckInterval == 0 {
		cfg.AckInterval = 10 * time.Millisecond
	}
	srv := server.New(cfg, server.WithLogger(testLog()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/speech"
}

// pushedSource returns a closed push source holding a WAV header and n
// bytes of PCM
func pushedSource(t *testing.T, n int) *audiosource.PushSource {
	t.Helper()
	format := audio.DefaultInputFormat()
	src := audiosource.NewPush(format, audiosource.WithLogger(testLog()))
	require.NoError(t, src.Write(format.Header()))
	pcm := make([]byte, n)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	require.NoError(t, src.Write(pcm))
	src.Close()
	return src
}

type progressLog struct {
	mu     sync.Mutex
	events []Progress
}

func (p *progressLog) Publish(topic string, ev any) {
	if pr, ok := ev.(Progress); ok && topic == TopicUploader {
		p.mu.Lock()
		p.events = append(p.events, pr)
		p.mu.Unlock()
	}
}

func (p *progressLog) count(kind ProgressKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestUploaderCompletesTurn(t *testing.T) {
	dir := t.TempDir()
	url := startIngest(t, server.Config{OutputDir: dir})

	progress := &progressLog{}
	u := New(pushedSource(t, 20000), Config{URL: url, SourceName: "push"},
		WithLogger(testLog()), WithSink(progress))

	end, err := u.Run(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, int64(20000), end.Bytes)
	assert.FileExists(t, end.File)
	assert.Contains(t, end.File, u.RequestID())
	assert.Equal(t, 1, progress.count(ProgressTurnEnd))
	assert.Zero(t, progress.count(ProgressReconnecting))
}

func TestUploaderReplaysAfterDrop(t *testing.T) {
	dir := t.TempDir()
	url := startIngest(t, server.Config{OutputDir: dir, DropAfter: 2})

	progress := &progressLog{}
	m := metrics.New(nil)
	u := New(pushedSource(t, 20000), Config{
		URL:               url,
		SourceName:        "push",
		ReconnectAttempts: 3,
		ReconnectBackoff:  10 * time.Millisecond,
	}, WithLogger(testLog()), WithSink(progress), WithMetrics(m))

	end, err := u.Run(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, int64(20000), end.Bytes, "replayed audio is stored once")
	assert.Equal(t, 1, progress.count(ProgressReconnecting))

	f, err := os.Open(end.File)
	require.NoError(t, err)
	defer f.Close()
	info, err := audio.ParseWAV(f)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), info.DataSize)

	data := make([]byte, info.DataSize)
	_, err = f.ReadAt(data, info.DataOffset)
	require.NoError(t, err)
	for i, b := range data {
		if b != byte(i) {
			t.Fatalf("byte %d is %d, want %d", i, b, byte(i))
		}
	}
}

type captureOutput struct {
	mu     sync.Mutex
	format audio.Format
	pcm    []byte
	closed bool
}

func (c *captureOutput) Open(f audio.Format) error {
	c.format = f
	return nil
}

func (c *captureOutput) Write(pcm []byte) error {
	c.mu.Lock()
	c.pcm = append(c.pcm, pcm...)
	c.mu.Unlock()
	return nil
}

func (c *captureOutput) Close() error {
	c.closed = true
	return nil
}

func TestUploaderPlaysEcho(t *testing.T) {
	url := startIngest(t, server.Config{Echo: true})

	out := &captureOutput{}
	u := New(pushedSource(t, 8000), Config{URL: url, Formatter: transport.JSONFormatter{}},
		WithLogger(testLog()), WithMonitor(out))

	_, err := u.Run(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, audio.NewPCMFormat(16000, 16, 1), out.format)
	assert.Len(t, out.pcm, 8000)
	assert.True(t, out.closed)
}

func TestUploaderGivesUp(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/speech"
	ts.Close()

	progress := &progressLog{}
	u := New(pushedSource(t, 100), Config{
		URL:               url,
		ReconnectAttempts: 2,
		ReconnectBackoff:  time.Millisecond,
	}, WithLogger(testLog()), WithSink(progress))

	_, err := u.Run(testCtx(t))
	require.Error(t, err)
	assert.ErrorContains(t, err, "giving up after 2 reconnect attempts")
	assert.Equal(t, 2, progress.count(ProgressReconnecting))
}

func TestUploaderStopsOnCancel(t *testing.T) {
	url := startIngest(t, server.Config{})

	// an open push source never ends by itself
	src := audiosource.NewPush(audio.DefaultInputFormat())
	u := New(src, Config{URL: url}, WithLogger(testLog()))

	ctx, cancel := context.WithCancel(testCtx(t))
	errc := make(chan error, 1)
	go func() {
		_, err := u.Run(ctx)
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
