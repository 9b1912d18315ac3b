// ABOUTME: Client application orchestration
// ABOUTME: Finds the server, builds the input and monitor, then runs one upload to completion
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/speechlink/speechlink-go/internal/config"
	"github.com/speechlink/speechlink-go/internal/discovery"
	"github.com/speechlink/speechlink-go/internal/metrics"
	"github.com/speechlink/speechlink-go/internal/protocol"
	"github.com/speechlink/speechlink-go/pkg/audio/output"
	"github.com/speechlink/speechlink-go/pkg/events"
	"github.com/speechlink/speechlink-go/pkg/transport"
)

// DiscoveryTimeout bounds the mDNS search when no URL is configured
const DiscoveryTimeout = 10 * time.Second

// Client runs uploads described by a Config
type Client struct {
	config  *config.Config
	log     *logrus.Entry
	sink    events.Sink
	metrics *metrics.Metrics
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientLogger sets the logger
func WithClientLogger(log *logrus.Entry) ClientOption {
	return func(c *Client) { c.log = log }
}

// WithClientSink publishes every source, connection and progress event to sink
func WithClientSink(sink events.Sink) ClientOption {
	return func(c *Client) { c.sink = sink }
}

// WithClientMetrics records client metrics
func WithClientMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client
func NewClient(cfg *config.Config, opts ...ClientOption) *Client {
	c := &Client{config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if c.metrics != nil {
		c.sink = events.Multi{c.sink, c.metrics}
	}
	return c
}

// Run uploads the configured input once and returns the server's summary
func (c *Client) Run(ctx context.Context) (*protocol.TurnEnd, error) {
	url, err := c.resolveURL(ctx)
	if err != nil {
		return nil, err
	}

	cc := c.config.Client
	input, err := NewInput(cc, c.config.Audio.Format(), c.log, c.sink)
	if err != nil {
		return nil, err
	}

	formatter := transport.Formatter(transport.SpeechFormatter{})
	if cc.Formatter == "json" {
		formatter = transport.JSONFormatter{}
	}

	opts := []Option{WithLogger(c.log), WithSink(c.sink), WithMetrics(c.metrics)}
	if cc.Monitor {
		out, err := output.New(cc.Output, output.WithLogger(c.log))
		if err != nil {
			return nil, fmt.Errorf("failed to create monitor output: %w", err)
		}
		opts = append(opts, WithMonitor(out))
	}

	uploader := New(input.Source, Config{
		URL:               url,
		Query:             cc.Query,
		Formatter:         formatter,
		SourceName:        input.Name,
		ReconnectAttempts: cc.ReconnectAttempts,
		ReconnectBackoff:  cc.ReconnectBackoff,
	}, opts...)
	c.log.WithFields(logrus.Fields{
		"url":        url,
		"source":     input.Name,
		"request_id": uploader.RequestID(),
	}).Info("Starting upload")

	var end *protocol.TurnEnd
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return input.Feed(gctx) })
	g.Go(func() error {
		var err error
		end, err = uploader.Run(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return end, nil
}

// resolveURL returns the configured URL or browses mDNS for a server
func (c *Client) resolveURL(ctx context.Context) (string, error) {
	if c.config.Client.URL != "" {
		return c.config.Client.URL, nil
	}

	m := discovery.NewManager(discovery.Config{Logger: c.log})
	lookupCtx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()
	server, err := m.Lookup(lookupCtx)
	if err != nil {
		return "", err
	}
	c.log.WithFields(logrus.Fields{"name": server.Name, "url": server.URL()}).Info("Discovered server")
	return server.URL(), nil
}
