// ABOUTME: Diagnostics sinks that receive every emitted event under a topic name
// ABOUTME: Sinks are injected into sources and connections instead of a process-wide singleton
package events

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// Named is implemented by events that carry their own kind name
type Named interface {
	EventName() string
}

// Sink receives diagnostic events published under a topic
type Sink interface {
	Publish(topic string, ev any)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(topic string, ev any)

// Publish calls f
func (f SinkFunc) Publish(topic string, ev any) { f(topic, ev) }

// Discard drops every event
var Discard Sink = SinkFunc(func(string, any) {})

// Forward attaches a listener on src that republishes each event to sink.
// The returned func detaches it.
func Forward[T any](src *Source[T], sink Sink, topic string) func() {
	if sink == nil {
		return func() {}
	}
	id := src.Attach(func(ev T) {
		sink.Publish(topic, ev)
	})
	return func() { src.Detach(id) }
}

// Multi fans one publish out to several sinks
type Multi []Sink

// Publish forwards to each non-nil sink
func (m Multi) Publish(topic string, ev any) {
	for _, s := range m {
		if s != nil {
			s.Publish(topic, ev)
		}
	}
}

// LogSink writes events to a logrus logger at debug level, errors at warn
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink creates a sink logging through entry
func NewLogSink(entry *logrus.Entry) *LogSink {
	return &LogSink{log: entry}
}

// Publish logs the event
func (l *LogSink) Publish(topic string, ev any) {
	entry := l.log.WithField("topic", topic)
	name := fmt.Sprintf("%T", ev)
	if n, ok := ev.(Named); ok {
		name = n.EventName()
	}
	if e, ok := ev.(interface{ EventErr() error }); ok && e.EventErr() != nil {
		entry.WithError(e.EventErr()).Warnf("event %s", name)
		return
	}
	entry.Debugf("event %s: %+v", name, ev)
}

// Publisher is the part of *nats.Conn used by NATSSink
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Envelope is the JSON body published to NATS
type Envelope struct {
	Topic   string    `json:"topic"`
	Name    string    `json:"name"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// NATSSink publishes events as JSON to <prefix>.<topic>
type NATSSink struct {
	conn   Publisher
	prefix string
	log    *logrus.Entry

	mu       sync.Mutex
	failures int
}

// NewNATSSink creates a NATS-backed sink. conn is usually a *nats.Conn.
func NewNATSSink(conn Publisher, prefix string, log *logrus.Entry) *NATSSink {
	return &NATSSink{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		log:    log,
	}
}

// Publish marshals and sends the event; failures are logged and counted
func (n *NATSSink) Publish(topic string, ev any) {
	name := fmt.Sprintf("%T", ev)
	if nm, ok := ev.(Named); ok {
		name = nm.EventName()
	}

	data, err := json.Marshal(Envelope{Topic: topic, Name: name, Time: time.Now(), Payload: ev})
	if err != nil {
		n.fail(fmt.Errorf("marshal %s: %w", name, err))
		return
	}

	subject := topic
	if n.prefix != "" {
		subject = n.prefix + "." + topic
	}
	if err := n.conn.Publish(subject, data); err != nil {
		n.fail(fmt.Errorf("publish %s: %w", subject, err))
	}
}

// Failures returns the number of events that could not be published
func (n *NATSSink) Failures() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failures
}

func (n *NATSSink) fail(err error) {
	n.mu.Lock()
	n.failures++
	n.mu.Unlock()
	if n.log != nil {
		n.log.WithError(err).Warn("diagnostic event dropped")
	}
}
