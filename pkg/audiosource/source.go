// ABOUTME: Audio source and node contracts shared by microphone, file, push and pull sources
// ABOUTME: Holds the common turn-on, attach and detach bookkeeping with lifecycle events
package audiosource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/events"
	"github.com/speechlink/speechlink-go/pkg/stream"
)

var (
	// ErrCapability means the platform lacks something the source needs
	ErrCapability = errors.New("capability unavailable")
	// ErrValidation means the source input was rejected before any read
	ErrValidation = errors.New("invalid audio input")
	// ErrPermission means access to the capture device was refused
	ErrPermission = errors.New("audio capture permission denied")
	// ErrNodeExists is returned when attaching a node id twice
	ErrNodeExists = errors.New("node already attached")
)

// Source produces audio for attached nodes
type Source interface {
	ID() string
	Format() audio.Format
	TurnOn(ctx context.Context) error
	Attach(ctx context.Context, nodeID string) (Node, error)
	Detach(nodeID string)
	TurnOff(ctx context.Context) error
	Events() *events.Source[Event]
}

// Node is the read handle a consumer gets from Attach
type Node interface {
	ID() string
	Read(ctx context.Context) (stream.Chunk[[]byte], error)
	Detach() error
}

type settings struct {
	id             string
	log            *logrus.Entry
	sink           events.Sink
	maxFileBytes   int64
	uploadInterval time.Duration
	recorder       Recorder
	backend        CaptureBackend
	captureRate    int
}

// Option configures a source
type Option func(*settings)

// WithID sets the source id instead of a random one
func WithID(id string) Option {
	return func(s *settings) { s.id = id }
}

// WithLogger sets the logger
func WithLogger(log *logrus.Entry) Option {
	return func(s *settings) { s.log = log }
}

// WithSink forwards every lifecycle event to a diagnostics sink
func WithSink(sink events.Sink) Option {
	return func(s *settings) { s.sink = sink }
}

func newSettings(opts []Option) settings {
	s := settings{
		maxFileBytes:   DefaultMaxFileBytes,
		uploadInterval: DefaultUploadInterval,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return s
}

// attachment is one live node registration
type attachment struct {
	stream *stream.Stream[[]byte]
	stop   func()
}

// base implements the lifecycle shared by all sources
type base struct {
	id     string
	kind   string
	log    *logrus.Entry
	events *events.Source[Event]

	turnOnGroup singleflight.Group

	mu    sync.Mutex
	on    bool
	nodes map[string]*attachment
}

func newBase(kind string, s settings) *base {
	b := &base{
		id:     s.id,
		kind:   kind,
		log:    s.log.WithFields(logrus.Fields{"component": "audiosource", "source": kind, "source_id": s.id}),
		events: events.NewSource[Event](),
		nodes:  make(map[string]*attachment),
	}
	events.Forward(b.events, s.sink, "audio.source")
	return b
}

// ID returns the source id
func (b *base) ID() string { return b.id }

// Events returns the lifecycle event feed
func (b *base) Events() *events.Source[Event] { return b.events }

// IsOn reports whether turn-on completed
func (b *base) IsOn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.on
}

func (b *base) emit(kind EventKind, nodeID string, err error) {
	ev := Event{Kind: kind, SourceID: b.id, NodeID: nodeID, Err: err, Time: time.Now()}
	if err != nil {
		ev.Message = err.Error()
	}
	b.events.Emit(ev)
}

// turnOn runs init at most once at a time. Concurrent callers share the
// in-flight result; a failure is forgotten so the next call retries.
func (b *base) turnOn(ctx context.Context, init func(ctx context.Context) error) error {
	if b.IsOn() {
		return nil
	}

	_, err, _ := b.turnOnGroup.Do("turn-on", func() (any, error) {
		if b.IsOn() {
			return nil, nil
		}
		b.emit(EventInitializing, "", nil)
		if err := init(ctx); err != nil {
			b.log.WithError(err).Warn("Audio source failed to turn on")
			b.emit(EventError, "", err)
			return nil, err
		}
		b.mu.Lock()
		b.on = true
		b.mu.Unlock()
		b.log.Debug("Audio source ready")
		b.emit(EventReady, "", nil)
		return nil, nil
	})
	return err
}

// attach registers nodeID, turning the source on first, then calls start
// to hook up the producer. start returns the stream the node reads (nil
// when the node reads something else) and a stop func.
func (b *base) attach(ctx context.Context, nodeID string, turnOn func(context.Context) error,
	start func(nodeID string) (*attachment, error)) (*attachment, error) {

	b.emit(EventNodeAttaching, nodeID, nil)

	if err := turnOn(ctx); err != nil {
		b.emit(EventNodeError, nodeID, err)
		return nil, err
	}

	// reserve the id so a concurrent attach of the same id fails
	pending := &attachment{}
	b.mu.Lock()
	if _, ok := b.nodes[nodeID]; ok {
		b.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrNodeExists, nodeID)
		b.emit(EventNodeError, nodeID, err)
		return nil, err
	}
	b.nodes[nodeID] = pending
	b.mu.Unlock()

	att, err := start(nodeID)
	if err != nil {
		b.mu.Lock()
		if b.nodes[nodeID] == pending {
			delete(b.nodes, nodeID)
		}
		b.mu.Unlock()
		b.emit(EventNodeError, nodeID, err)
		return nil, err
	}

	b.mu.Lock()
	reserved := b.nodes[nodeID] == pending
	if reserved {
		b.nodes[nodeID] = att
	}
	b.mu.Unlock()

	if !reserved {
		// detached or turned off while starting
		if att.stop != nil {
			att.stop()
		}
		if att.stream != nil {
			att.stream.Close()
		}
		err := fmt.Errorf("node %s detached while attaching", nodeID)
		b.emit(EventNodeError, nodeID, err)
		return nil, err
	}

	b.log.WithField("node", nodeID).Debug("Node attached")
	b.emit(EventNodeAttached, nodeID, nil)
	return att, nil
}

// Detach stops the producer for nodeID and closes its stream
func (b *base) Detach(nodeID string) {
	b.mu.Lock()
	att, ok := b.nodes[nodeID]
	delete(b.nodes, nodeID)
	b.mu.Unlock()

	if !ok {
		return
	}
	if att.stop != nil {
		att.stop()
	}
	if att.stream != nil {
		att.stream.Close()
	}
	b.log.WithField("node", nodeID).Debug("Node detached")
	b.emit(EventNodeDetached, nodeID, nil)
}

// NodeIDs returns the currently attached node ids
func (b *base) NodeIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	return ids
}

// turnOff detaches every node, then runs release
func (b *base) turnOff(release func() error) error {
	for _, id := range b.NodeIDs() {
		b.Detach(id)
	}

	var err error
	if release != nil {
		err = release()
	}

	b.mu.Lock()
	b.on = false
	b.mu.Unlock()

	if err != nil {
		b.emit(EventError, "", err)
		return err
	}
	b.emit(EventOff, "", nil)
	return nil
}

// streamNode reads one attachment stream
type streamNode struct {
	id     string
	reader *stream.Reader[[]byte]
	detach func()
}

func newStreamNode(id string, s *stream.Stream[[]byte], detach func()) (*streamNode, error) {
	r, err := s.Reader()
	if err != nil {
		return nil, err
	}
	return &streamNode{id: id, reader: r, detach: detach}, nil
}

func (n *streamNode) ID() string { return n.id }

func (n *streamNode) Read(ctx context.Context) (stream.Chunk[[]byte], error) {
	return n.reader.Read(ctx)
}

func (n *streamNode) Detach() error {
	n.reader.Release()
	if n.detach != nil {
		n.detach()
	}
	return nil
}
