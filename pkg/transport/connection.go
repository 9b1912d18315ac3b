// ABOUTME: Websocket connection with a None, Connecting, Connected, Disconnected state machine
// ABOUTME: A single writer goroutine sends queued messages in order and acknowledges each one
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/speechlink/speechlink-go/internal/queue"
	"github.com/speechlink/speechlink-go/pkg/events"
)

var (
	// ErrNotConnected is returned by Send and Read outside the Connected state
	ErrNotConnected = errors.New("connection is not connected")
	// ErrDisconnected is returned when opening a connection that already ended
	ErrDisconnected = errors.New("connection is disconnected")
)

// CloseError reports why the socket closed
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Reason)
}

// State is the connection lifecycle state
type State int

const (
	StateNone State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// OpenResponse is the outcome of Open. A refused handshake is reported
// here rather than as an error.
type OpenResponse struct {
	StatusCode int
	Reason     string
}

// OK reports whether the connection was established
func (r *OpenResponse) OK() bool {
	return r != nil && r.StatusCode == http.StatusOK
}

const closeWriteTimeout = time.Second

type sendItem struct {
	msg    *Message
	result chan error
}

// Option configures a Connection
type Option func(*Connection)

// WithID sets the connection id
func WithID(id string) Option {
	return func(c *Connection) { c.id = id }
}

// WithFormatter sets the wire formatter (SpeechFormatter by default)
func WithFormatter(f Formatter) Option {
	return func(c *Connection) { c.formatter = f }
}

// WithQuery adds query parameters to the connection URI
func WithQuery(params map[string]string) Option {
	return func(c *Connection) {
		for k, v := range params {
			c.query[k] = v
		}
	}
}

// WithHeader adds a handshake header
func WithHeader(name, value string) Option {
	return func(c *Connection) { c.headers.Add(name, value) }
}

// WithDialer replaces the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Connection) { c.dialer = d }
}

// WithLogger sets the logger
func WithLogger(log *logrus.Entry) Option {
	return func(c *Connection) { c.log = log }
}

// WithSink forwards every connection event to a diagnostics sink
func WithSink(sink events.Sink) Option {
	return func(c *Connection) { c.sink = sink }
}

// Connection is one websocket connection. It cannot be reopened once it
// has disconnected; create a new one instead.
type Connection struct {
	id        string
	uri       string
	query     map[string]string
	headers   http.Header
	formatter Formatter
	dialer    *websocket.Dialer
	log       *logrus.Entry
	sink      events.Sink
	events    *events.Source[Event]

	mu       sync.Mutex
	state    State
	openDone chan struct{}
	openResp *OpenResponse
	conn     *websocket.Conn
	closeErr *CloseError

	sendQueue *queue.Queue[*sendItem]
	recvQueue *queue.Queue[*Message]

	disconnectOnce sync.Once
	done           chan struct{}
}

// NewConnection creates a connection to uri. Nothing is dialed until Open.
func NewConnection(uri string, opts ...Option) *Connection {
	c := &Connection{
		uri:       uri,
		query:     make(map[string]string),
		headers:   make(http.Header),
		formatter: SpeechFormatter{},
		dialer:    websocket.DefaultDialer,
		events:    events.NewSource[Event](),
		sendQueue: queue.New[*sendItem](),
		recvQueue: queue.New[*Message](),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	c.log = c.log.WithFields(logrus.Fields{"component": "transport", "connection_id": c.id})
	events.Forward(c.events, c.sink, "transport.connection")
	return c
}

// ID returns the connection id
func (c *Connection) ID() string { return c.id }

// URI returns the full URI including query parameters
func (c *Connection) URI() string {
	u, err := BuildURI(c.uri, c.query)
	if err != nil {
		return c.uri
	}
	return u
}

// State returns the current state
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns the connection event feed
func (c *Connection) Events() *events.Source[Event] { return c.events }

// Done is closed once the connection is disconnected
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) emit(ev Event) {
	ev.ConnectionID = c.id
	ev.Time = time.Now()
	c.events.Emit(ev)
}

// Open dials the server. Concurrent and repeated calls share one attempt
// and get the same response. The first caller's ctx bounds the dial.
func (c *Connection) Open(ctx context.Context) (*OpenResponse, error) {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected:
		c.mu.Unlock()
		return nil, ErrDisconnected
	case StateConnecting, StateConnected:
		done := c.openDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
		resp := c.openResp
		c.mu.Unlock()
		return resp, nil
	}
	c.state = StateConnecting
	c.openDone = make(chan struct{})
	c.mu.Unlock()

	uri := c.URI()
	c.log.WithField("uri", uri).Debug("Connecting")
	c.emit(Event{Kind: EventConnecting})

	conn, httpResp, err := c.dialer.DialContext(ctx, uri, c.headers)
	if err != nil {
		resp := &OpenResponse{StatusCode: websocket.CloseAbnormalClosure, Reason: err.Error()}
		if httpResp != nil {
			resp.StatusCode = httpResp.StatusCode
			resp.Reason = fmt.Sprintf("%s: %v", httpResp.Status, err)
			httpResp.Body.Close()
		}

		c.mu.Lock()
		c.state = StateDisconnected
		c.openResp = resp
		close(c.openDone)
		c.mu.Unlock()

		c.disconnectOnce.Do(func() {
			cerr := &CloseError{Code: resp.StatusCode, Reason: resp.Reason}
			c.sendQueue.Dispose(cerr)
			c.recvQueue.Dispose(cerr)
			close(c.done)
		})

		c.log.WithField("status", resp.StatusCode).WithError(err).Warn("Connection refused")
		c.emit(Event{Kind: EventConnectFailed, StatusCode: resp.StatusCode, Reason: resp.Reason, Err: err})
		return resp, nil
	}

	resp := &OpenResponse{StatusCode: http.StatusOK}
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.openResp = resp
	close(c.openDone)
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)

	c.log.Info("Connected")
	c.emit(Event{Kind: EventConnected, StatusCode: resp.StatusCode})
	return resp, nil
}

// Send queues msg and waits until it was written to the socket or failed
func (c *Connection) Send(ctx context.Context, msg *Message) error {
	result, err := c.SendAsync(msg)
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendAsync queues msg and returns a channel that receives the outcome of
// writing that message. Messages are written in the order they were queued.
func (c *Connection) SendAsync(msg *Message) (<-chan error, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	item := &sendItem{msg: msg, result: make(chan error, 1)}
	if err := c.sendQueue.Enqueue(item); err != nil {
		return nil, err
	}
	return item.result, nil
}

// Read returns the next inbound message
func (c *Connection) Read(ctx context.Context) (*Message, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	return c.recvQueue.Dequeue(ctx)
}

// Close sends a normal close frame with reason and disconnects. It is a
// no-op when no socket was ever opened.
func (c *Connection) Close(reason string) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil || state == StateDisconnected {
		return nil
	}

	frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	werr := conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(closeWriteTimeout))
	if werr != nil && errors.Is(werr, websocket.ErrCloseSent) {
		werr = nil
	}
	c.disconnect(websocket.CloseNormalClosure, reason)
	return werr
}

// disconnect moves to Disconnected and rejects every queued send and
// pending read with the close reason
func (c *Connection) disconnect(code int, reason string) {
	c.disconnectOnce.Do(func() {
		cerr := &CloseError{Code: code, Reason: reason}

		c.mu.Lock()
		c.state = StateDisconnected
		c.closeErr = cerr
		conn := c.conn
		c.mu.Unlock()

		for _, item := range c.sendQueue.Dispose(cerr) {
			item.result <- cerr
		}
		c.recvQueue.Dispose(cerr)
		if conn != nil {
			conn.Close()
		}
		close(c.done)

		c.log.WithFields(logrus.Fields{"code": code, "reason": reason}).Info("Disconnected")
		c.emit(Event{Kind: EventDisconnected, StatusCode: code, Reason: reason})
	})
}

func (c *Connection) writeLoop(conn *websocket.Conn) {
	for {
		item, err := c.sendQueue.Dequeue(context.Background())
		if err != nil {
			return
		}

		raw, err := c.formatter.ToRaw(item.msg)
		if err == nil {
			frameType := websocket.TextMessage
			if raw.Type == MessageBinary {
				frameType = websocket.BinaryMessage
			}
			err = conn.WriteMessage(frameType, raw.Payload)
		}
		if err != nil {
			err = c.pendingSendErr(err)
		}
		item.result <- err

		if err != nil {
			c.log.WithError(err).WithField("message_id", item.msg.ID).Warn("Send failed")
			c.emit(Event{Kind: EventSendFailed, MessageID: item.msg.ID, Path: item.msg.Path(), Err: err})
			continue
		}
		c.emit(Event{Kind: EventMessageSent, MessageID: item.msg.ID, Path: item.msg.Path(), Bytes: len(raw.Payload)})
	}
}

// pendingSendErr reports a failed write as the close error when the socket
// went away while the message was in flight
func (c *Connection) pendingSendErr(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return err
}

func (c *Connection) readLoop(conn *websocket.Conn) {
	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseAbnormalClosure, err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			}
			c.disconnect(code, reason)
			return
		}

		raw := RawMessage{ID: uuid.NewString(), Type: MessageText, Payload: data}
		if frameType == websocket.BinaryMessage {
			raw.Type = MessageBinary
		}
		msg, err := c.formatter.FromRaw(raw)
		if err != nil {
			c.log.WithError(err).Warn("Dropping undecodable frame")
			continue
		}
		if err := c.recvQueue.Enqueue(msg); err != nil {
			return
		}
		c.emit(Event{Kind: EventMessageReceived, MessageID: msg.ID, Path: msg.Path(), Bytes: len(data)})
	}
}

// BuildURI appends params to base as a percent-encoded query, keeping any
// query base already has
func BuildURI(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse uri: %w", err)
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = strings.ReplaceAll(q.Encode(), "+", "%20")
	return u.String(), nil
}
