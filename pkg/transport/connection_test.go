// ABOUTME: Tests for the websocket connection state machine and queues
// ABOUTME: Runs against an httptest server using the gorilla upgrader
package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades every request and hands the server side of the
// socket to handle
func echoServer(t *testing.T, handle func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOpenConnectsAndSharesResponse(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConnection(wsURL(srv))
	assert.Equal(t, StateNone, c.State())

	var wg sync.WaitGroup
	responses := make([]*OpenResponse, 4)
	for i := range responses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := c.Open(testCtx(t))
			assert.NoError(t, err)
			responses[i] = resp
		}(i)
	}
	wg.Wait()

	require.NotNil(t, responses[0])
	assert.True(t, responses[0].OK())
	for _, r := range responses[1:] {
		assert.Same(t, responses[0], r)
	}
	assert.Equal(t, StateConnected, c.State())

	again, err := c.Open(testCtx(t))
	require.NoError(t, err)
	assert.Same(t, responses[0], again)

	require.NoError(t, c.Close("done"))
	assert.Equal(t, StateDisconnected, c.State())

	_, err = c.Open(testCtx(t))
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestOpenRefusedHandshakeResolvesWithFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "go away", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewConnection(wsURL(srv))
	var kinds []EventKind
	c.Events().Attach(func(ev Event) { kinds = append(kinds, ev.Kind) })

	resp, err := c.Open(testCtx(t))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotEmpty(t, resp.Reason)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, []EventKind{EventConnecting, EventConnectFailed}, kinds)

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed after refused handshake")
	}
}

func TestSendAndReadRequireConnected(t *testing.T) {
	c := NewConnection("ws://127.0.0.1:1/never")

	err := c.Send(testCtx(t), NewTextMessage(nil, "hi"))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.Read(testCtx(t))
	assert.ErrorIs(t, err, ErrNotConnected)

	// Closing a connection that never opened is a no-op
	assert.NoError(t, c.Close("bye"))
	assert.Equal(t, StateNone, c.State())
}

// slowFormatter delays the first message so a later one would overtake it
// if writes were not strictly ordered
type slowFormatter struct {
	SpeechFormatter
	once sync.Once
}

func (f *slowFormatter) ToRaw(msg *Message) (RawMessage, error) {
	f.once.Do(func() { time.Sleep(50 * time.Millisecond) })
	return f.SpeechFormatter.ToRaw(msg)
}

func TestSendPreservesQueueOrder(t *testing.T) {
	received := make(chan string, 10)
	srv := echoServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := SpeechFormatter{}.FromRaw(RawMessage{Type: MessageText, Payload: data})
			if err != nil {
				return
			}
			received <- msg.TextBody
		}
	})

	c := NewConnection(wsURL(srv), WithFormatter(&slowFormatter{}))
	resp, err := c.Open(testCtx(t))
	require.NoError(t, err)
	require.True(t, resp.OK())

	var results []<-chan error
	for _, body := range []string{"S1", "S2", "S3"} {
		res, err := c.SendAsync(NewTextMessage(map[string]string{HeaderPath: "test"}, body))
		require.NoError(t, err)
		results = append(results, res)
	}
	for _, res := range results {
		assert.NoError(t, <-res)
	}

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case body := <-received:
			got = append(got, body)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}
	assert.Equal(t, []string{"S1", "S2", "S3"}, got)
	require.NoError(t, c.Close("done"))
}

func TestReadDecodesInboundFrames(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		raw, _ := SpeechFormatter{}.ToRaw(NewBinaryMessage(map[string]string{HeaderPath: "audio.echo"}, []byte{1, 2, 3}))
		_ = conn.WriteMessage(websocket.BinaryMessage, raw.Payload)
		raw, _ = SpeechFormatter{}.ToRaw(NewTextMessage(map[string]string{HeaderPath: "audio.ack", HeaderOffset: "1250000"}, ""))
		_ = conn.WriteMessage(websocket.TextMessage, raw.Payload)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConnection(wsURL(srv))
	_, err := c.Open(testCtx(t))
	require.NoError(t, err)

	first, err := c.Read(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, MessageBinary, first.Type)
	assert.Equal(t, "audio.echo", first.Path())
	assert.Equal(t, []byte{1, 2, 3}, first.BinaryBody)

	second, err := c.Read(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "audio.ack", second.Path())
	assert.Equal(t, "1250000", second.Header("x-offset"))

	require.NoError(t, c.Close("done"))
}

func TestServerCloseRejectsPendingRead(t *testing.T) {
	closeNow := make(chan struct{})
	srv := echoServer(t, func(conn *websocket.Conn) {
		<-closeNow
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	})

	c := NewConnection(wsURL(srv))
	_, err := c.Open(testCtx(t))
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() {
		_, err := c.Read(testCtx(t))
		readErr <- err
	}()

	// Let the read park on the empty queue first
	time.Sleep(50 * time.Millisecond)
	close(closeNow)
	select {
	case err := <-readErr:
		var cerr *CloseError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, websocket.CloseGoingAway, cerr.Code)
		assert.Equal(t, "1001: server shutting down", cerr.Error())
	case <-time.After(2 * time.Second):
		t.Fatal("pending read was not rejected")
	}

	<-c.Done()
	assert.Equal(t, StateDisconnected, c.State())
	assert.ErrorIs(t, c.Send(testCtx(t), NewTextMessage(nil, "late")), ErrNotConnected)
}

// gatedFormatter holds the first message inside the writer until released
type gatedFormatter struct {
	SpeechFormatter
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *gatedFormatter) ToRaw(msg *Message) (RawMessage, error) {
	f.once.Do(func() {
		close(f.entered)
		<-f.release
	})
	return f.SpeechFormatter.ToRaw(msg)
}

func TestServerCloseRejectsPendingSends(t *testing.T) {
	closeNow := make(chan struct{})
	srv := echoServer(t, func(conn *websocket.Conn) {
		<-closeNow
		msg := websocket.FormatCloseMessage(4001, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	f := &gatedFormatter{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewConnection(wsURL(srv), WithFormatter(f))
	_, err := c.Open(testCtx(t))
	require.NoError(t, err)

	var results []<-chan error
	for _, body := range []string{"S1", "S2", "S3"} {
		res, err := c.SendAsync(NewTextMessage(map[string]string{HeaderPath: "test"}, body))
		require.NoError(t, err)
		results = append(results, res)
	}

	// S1 is in the writer, S2 and S3 are still queued
	<-f.entered
	close(closeNow)
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not see the server close")
	}
	close(f.release)

	for i, res := range results {
		select {
		case err := <-res:
			var cerr *CloseError
			require.ErrorAs(t, err, &cerr, "send %d", i+1)
			assert.Equal(t, 4001, cerr.Code)
			assert.Equal(t, "4001: bye", cerr.Error())
		case <-time.After(2 * time.Second):
			t.Fatalf("send %d was not rejected", i+1)
		}
	}
}

func TestCloseBeforeOpenIsNoop(t *testing.T) {
	srv := echoServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConnection(wsURL(srv))
	var kinds []EventKind
	c.Events().Attach(func(ev Event) { kinds = append(kinds, ev.Kind) })

	require.NoError(t, c.Close("never opened"))
	require.NoError(t, c.Close("twice"))
	assert.Equal(t, StateNone, c.State())
	assert.Empty(t, kinds)
	select {
	case <-c.Done():
		t.Fatal("done closed without a socket")
	default:
	}

	// the connection is still usable
	resp, err := c.Open(testCtx(t))
	require.NoError(t, err)
	assert.True(t, resp.OK())
	require.NoError(t, c.Close("done"))
	assert.Equal(t, StateDisconnected, c.State())
}

func TestQueryAndHeadersReachServer(t *testing.T) {
	seen := make(chan *http.Request, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c := NewConnection(wsURL(srv)+"/speech?existing=1",
		WithQuery(map[string]string{"language": "en US", "format": "a&b"}),
		WithHeader("X-ConnectionId", "abc"),
	)
	_, err := c.Open(testCtx(t))
	require.NoError(t, err)

	r := <-seen
	assert.Equal(t, "/speech", r.URL.Path)
	assert.Equal(t, "1", r.URL.Query().Get("existing"))
	assert.Equal(t, "en US", r.URL.Query().Get("language"))
	assert.Equal(t, "a&b", r.URL.Query().Get("format"))
	assert.Contains(t, r.URL.RawQuery, "language=en%20US")
	assert.Equal(t, "abc", r.Header.Get("X-ConnectionId"))

	require.NoError(t, c.Close("done"))
}

func TestBuildURI(t *testing.T) {
	tests := []struct {
		base   string
		params map[string]string
		want   string
	}{
		{"wss://host/path", nil, "wss://host/path"},
		{"wss://host/path", map[string]string{"a": "1", "b": "x y"}, "wss://host/path?a=1&b=x%20y"},
		{"wss://host/path?z=9", map[string]string{"a": "é"}, "wss://host/path?a=%C3%A9&z=9"},
	}
	for _, tt := range tests {
		got, err := BuildURI(tt.base, tt.params)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := BuildURI("://bad", nil)
	assert.Error(t, err)
}
