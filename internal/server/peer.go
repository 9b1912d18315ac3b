// ABOUTME: Per-connection handling for the ingest server
// ABOUTME: A writer goroutine owns socket writes; acks go out on a ticker through the same queue
package server

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/speechlink/speechlink-go/internal/protocol"
	"github.com/speechlink/speechlink-go/pkg/transport"
)

var errSendBufferFull = errors.New("client send buffer full")

// peer is the server side of one upload connection
type peer struct {
	conn      *websocket.Conn
	formatter transport.Formatter
	sendChan  chan *transport.Message
	log       *logrus.Entry
}

// readMessage reads one frame. With a nil formatter the encoding is
// detected from the frame and returned for the rest of the connection.
func readMessage(conn *websocket.Conn, f transport.Formatter) (*transport.Message, transport.Formatter, error) {
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return nil, f, err
	}
	raw := transport.RawMessage{Type: transport.MessageText, Payload: data}
	if mt == websocket.BinaryMessage {
		raw.Type = transport.MessageBinary
	}
	if f == nil {
		f = transport.SpeechFormatter{}
		if raw.Type == transport.MessageText && bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
			f = transport.JSONFormatter{}
		}
	}
	msg, err := f.FromRaw(raw)
	return msg, f, err
}

// send queues msg for the writer without blocking the read loop
func (p *peer) send(msg *transport.Message) error {
	select {
	case p.sendChan <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

func (p *peer) writer(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-p.sendChan:
			raw, err := p.formatter.ToRaw(msg)
			if err != nil {
				p.log.WithError(err).Warn("Error encoding message")
				continue
			}
			mt := websocket.TextMessage
			if raw.Type == transport.MessageBinary {
				mt = websocket.BinaryMessage
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := p.conn.WriteMessage(mt, raw.Payload); err != nil {
				p.log.WithError(err).Debug("Error writing message")
				return
			}

		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// acker sends an ack whenever the stored position moved since the last one
func (s *Server) acker(ctx context.Context, p *peer, sess *session) {
	ticker := time.NewTicker(s.config.AckInterval)
	defer ticker.Stop()

	var last int64 = -1
	for {
		select {
		case <-ticker.C:
			ack := sess.ack()
			if ack.Received == last {
				continue
			}
			if err := s.sendAck(p, sess.id, ack); err != nil {
				p.log.WithError(err).Debug("Failed to queue ack")
				continue
			}
			last = ack.Received
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) sendAck(p *peer, requestID string, ack protocol.Ack) error {
	msg, err := protocol.NewAck(requestID, ack)
	if err != nil {
		return err
	}
	if err := p.send(msg); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordAck()
	}
	return nil
}

func reject(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// handleConnection serves one upload connection until the client goes away
func (s *Server) handleConnection(conn *websocket.Conn, remote string) {
	defer conn.Close()
	log := s.log.WithField("remote", remote)

	first, formatter, err := readMessage(conn, nil)
	if err != nil {
		log.WithError(err).Warn("Error reading speech.config")
		return
	}
	if first.Path() != protocol.PathSpeechConfig {
		log.WithField("path", first.Path()).Warn("Expected speech.config first")
		reject(conn, websocket.ClosePolicyViolation, "expected speech.config")
		return
	}
	requestID := first.Header(transport.HeaderRequestID)
	if requestID == "" {
		reject(conn, websocket.ClosePolicyViolation, "missing X-RequestId")
		return
	}
	var cfg protocol.SpeechConfig
	if err := protocol.DecodeBody(first, &cfg); err != nil {
		reject(conn, websocket.CloseUnsupportedData, err.Error())
		return
	}

	sess, resumed, err := s.openSession(requestID, cfg)
	if err != nil {
		log.WithError(err).Warn("Rejecting upload")
		reject(conn, websocket.CloseUnsupportedData, err.Error())
		return
	}
	if !sess.attach() {
		reject(conn, websocket.ClosePolicyViolation, "request already streaming")
		return
	}

	log = log.WithField("request_id", requestID)
	kind := SessionStarted
	if resumed {
		kind = SessionResumed
	} else if s.metrics != nil {
		s.metrics.SessionStarted()
	}
	log.WithFields(logrus.Fields{"source": cfg.Source, "encoding": cfg.Format.Encoding}).Infof("Session %s", kind)
	s.publish(SessionEvent{Kind: kind, RequestID: requestID, Remote: remote, Source: cfg.Source})

	p := &peer{
		conn:      conn,
		formatter: formatter,
		sendChan:  make(chan *transport.Message, sendBufferSize),
		log:       log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.writer(ctx)
	go s.acker(ctx, p, sess)

	count, dropped := 0, false
	for {
		msg, _, err := readMessage(conn, formatter)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("Connection closed")
			}
			break
		}
		if msg.Path() != protocol.PathAudio {
			log.WithField("path", msg.Path()).Debug("Ignoring message")
			continue
		}

		count++
		if len(msg.BinaryBody) == 0 {
			s.finishTurn(p, sess)
			continue
		}

		offset, err := protocol.Int64Header(msg, protocol.HeaderStreamOffset)
		if err != nil {
			log.WithError(err).Warn("Dropping audio message")
			continue
		}
		pcm, err := sess.write(offset, msg.BinaryBody)
		if err != nil {
			log.WithError(err).Warn("Failed to store audio")
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordAudio(len(pcm))
		}
		if s.config.Echo && len(pcm) > 0 {
			if err := p.send(protocol.NewEcho(requestID, pcm)); err != nil {
				log.WithError(err).Debug("Skipping echo")
			}
		}

		if sess.shouldDrop(count, s.config.DropAfter) {
			dropped = true
			break
		}
	}

	// release the session before the socket so a reconnect can resume it
	sess.detach()
	if !sess.isFinished() {
		s.scheduleExpiry(sess)
	}
	if dropped {
		log.WithField("messages", count).Info("Dropping connection")
		s.publish(SessionEvent{Kind: SessionDropped, RequestID: requestID, Remote: remote})
		_ = conn.UnderlyingConn().Close()
	}
}

// finishTurn acks everything, closes the recording and reports it
func (s *Server) finishTurn(p *peer, sess *session) {
	if sess.isFinished() {
		return
	}
	if err := s.sendAck(p, sess.id, sess.ack()); err != nil {
		p.log.WithError(err).Warn("Failed to queue final ack")
	}
	s.removeSession(sess.id)
	end := s.endSession(sess, SessionEnded)

	msg, err := protocol.NewTurnEnd(sess.id, end)
	if err != nil {
		p.log.WithError(err).Warn("Failed to build turn.end")
		return
	}
	if err := p.send(msg); err != nil {
		p.log.WithError(err).Warn("Failed to queue turn.end")
	}
	p.log.WithFields(logrus.Fields{"file": end.File, "bytes": end.Bytes}).Info("Turn complete")
}
