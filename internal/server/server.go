// ABOUTME: Local ingest server for speechlink uploads
// ABOUTME: Accepts websocket uploads, stores each turn as WAV and acknowledges stored audio
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/speechlink/speechlink-go/internal/discovery"
	"github.com/speechlink/speechlink-go/internal/metrics"
	"github.com/speechlink/speechlink-go/internal/protocol"
	"github.com/speechlink/speechlink-go/pkg/events"
)

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 128

	// DefaultSessionTimeout is how long a disconnected session waits for
	// its uploader to reconnect
	DefaultSessionTimeout = 30 * time.Second
)

// Config holds server configuration
type Config struct {
	Addr           string
	Path           string
	Name           string
	OutputDir      string
	AckInterval    time.Duration
	Echo           bool
	Advertise      bool
	DropAfter      int
	SessionTimeout time.Duration
}

// Server accepts uploads
type Server struct {
	config  Config
	log     *logrus.Entry
	sink    events.Sink
	metrics *metrics.Metrics

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server

	sessions   map[string]*session
	sessionsMu sync.Mutex
	expiry     map[string]*time.Timer

	mdnsManager *discovery.Manager

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(log *logrus.Entry) Option {
	return func(s *Server) { s.log = log }
}

// WithSink publishes session events to sink
func WithSink(sink events.Sink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithMetrics records ingest metrics and serves them on /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new server instance
func New(config Config, opts ...Option) *Server {
	if config.Path == "" {
		config.Path = "/speech"
	}
	if config.AckInterval <= 0 {
		config.AckInterval = 500 * time.Millisecond
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = DefaultSessionTimeout
	}
	if config.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		config.Name = hostname + "-speechlink-server"
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Local development endpoint; any origin may upload
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
		expiry:   make(map[string]*time.Timer),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithField("component", "server")

	s.mux.HandleFunc(config.Path, s.handleWebSocket)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return s
}

// Handler returns the HTTP handler serving uploads, metrics and health
func (s *Server) Handler() http.Handler { return s.mux }

// Start listens on the configured address and blocks until Stop or a
// listener failure
func (s *Server) Start() error {
	if s.config.OutputDir != "" {
		if err := os.MkdirAll(s.config.OutputDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.log.WithFields(logrus.Fields{
		"addr": ln.Addr().String(),
		"path": s.config.Path,
	}).Info("Ingest server listening")

	if s.config.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        port,
			Path:        s.config.Path,
			Logger:      s.log,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			s.log.WithError(err).Warn("Failed to start mDNS advertisement")
		}
	}

	s.httpServer = &http.Server{Handler: s.mux}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		s.log.Info("Server shutting down")
	case err := <-errChan:
		s.log.WithError(err).Error("HTTP server error")
		serverErr = err
	}

	s.shutdown()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("HTTP server shutdown error")
	}

	s.wg.Wait()
	s.log.Info("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// shutdown rejects new connections and finalizes every open session
func (s *Server) shutdown() {
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	s.sessionsMu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		open = append(open, sess)
		delete(s.sessions, id)
	}
	for id, t := range s.expiry {
		t.Stop()
		delete(s.expiry, id)
	}
	s.sessionsMu.Unlock()

	for _, sess := range open {
		s.endSession(sess, SessionAbandoned)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	closed := s.isShutdown
	s.shutdownMu.RUnlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(conn, r.RemoteAddr)
}

// openSession returns the session for id, creating it on first use and
// cancelling a pending expiry when an uploader comes back
func (s *Server) openSession(id string, cfg protocol.SpeechConfig) (*session, bool, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if t, ok := s.expiry[id]; ok {
		t.Stop()
		delete(s.expiry, id)
	}
	if sess, ok := s.sessions[id]; ok {
		return sess, true, nil
	}

	format, err := cfg.Format.Format()
	if err != nil {
		return nil, false, err
	}
	sess, err := newSession(id, format, s.config.OutputDir, s.log)
	if err != nil {
		return nil, false, err
	}
	s.sessions[id] = sess
	return sess, false, nil
}

// scheduleExpiry finalizes sess unless its uploader reconnects in time
func (s *Server) scheduleExpiry(sess *session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if _, ok := s.sessions[sess.id]; !ok {
		return
	}
	s.expiry[sess.id] = time.AfterFunc(s.config.SessionTimeout, func() {
		s.sessionsMu.Lock()
		delete(s.expiry, sess.id)
		_, ok := s.sessions[sess.id]
		delete(s.sessions, sess.id)
		s.sessionsMu.Unlock()
		if ok {
			s.endSession(sess, SessionExpired)
		}
	})
}

func (s *Server) removeSession(id string) {
	s.sessionsMu.Lock()
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
}

// endSession finalizes a session that will receive no more audio
func (s *Server) endSession(sess *session, kind SessionEventKind) protocol.TurnEnd {
	end, err := sess.finish()
	if err != nil {
		s.log.WithError(err).WithField("request_id", sess.id).Warn("Failed to finalize recording")
	}
	if s.metrics != nil {
		s.metrics.SessionEnded()
	}
	s.publish(SessionEvent{Kind: kind, RequestID: sess.id, Bytes: end.Bytes, File: end.File, Err: err})
	return end
}

func (s *Server) publish(ev SessionEvent) {
	ev.Time = time.Now()
	if s.sink != nil {
		s.sink.Publish(TopicSession, ev)
	}
}

// SessionCount returns the number of open sessions
func (s *Server) SessionCount() int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return len(s.sessions)
}
