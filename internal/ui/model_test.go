// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests event folding, quitting and rendering
package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/speechlink/speechlink-go/internal/app"
	"github.com/speechlink/speechlink-go/internal/protocol"
	"github.com/speechlink/speechlink-go/internal/server"
	"github.com/speechlink/speechlink-go/pkg/audiosource"
	"github.com/speechlink/speechlink-go/pkg/transport"
)

func update(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestNewModel(t *testing.T) {
	model := NewModel("speechlink", nil)

	if model.connState != "idle" {
		t.Errorf("expected connState 'idle', got '%s'", model.connState)
	}
	if model.sourceState != "off" {
		t.Errorf("expected sourceState 'off', got '%s'", model.sourceState)
	}
	if model.sessions == nil {
		t.Error("sessions map should be initialized")
	}
}

func TestConnectionEvents(t *testing.T) {
	model := NewModel("speechlink", nil)

	model = update(model, EventMsg{Event: transport.Event{Kind: transport.EventConnected}})
	if model.connState != "connected" {
		t.Errorf("expected connected, got %s", model.connState)
	}

	model = update(model, EventMsg{Event: transport.Event{Kind: transport.EventMessageSent, Bytes: 100}})
	model = update(model, EventMsg{Event: transport.Event{Kind: transport.EventMessageSent, Bytes: 50}})
	if model.messagesSent != 2 || model.bytesSent != 150 {
		t.Errorf("expected 2 messages and 150 bytes, got %d and %d", model.messagesSent, model.bytesSent)
	}

	model = update(model, EventMsg{Event: transport.Event{Kind: transport.EventDisconnected, StatusCode: 1006, Reason: "eof"}})
	if model.connState != "disconnected" {
		t.Errorf("expected disconnected, got %s", model.connState)
	}
	if model.lastClose != "1006 eof" {
		t.Errorf("unexpected close reason %q", model.lastClose)
	}
}

func TestSourceEventsIgnoreNodeChanges(t *testing.T) {
	model := NewModel("speechlink", nil)

	model = update(model, EventMsg{Event: audiosource.Event{Kind: audiosource.EventReady}})
	model = update(model, EventMsg{Event: audiosource.Event{Kind: audiosource.EventNodeAttached}})
	if model.sourceState != "ready" {
		t.Errorf("expected ready, got %s", model.sourceState)
	}

	model = update(model, EventMsg{Event: audiosource.Event{Kind: audiosource.EventError, Err: errors.New("no device")}})
	if model.sourceState != "error" {
		t.Errorf("expected error, got %s", model.sourceState)
	}
	if len(model.log) != 1 || !strings.Contains(model.log[0], "no device") {
		t.Errorf("expected the error in the log, got %v", model.log)
	}
}

func TestProgressEvents(t *testing.T) {
	model := NewModel("speechlink", nil)

	model = update(model, EventMsg{Event: app.Progress{Kind: app.ProgressAcked, RequestID: "req", Offset: 5_000_000, Retained: 640}})
	if model.ackOffset != 500*time.Millisecond {
		t.Errorf("expected 500ms acked, got %s", model.ackOffset)
	}
	if model.retained != 640 {
		t.Errorf("expected 640 retained, got %d", model.retained)
	}

	model = update(model, EventMsg{Event: app.Progress{Kind: app.ProgressReconnecting, Attempt: 1}})
	model = update(model, EventMsg{Event: app.Progress{Kind: app.ProgressReplayed, Bytes: 320}})
	model = update(model, EventMsg{Event: app.Progress{Kind: app.ProgressReplayed, Bytes: 320}})
	if model.reconnects != 1 || model.replayed != 640 {
		t.Errorf("expected 1 reconnect and 640 replayed, got %d and %d", model.reconnects, model.replayed)
	}

	view := model.View()
	if !strings.Contains(view, "Reconnects") {
		t.Errorf("view should show reconnects:\n%s", view)
	}
}

func TestSessionEvents(t *testing.T) {
	model := NewModel("speechlink-server", nil)

	model = update(model, EventMsg{Event: server.SessionEvent{Kind: server.SessionStarted, RequestID: "aaaaaaaa-1", Source: "microphone"}})
	model = update(model, EventMsg{Event: server.SessionEvent{Kind: server.SessionStarted, RequestID: "bbbbbbbb-2"}})
	if len(model.sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(model.sessions))
	}

	model = update(model, EventMsg{Event: server.SessionEvent{Kind: server.SessionEnded, RequestID: "aaaaaaaa-1"}})
	if len(model.sessions) != 1 || model.finished != 1 {
		t.Errorf("expected 1 open and 1 finished, got %d and %d", len(model.sessions), model.finished)
	}

	view := model.View()
	if !strings.Contains(view, "1 open, 1 finished") {
		t.Errorf("unexpected view:\n%s", view)
	}
	if !strings.Contains(view, "bbbbbbbb") {
		t.Errorf("view should list the open session:\n%s", view)
	}
}

func TestLogIsBounded(t *testing.T) {
	model := NewModel("speechlink", nil)
	for i := 0; i < maxLogLines+5; i++ {
		model = update(model, EventMsg{Event: transport.Event{Kind: transport.EventConnected}})
	}
	if len(model.log) != maxLogLines {
		t.Errorf("expected %d log lines, got %d", maxLogLines, len(model.log))
	}
}

func TestDoneMsg(t *testing.T) {
	model := NewModel("speechlink", nil)

	model = update(model, DoneMsg{Err: errors.New("giving up")})
	if !strings.Contains(model.View(), "Upload failed: giving up") {
		t.Errorf("view should show the failure:\n%s", model.View())
	}

	model = NewModel("speechlink", nil)
	model = update(model, DoneMsg{End: &protocol.TurnEnd{File: "recordings/x.wav", Duration: 1.5}})
	if len(model.log) != 1 || !strings.Contains(model.log[0], "recordings/x.wav") {
		t.Errorf("expected the stored file in the log, got %v", model.log)
	}
}

func TestQuitSignals(t *testing.T) {
	quit := make(chan struct{}, 1)
	model := NewModel("speechlink", quit)

	next, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if !next.(Model).quitting {
		t.Error("expected quitting to be set")
	}
	select {
	case <-quit:
	default:
		t.Error("expected the quit channel to be signalled")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{2048, "2.0 KiB"},
		{3 << 20, "3.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestSinkDoesNotBlock(t *testing.T) {
	u := New("speechlink", &strings.Builder{})
	sink := u.Sink()
	for i := 0; i < updateBuffer*2; i++ {
		sink.Publish("transport.connection", transport.Event{Kind: transport.EventConnected})
	}
	if len(u.updates) != updateBuffer {
		t.Errorf("expected a full buffer of %d, got %d", updateBuffer, len(u.updates))
	}
}
