// ABOUTME: Bubbletea model for the upload and ingest status display
// ABOUTME: Folds connection, source, progress and session events into counters and a recent log
package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/speechlink/speechlink-go/internal/app"
	"github.com/speechlink/speechlink-go/internal/protocol"
	"github.com/speechlink/speechlink-go/internal/server"
	"github.com/speechlink/speechlink-go/pkg/audiosource"
	"github.com/speechlink/speechlink-go/pkg/transport"
)

// maxLogLines is how many recent events the view keeps
const maxLogLines = 8

// EventMsg carries one sink event into the program
type EventMsg struct {
	Topic string
	Event any
}

// DoneMsg reports that the upload finished
type DoneMsg struct {
	End *protocol.TurnEnd
	Err error
}

type tickMsg time.Time

// Model represents the TUI state
type Model struct {
	title     string
	startTime time.Time

	// Connection
	connState    string
	messagesSent int
	bytesSent    int64
	lastClose    string

	// Source
	sourceState string

	// Upload
	requestID  string
	ackOffset  time.Duration
	retained   int64
	replayed   int64
	reconnects int
	done       *DoneMsg

	// Ingest
	sessions map[string]server.SessionEvent
	finished int

	log []string

	quitting bool
	quit     chan struct{}
	width    int
}

// NewModel creates a model titled title. quit is signalled, without
// blocking, when the user asks to stop.
func NewModel(title string, quit chan struct{}) Model {
	return Model{
		title:       title,
		startTime:   time.Now(),
		connState:   "idle",
		sourceState: "off",
		sessions:    make(map[string]server.SessionEvent),
		quit:        quit,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quit <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tickEvery()
	case EventMsg:
		m.apply(msg.Event)
	case DoneMsg:
		m.done = &msg
		if msg.Err != nil {
			m.appendLog("upload failed: " + msg.Err.Error())
		} else if msg.End != nil {
			m.appendLog(fmt.Sprintf("turn stored: %s (%.1fs)", msg.End.File, msg.End.Duration))
		}
	}
	return m, nil
}

// apply folds one event into the model
func (m *Model) apply(ev any) {
	switch e := ev.(type) {
	case transport.Event:
		switch e.Kind {
		case transport.EventConnecting:
			m.connState = "connecting"
		case transport.EventConnected:
			m.connState = "connected"
			m.appendLog("connected")
		case transport.EventConnectFailed:
			m.connState = "failed"
			m.appendLog(fmt.Sprintf("connect failed: %d %s", e.StatusCode, e.Reason))
		case transport.EventMessageSent:
			m.messagesSent++
			m.bytesSent += int64(e.Bytes)
		case transport.EventDisconnected:
			m.connState = "disconnected"
			m.lastClose = fmt.Sprintf("%d %s", e.StatusCode, e.Reason)
			m.appendLog("disconnected: " + m.lastClose)
		}

	case audiosource.Event:
		switch e.Kind {
		case audiosource.EventNodeAttached, audiosource.EventNodeDetached, audiosource.EventNodeAttaching:
		default:
			m.sourceState = e.Kind.String()
		}
		if e.Err != nil {
			m.appendLog(fmt.Sprintf("source %s: %v", e.Kind, e.Err))
		}

	case app.Progress:
		m.requestID = e.RequestID
		switch e.Kind {
		case app.ProgressAcked:
			m.ackOffset = time.Duration(e.Offset * 100)
			m.retained = e.Retained
		case app.ProgressReplayed:
			m.replayed += int64(e.Bytes)
		case app.ProgressReconnecting:
			m.reconnects++
			m.appendLog(fmt.Sprintf("reconnecting (attempt %d, %d bytes retained)", e.Attempt, e.Retained))
		}

	case server.SessionEvent:
		switch e.Kind {
		case server.SessionStarted, server.SessionResumed:
			m.sessions[e.RequestID] = e
		case server.SessionEnded, server.SessionExpired, server.SessionAbandoned:
			delete(m.sessions, e.RequestID)
			m.finished++
		}
		m.appendLog(fmt.Sprintf("session %s %s", shortID(e.RequestID), e.Kind))
	}
}

func (m *Model) appendLog(line string) {
	m.log = append(m.log, time.Now().Format("15:04:05")+" "+line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

func field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(name + ": "))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Stopping...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")

	field(&b, "Uptime", time.Since(m.startTime).Round(time.Second).String())
	if m.requestID != "" || m.messagesSent > 0 {
		field(&b, "Connection", m.connState)
		field(&b, "Source", m.sourceState)
		field(&b, "Request", m.requestID)
		field(&b, "Sent", fmt.Sprintf("%d messages, %s", m.messagesSent, formatBytes(m.bytesSent)))
		field(&b, "Acked", m.ackOffset.Round(time.Millisecond).String())
		field(&b, "Retained", formatBytes(m.retained))
		if m.reconnects > 0 {
			field(&b, "Reconnects", fmt.Sprintf("%d (%s replayed)", m.reconnects, formatBytes(m.replayed)))
		}
	}
	if len(m.sessions) > 0 || m.finished > 0 {
		field(&b, "Sessions", fmt.Sprintf("%d open, %d finished", len(m.sessions), m.finished))
		ids := make([]string, 0, len(m.sessions))
		for id := range m.sessions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			s := m.sessions[id]
			b.WriteString(fmt.Sprintf("  • %s", shortID(id)))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %s)", s.Source, s.Remote)))
			b.WriteString("\n")
		}
	}

	if m.done != nil && m.done.Err != nil {
		b.WriteString(errorStyle.Render("Upload failed: " + m.done.Err.Error()))
		b.WriteString("\n")
	}

	if len(m.log) > 0 {
		b.WriteString("\n")
		for _, line := range m.log {
			b.WriteString(faintStyle.Render(line))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(faintStyle.Render("Press 'q' or Ctrl+C to quit"))
	return b.String()
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
