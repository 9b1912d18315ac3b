// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and feeds it from an events.Sink without blocking publishers
package ui

import (
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/speechlink/speechlink-go/internal/protocol"
	"github.com/speechlink/speechlink-go/pkg/events"
)

// updateBuffer bounds events waiting for the program; later ones are dropped
const updateBuffer = 256

// UI is a running status display
type UI struct {
	program *tea.Program
	updates chan tea.Msg
	quit    chan struct{}
}

// New creates a status display titled title. Output goes to out, or the
// terminal's alternate screen when out is nil.
func New(title string, out io.Writer) *UI {
	u := &UI{
		updates: make(chan tea.Msg, updateBuffer),
		quit:    make(chan struct{}, 1),
	}
	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if out != nil {
		opts = []tea.ProgramOption{tea.WithOutput(out), tea.WithInput(nil)}
	}
	u.program = tea.NewProgram(NewModel(title, u.quit), opts...)
	return u
}

// Sink returns a sink that shows every published event
func (u *UI) Sink() events.Sink {
	return events.SinkFunc(func(topic string, ev any) {
		u.send(EventMsg{Topic: topic, Event: ev})
	})
}

// Done shows the outcome of the upload
func (u *UI) Done(end *protocol.TurnEnd, err error) {
	u.send(DoneMsg{End: end, Err: err})
}

func (u *UI) send(msg tea.Msg) {
	select {
	case u.updates <- msg:
	default:
		// Don't block publishers if the display falls behind
	}
}

// QuitRequested is signalled when the user presses q or Ctrl+C
func (u *UI) QuitRequested() <-chan struct{} { return u.quit }

// Run shows the display until Stop or the user quits
func (u *UI) Run() error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case msg := <-u.updates:
				u.program.Send(msg)
			case <-stop:
				return
			}
		}
	}()

	_, err := u.program.Run()
	return err
}

// Stop ends the display
func (u *UI) Stop() {
	u.program.Quit()
}
