// ABOUTME: Lifecycle events emitted by audio sources
// ABOUTME: One event struct tagged with a kind covers source and per-node notifications
package audiosource

import (
	"fmt"
	"time"
)

// EventKind identifies a lifecycle notification
type EventKind int

const (
	EventInitializing EventKind = iota
	EventReady
	EventError
	EventOff
	EventNodeAttaching
	EventNodeAttached
	EventNodeDetached
	EventNodeError
)

var eventKindNames = map[EventKind]string{
	EventInitializing:  "initializing",
	EventReady:         "ready",
	EventError:         "error",
	EventOff:           "off",
	EventNodeAttaching: "node-attaching",
	EventNodeAttached:  "node-attached",
	EventNodeDetached:  "node-detached",
	EventNodeError:     "node-error",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// MarshalText encodes the kind by name
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a source lifecycle notification. NodeID is empty for
// source-level events.
type Event struct {
	Kind     EventKind `json:"kind"`
	SourceID string    `json:"source_id"`
	NodeID   string    `json:"node_id,omitempty"`
	Message  string    `json:"error,omitempty"`
	Err      error     `json:"-"`
	Time     time.Time `json:"time"`
}

// EventName implements events.Named
func (e Event) EventName() string { return e.Kind.String() }

// EventErr returns the failure carried by error events
func (e Event) EventErr() error { return e.Err }
