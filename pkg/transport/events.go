// ABOUTME: Connection lifecycle and traffic events
// ABOUTME: Metrics and diagnostics observe connections through these rather than hooks in the write path
package transport

import (
	"fmt"
	"time"
)

// EventKind identifies a connection event
type EventKind int

const (
	EventConnecting EventKind = iota
	EventConnected
	EventConnectFailed
	EventMessageSent
	EventSendFailed
	EventMessageReceived
	EventDisconnected
)

var eventKindNames = map[EventKind]string{
	EventConnecting:      "connecting",
	EventConnected:       "connected",
	EventConnectFailed:   "connect-failed",
	EventMessageSent:     "message-sent",
	EventSendFailed:      "send-failed",
	EventMessageReceived: "message-received",
	EventDisconnected:    "disconnected",
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

// Event describes something that happened on a connection
type Event struct {
	Kind         EventKind `json:"kind"`
	ConnectionID string    `json:"connection_id"`
	MessageID    string    `json:"message_id,omitempty"`
	Path         string    `json:"path,omitempty"`
	Bytes        int       `json:"bytes,omitempty"`
	StatusCode   int       `json:"status_code,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Err          error     `json:"-"`
	Time         time.Time `json:"time"`
}

// EventName implements events.Named
func (e Event) EventName() string { return e.Kind.String() }

// EventErr returns the failure carried by the event, if any
func (e Event) EventErr() error { return e.Err }
