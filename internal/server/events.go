// ABOUTME: Session lifecycle events published by the ingest server
// ABOUTME: Forwarded to NATS so other services can pick up finished recordings
package server

import (
	"fmt"
	"time"
)

// TopicSession is the sink topic of SessionEvent
const TopicSession = "ingest.session"

// SessionEventKind identifies a session milestone
type SessionEventKind int

const (
	SessionStarted SessionEventKind = iota
	SessionResumed
	SessionDropped
	SessionEnded
	SessionExpired
	SessionAbandoned
)

func (k SessionEventKind) String() string {
	switch k {
	case SessionStarted:
		return "started"
	case SessionResumed:
		return "resumed"
	case SessionDropped:
		return "dropped"
	case SessionEnded:
		return "ended"
	case SessionExpired:
		return "expired"
	case SessionAbandoned:
		return "abandoned"
	}
	return fmt.Sprintf("SessionEventKind(%d)", int(k))
}

// MarshalText encodes the kind by name
func (k SessionEventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// SessionEvent describes a change to an ingest session
type SessionEvent struct {
	Kind      SessionEventKind `json:"kind"`
	RequestID string           `json:"request_id"`
	Remote    string           `json:"remote,omitempty"`
	Source    string           `json:"source,omitempty"`
	Bytes     int64            `json:"bytes,omitempty"`
	File      string           `json:"file,omitempty"`
	Err       error            `json:"-"`
	Time      time.Time        `json:"time"`
}

// EventName implements events.Named
func (e SessionEvent) EventName() string { return "session-" + e.Kind.String() }

// EventErr returns the failure carried by the event, if any
func (e SessionEvent) EventErr() error { return e.Err }
