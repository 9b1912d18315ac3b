// ABOUTME: Progress events published by the uploader
// ABOUTME: The status UI and NATS sink consume these next to source and connection events
package app

import (
	"fmt"
	"time"
)

// TopicUploader is the sink topic of Progress events
const TopicUploader = "uploader"

// ProgressKind identifies an uploader milestone
type ProgressKind int

const (
	ProgressAcked ProgressKind = iota
	ProgressReplayed
	ProgressReconnecting
	ProgressTurnEnd
)

func (k ProgressKind) String() string {
	switch k {
	case ProgressAcked:
		return "acked"
	case ProgressReplayed:
		return "replayed"
	case ProgressReconnecting:
		return "reconnecting"
	case ProgressTurnEnd:
		return "turn-end"
	}
	return fmt.Sprintf("ProgressKind(%d)", int(k))
}

// MarshalText encodes the kind by name
func (k ProgressKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Progress reports acks, replays and reconnects of one upload
type Progress struct {
	Kind      ProgressKind `json:"kind"`
	RequestID string       `json:"request_id"`
	Offset    int64        `json:"offset,omitempty"` // ticks for acks, bytes for replays
	Bytes     int          `json:"bytes,omitempty"`
	Retained  int64        `json:"retained,omitempty"`
	Attempt   int          `json:"attempt,omitempty"`
	Err       error        `json:"-"`
	Time      time.Time    `json:"time"`
}

// EventName implements events.Named
func (p Progress) EventName() string { return p.Kind.String() }

// EventErr returns the failure carried by the event, if any
func (p Progress) EventErr() error { return p.Err }
