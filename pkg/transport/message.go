// ABOUTME: Application messages and raw wire frames exchanged over a connection
// ABOUTME: A Formatter maps between the two so wire encodings can be swapped
package transport

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MessageType says whether a message travels as a text or binary frame
type MessageType int

const (
	MessageText MessageType = iota
	MessageBinary
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Well-known header names
const (
	HeaderPath        = "Path"
	HeaderRequestID   = "X-RequestId"
	HeaderTimestamp   = "X-Timestamp"
	HeaderContentType = "Content-Type"
	HeaderOffset      = "X-Offset"
)

// Message is an application-level message: headers plus a text or binary body
type Message struct {
	ID         string
	Type       MessageType
	Headers    map[string]string
	TextBody   string
	BinaryBody []byte
}

// NewTextMessage creates a text message with a fresh id
func NewTextMessage(headers map[string]string, body string) *Message {
	return &Message{ID: uuid.NewString(), Type: MessageText, Headers: headers, TextBody: body}
}

// NewBinaryMessage creates a binary message with a fresh id
func NewBinaryMessage(headers map[string]string, body []byte) *Message {
	return &Message{ID: uuid.NewString(), Type: MessageBinary, Headers: headers, BinaryBody: body}
}

// Header looks up a header case-insensitively
func (m *Message) Header(name string) string {
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Path returns the Path header
func (m *Message) Path() string {
	return m.Header(HeaderPath)
}

// BodyLen returns the size of whichever body the message carries
func (m *Message) BodyLen() int {
	if m.Type == MessageBinary {
		return len(m.BinaryBody)
	}
	return len(m.TextBody)
}

// RawMessage is one wire frame
type RawMessage struct {
	ID      string
	Type    MessageType
	Payload []byte
}

// Formatter converts between messages and wire frames
type Formatter interface {
	ToRaw(msg *Message) (RawMessage, error)
	FromRaw(raw RawMessage) (*Message, error)
}
