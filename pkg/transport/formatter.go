// ABOUTME: Wire formatters: header-block speech framing and a JSON envelope
// ABOUTME: Binary speech frames carry a big-endian uint16 header length before the headers
package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrMalformedFrame is returned when a wire frame cannot be decoded
var ErrMalformedFrame = errors.New("malformed frame")

const crlf = "\r\n"

// SpeechFormatter encodes messages as "Name:value" header lines followed by
// a blank line and the body. Binary frames prefix the header block with its
// length.
type SpeechFormatter struct{}

// ToRaw encodes msg
func (SpeechFormatter) ToRaw(msg *Message) (RawMessage, error) {
	headers := headerBlock(msg.Headers)

	switch msg.Type {
	case MessageText:
		payload := headers + crlf + msg.TextBody
		return RawMessage{ID: msg.ID, Type: MessageText, Payload: []byte(payload)}, nil

	case MessageBinary:
		if len(headers) > math.MaxUint16 {
			return RawMessage{}, fmt.Errorf("header block too large: %d bytes", len(headers))
		}
		payload := make([]byte, 0, 2+len(headers)+len(msg.BinaryBody))
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(headers)))
		payload = append(payload, headers...)
		payload = append(payload, msg.BinaryBody...)
		return RawMessage{ID: msg.ID, Type: MessageBinary, Payload: payload}, nil
	}
	return RawMessage{}, fmt.Errorf("unknown message type %s", msg.Type)
}

// FromRaw decodes a frame
func (SpeechFormatter) FromRaw(raw RawMessage) (*Message, error) {
	id := raw.ID
	if id == "" {
		id = uuid.NewString()
	}

	switch raw.Type {
	case MessageText:
		text := string(raw.Payload)
		var head, body string
		if rest, ok := strings.CutPrefix(text, crlf); ok {
			body = rest
		} else if h, b, found := strings.Cut(text, crlf+crlf); found {
			head, body = h, b
		} else {
			// Headers only
			head = strings.TrimSuffix(text, crlf)
		}
		headers, err := parseHeaders(head)
		if err != nil {
			return nil, err
		}
		return &Message{ID: id, Type: MessageText, Headers: headers, TextBody: body}, nil

	case MessageBinary:
		if len(raw.Payload) < 2 {
			return nil, fmt.Errorf("%w: binary frame shorter than length prefix", ErrMalformedFrame)
		}
		n := int(binary.BigEndian.Uint16(raw.Payload))
		if len(raw.Payload) < 2+n {
			return nil, fmt.Errorf("%w: header block of %d bytes exceeds frame", ErrMalformedFrame, n)
		}
		headers, err := parseHeaders(strings.TrimSuffix(string(raw.Payload[2:2+n]), crlf))
		if err != nil {
			return nil, err
		}
		body := bytes.Clone(raw.Payload[2+n:])
		return &Message{ID: id, Type: MessageBinary, Headers: headers, BinaryBody: body}, nil
	}
	return nil, fmt.Errorf("unknown message type %s", raw.Type)
}

// headerBlock renders headers sorted by name, each line ending in CRLF
func headerBlock(headers map[string]string) string {
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(headers[k])
		b.WriteString(crlf)
	}
	return b.String()
}

func parseHeaders(block string) (map[string]string, error) {
	headers := make(map[string]string)
	if block == "" {
		return headers, nil
	}
	for _, line := range strings.Split(block, crlf) {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformedFrame, line)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}

// JSONFormatter wraps every message in a JSON envelope. Binary bodies are
// base64 encoded; both kinds travel as text frames.
type JSONFormatter struct{}

type jsonEnvelope struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Headers map[string]string `json:"headers,omitempty"`
	Text    string            `json:"text,omitempty"`
	Binary  []byte            `json:"binary,omitempty"`
}

// ToRaw encodes msg
func (JSONFormatter) ToRaw(msg *Message) (RawMessage, error) {
	env := jsonEnvelope{ID: msg.ID, Type: msg.Type.String(), Headers: msg.Headers}
	if msg.Type == MessageBinary {
		env.Binary = msg.BinaryBody
	} else {
		env.Text = msg.TextBody
	}
	data, err := json.Marshal(env)
	if err != nil {
		return RawMessage{}, fmt.Errorf("encode envelope: %w", err)
	}
	return RawMessage{ID: msg.ID, Type: MessageText, Payload: data}, nil
}

// FromRaw decodes an envelope
func (JSONFormatter) FromRaw(raw RawMessage) (*Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(raw.Payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.ID == "" {
		env.ID = raw.ID
	}
	if env.Headers == nil {
		env.Headers = make(map[string]string)
	}

	msg := &Message{ID: env.ID, Headers: env.Headers}
	switch env.Type {
	case "binary":
		msg.Type = MessageBinary
		msg.BinaryBody = env.Binary
	case "text", "":
		msg.Type = MessageText
		msg.TextBody = env.Text
	default:
		return nil, fmt.Errorf("%w: unknown envelope type %q", ErrMalformedFrame, env.Type)
	}
	return msg, nil
}
