// ABOUTME: Tests for the speech and JSON wire formatters
// ABOUTME: Checks the header block layout and decoding of malformed frames
package transport

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeechFormatterTextLayout(t *testing.T) {
	msg := NewTextMessage(map[string]string{HeaderPath: "speech.config", HeaderRequestID: "r1"}, `{"a":1}`)
	raw, err := SpeechFormatter{}.ToRaw(msg)
	require.NoError(t, err)

	assert.Equal(t, MessageText, raw.Type)
	assert.Equal(t, "Path:speech.config\r\nX-RequestId:r1\r\n\r\n{\"a\":1}", string(raw.Payload))

	back, err := SpeechFormatter{}.FromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, msg.Headers, back.Headers)
	assert.Equal(t, msg.TextBody, back.TextBody)
}

func TestSpeechFormatterBinaryLayout(t *testing.T) {
	body := []byte{0, 1, 2, 3, 255}
	msg := NewBinaryMessage(map[string]string{HeaderPath: "audio"}, body)
	raw, err := SpeechFormatter{}.ToRaw(msg)
	require.NoError(t, err)

	n := int(binary.BigEndian.Uint16(raw.Payload))
	assert.Equal(t, "Path:audio\r\n", string(raw.Payload[2:2+n]))
	assert.Equal(t, body, raw.Payload[2+n:])

	back, err := SpeechFormatter{}.FromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, "audio", back.Path())
	assert.Equal(t, body, back.BinaryBody)
}

func TestSpeechFormatterEdgeCases(t *testing.T) {
	f := SpeechFormatter{}

	msg, err := f.FromRaw(RawMessage{Type: MessageText, Payload: []byte("\r\nbody only")})
	require.NoError(t, err)
	assert.Empty(t, msg.Headers)
	assert.Equal(t, "body only", msg.TextBody)

	msg, err = f.FromRaw(RawMessage{Type: MessageText, Payload: []byte("Path: turn.end\r\n")})
	require.NoError(t, err)
	assert.Equal(t, "turn.end", msg.Path())
	assert.Empty(t, msg.TextBody)

	_, err = f.FromRaw(RawMessage{Type: MessageBinary, Payload: []byte{0}})
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = f.FromRaw(RawMessage{Type: MessageBinary, Payload: []byte{0, 50, 'P'}})
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = f.FromRaw(RawMessage{Type: MessageText, Payload: []byte("no colon here\r\n\r\n")})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestJSONFormatter(t *testing.T) {
	f := JSONFormatter{}

	bin := NewBinaryMessage(map[string]string{HeaderPath: "audio"}, []byte{9, 8, 7})
	raw, err := f.ToRaw(bin)
	require.NoError(t, err)
	assert.Equal(t, MessageText, raw.Type)
	assert.Contains(t, string(raw.Payload), `"binary":"CQgH"`)

	back, err := f.FromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, bin.ID, back.ID)
	assert.Equal(t, MessageBinary, back.Type)
	assert.Equal(t, []byte{9, 8, 7}, back.BinaryBody)

	txt := NewTextMessage(nil, "hello")
	raw, err = f.ToRaw(txt)
	require.NoError(t, err)
	back, err = f.FromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", back.TextBody)
	assert.NotNil(t, back.Headers)

	_, err = f.FromRaw(RawMessage{Payload: []byte("{")})
	assert.ErrorIs(t, err, ErrMalformedFrame)
	_, err = f.FromRaw(RawMessage{Payload: []byte(`{"type":"video"}`)})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestMessageHeaderLookup(t *testing.T) {
	msg := NewTextMessage(map[string]string{"Content-Type": "application/json"}, "")
	assert.Equal(t, "application/json", msg.Header("content-type"))
	assert.Equal(t, "", msg.Header("missing"))
	assert.Equal(t, 0, msg.BodyLen())
	assert.Equal(t, "binary", MessageBinary.String())
}
