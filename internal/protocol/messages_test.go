// ABOUTME: Tests for speechlink message builders
// ABOUTME: Checks headers and JSON bodies survive the speech formatter
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/transport"
)

func roundTrip(t *testing.T, msg *transport.Message) *transport.Message {
	t.Helper()
	raw, err := transport.SpeechFormatter{}.ToRaw(msg)
	require.NoError(t, err)
	back, err := transport.SpeechFormatter{}.FromRaw(raw)
	require.NoError(t, err)
	return back
}

func TestSpeechConfig(t *testing.T) {
	msg, err := NewSpeechConfig("req1", SpeechConfig{
		Source: "microphone",
		Format: FromFormat(audio.DefaultInputFormat()),
		Client: ClientInfo{Product: "p", Version: "v"},
	})
	require.NoError(t, err)

	back := roundTrip(t, msg)
	assert.Equal(t, PathSpeechConfig, back.Path())
	assert.Equal(t, "req1", back.Header(transport.HeaderRequestID))
	assert.Equal(t, ContentTypeJSON, back.Header(transport.HeaderContentType))

	var cfg SpeechConfig
	require.NoError(t, DecodeBody(back, &cfg))
	assert.Equal(t, "pcm", cfg.Format.Encoding)

	format, err := cfg.Format.Format()
	require.NoError(t, err)
	assert.Equal(t, audio.DefaultInputFormat(), format)
}

func TestAudioFormatRejectsUnknownEncoding(t *testing.T) {
	_, err := AudioFormat{Encoding: "aac", SampleRate: 16000, BitsPerSample: 16, Channels: 1}.Format()
	assert.ErrorContains(t, err, "unknown audio encoding")

	_, err = AudioFormat{Encoding: "pcm", SampleRate: 16000, BitsPerSample: 16, Channels: 6}.Format()
	assert.Error(t, err)

	opus, err := FromFormat(audio.NewFormat(audio.FormatOpus, 16000, 16, 1)).Format()
	require.NoError(t, err)
	assert.Equal(t, audio.FormatOpus, opus.FormatTag)
}

func TestAudioMessage(t *testing.T) {
	msg := NewAudio("req1", audio.DefaultInputFormat(), 12800, []byte{1, 2})
	back := roundTrip(t, msg)

	assert.Equal(t, PathAudio, back.Path())
	assert.Equal(t, "audio/x-wav", back.Header(transport.HeaderContentType))
	offset, err := Int64Header(back, HeaderStreamOffset)
	require.NoError(t, err)
	assert.Equal(t, int64(12800), offset)
	assert.Equal(t, []byte{1, 2}, back.BinaryBody)
}

func TestAck(t *testing.T) {
	msg, err := NewAck("req1", Ack{Offset: 4000000, Received: 12800})
	require.NoError(t, err)
	back := roundTrip(t, msg)

	offset, err := Int64Header(back, transport.HeaderOffset)
	require.NoError(t, err)
	assert.Equal(t, int64(4000000), offset)

	var ack Ack
	require.NoError(t, DecodeBody(back, &ack))
	assert.Equal(t, int64(12800), ack.Received)
}

func TestInt64HeaderErrors(t *testing.T) {
	msg := transport.NewTextMessage(map[string]string{transport.HeaderPath: "x", "X-Offset": "abc"}, "")
	_, err := Int64Header(msg, "X-Offset")
	assert.ErrorContains(t, err, "invalid X-Offset")

	_, err = Int64Header(msg, HeaderStreamOffset)
	assert.ErrorContains(t, err, "missing")

	assert.Error(t, DecodeBody(msg, &Ack{}))
}
