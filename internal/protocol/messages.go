// ABOUTME: Speechlink message paths, headers and JSON bodies
// ABOUTME: Shared by the uploader and the ingest server on top of transport.Message
package protocol

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/transport"
)

// Message paths
const (
	PathSpeechConfig = "speech.config"
	PathAudio        = "audio"
	PathAck          = "audio.ack"
	PathEcho         = "audio.echo"
	PathTurnEnd      = "turn.end"
)

// HeaderStreamOffset carries the byte offset of an audio body from the
// start of the stream
const HeaderStreamOffset = "X-StreamOffset"

// ContentTypeJSON is the content type of text bodies
const ContentTypeJSON = "application/json"

// AudioFormat is the JSON rendering of an audio.Format
type AudioFormat struct {
	Encoding      string `json:"encoding"`
	SampleRate    int    `json:"sample_rate"`
	BitsPerSample int    `json:"bits_per_sample"`
	Channels      int    `json:"channels"`
}

// FromFormat converts an audio.Format for the wire
func FromFormat(f audio.Format) AudioFormat {
	return AudioFormat{
		Encoding:      f.FormatTag.String(),
		SampleRate:    f.SamplesPerSec,
		BitsPerSample: f.BitsPerSample,
		Channels:      f.Channels,
	}
}

// Format converts back to an audio.Format
func (a AudioFormat) Format() (audio.Format, error) {
	for tag := audio.FormatPCM; tag <= audio.FormatOpus; tag++ {
		if tag.String() == a.Encoding {
			f := audio.NewFormat(tag, a.SampleRate, a.BitsPerSample, a.Channels)
			return f, f.Validate()
		}
	}
	return audio.Format{}, fmt.Errorf("unknown audio encoding %q", a.Encoding)
}

// ClientInfo identifies the sending software
type ClientInfo struct {
	Product      string `json:"product"`
	Manufacturer string `json:"manufacturer"`
	Version      string `json:"version"`
}

// SpeechConfig opens a turn; it is the first message on every connection
type SpeechConfig struct {
	Source string      `json:"source"`
	Format AudioFormat `json:"format"`
	Client ClientInfo  `json:"client"`
}

// Ack reports how much of the stream the server has stored
type Ack struct {
	Offset   int64 `json:"offset"`   // ticks
	Received int64 `json:"received"` // bytes
}

// TurnEnd is sent once the server has stored the whole stream
type TurnEnd struct {
	File     string  `json:"file,omitempty"`
	Bytes    int64   `json:"bytes"`
	Duration float64 `json:"duration_seconds"`
}

func baseHeaders(path, requestID string) map[string]string {
	return map[string]string{
		transport.HeaderPath:      path,
		transport.HeaderRequestID: requestID,
		transport.HeaderTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func newJSON(path, requestID string, body any) (*transport.Message, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s body: %w", path, err)
	}
	headers := baseHeaders(path, requestID)
	headers[transport.HeaderContentType] = ContentTypeJSON
	return transport.NewTextMessage(headers, string(data)), nil
}

// NewSpeechConfig builds the speech.config message
func NewSpeechConfig(requestID string, cfg SpeechConfig) (*transport.Message, error) {
	return newJSON(PathSpeechConfig, requestID, cfg)
}

// NewAudio builds an audio message whose body starts at offset bytes into
// the stream. An empty body marks the end of the stream.
func NewAudio(requestID string, format audio.Format, offset int64, body []byte) *transport.Message {
	headers := baseHeaders(PathAudio, requestID)
	headers[transport.HeaderContentType] = format.FormatTag.ContentType()
	headers[HeaderStreamOffset] = strconv.FormatInt(offset, 10)
	return transport.NewBinaryMessage(headers, body)
}

// NewAck builds an ack; the X-Offset header carries ack.Offset in ticks
func NewAck(requestID string, ack Ack) (*transport.Message, error) {
	msg, err := newJSON(PathAck, requestID, ack)
	if err != nil {
		return nil, err
	}
	msg.Headers[transport.HeaderOffset] = strconv.FormatInt(ack.Offset, 10)
	return msg, nil
}

// NewEcho builds an echo of decoded PCM16 audio
func NewEcho(requestID string, pcm []byte) *transport.Message {
	headers := baseHeaders(PathEcho, requestID)
	headers[transport.HeaderContentType] = audio.FormatPCM.ContentType()
	return transport.NewBinaryMessage(headers, pcm)
}

// NewTurnEnd builds the turn.end message
func NewTurnEnd(requestID string, end TurnEnd) (*transport.Message, error) {
	return newJSON(PathTurnEnd, requestID, end)
}

// DecodeBody unmarshals the JSON text body of msg into v
func DecodeBody(msg *transport.Message, v any) error {
	if err := json.Unmarshal([]byte(msg.TextBody), v); err != nil {
		return fmt.Errorf("failed to decode %s body: %w", msg.Path(), err)
	}
	return nil
}

// Int64Header parses a numeric header
func Int64Header(msg *transport.Message, name string) (int64, error) {
	raw := msg.Header(name)
	if raw == "" {
		return 0, fmt.Errorf("missing %s header on %s", name, msg.Path())
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s header %q: %w", name, raw, err)
	}
	return v, nil
}
