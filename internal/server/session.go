// ABOUTME: Ingest session for one upload request, kept across reconnects
// ABOUTME: Drops bytes it already stored, strips the RIFF header and writes PCM to a WAV file
package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/speechlink/speechlink-go/internal/protocol"
	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/audio/decode"
)

// maxHeaderBytes bounds how much leading data is buffered looking for a
// complete RIFF header before the stream is treated as raw PCM
const maxHeaderBytes = 4096

// session accumulates the audio of one request id
type session struct {
	id     string
	format audio.Format // stream format announced in speech.config
	dir    string
	log    *logrus.Entry

	mu         sync.Mutex
	received   int64 // bytes of the stream stored so far
	pcmFormat  audio.Format
	header     []byte
	headerDone bool
	opus       *decode.OpusDecoder
	wav        *audio.WAVWriter
	path       string
	pcmBytes   int64
	attached   bool
	dropped    bool
	finished   bool
}

func newSession(id string, format audio.Format, dir string, log *logrus.Entry) (*session, error) {
	s := &session{
		id:        id,
		format:    format,
		dir:       dir,
		log:       log.WithField("request_id", id),
		pcmFormat: format,
	}
	switch format.FormatTag {
	case audio.FormatPCM:
	case audio.FormatOpus:
		dec, err := decode.NewOpus(format)
		if err != nil {
			return nil, err
		}
		s.opus = dec
		s.pcmFormat = audio.NewPCMFormat(format.SamplesPerSec, 16, format.Channels)
		s.headerDone = true
	default:
		return nil, fmt.Errorf("unsupported stream encoding %s", format.FormatTag)
	}
	return s, nil
}

// write stores the part of body, which starts offset bytes into the
// stream, that was not stored before. It returns the decoded PCM.
func (s *session) write(offset int64, body []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := offset + int64(len(body))
	if end <= s.received {
		return nil, nil
	}
	switch {
	case offset > s.received:
		s.log.WithFields(logrus.Fields{"offset": offset, "received": s.received}).Warn("Gap in audio stream")
	case offset < s.received:
		body = body[s.received-offset:]
	}
	s.received = end

	pcm, err := s.decodeLocked(body)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	if err := s.storeLocked(pcm); err != nil {
		return nil, err
	}
	return pcm, nil
}

func (s *session) decodeLocked(body []byte) ([]byte, error) {
	if s.opus != nil {
		samples, err := s.opus.DecodeFramed(body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode opus timeslice: %w", err)
		}
		return audio.Int16ToBytes(samples), nil
	}
	if s.headerDone {
		return body, nil
	}

	s.header = append(s.header, body...)
	info, err := audio.ParseWAV(bytes.NewReader(s.header))
	switch {
	case err == nil:
		s.headerDone = true
		if info.Format.FormatTag == audio.FormatPCM {
			s.pcmFormat = info.Format
		}
		data := s.header[info.DataOffset:]
		s.header = nil
		return data, nil
	case isShort(err) && len(s.header) < maxHeaderBytes:
		return nil, nil
	default:
		// Headerless PCM in the announced format
		s.headerDone = true
		data := s.header
		s.header = nil
		return data, nil
	}
}

func isShort(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func (s *session) storeLocked(pcm []byte) error {
	s.pcmBytes += int64(len(pcm))
	if s.dir == "" {
		return nil
	}
	if s.wav == nil {
		s.path = filepath.Join(s.dir, s.id+".wav")
		f, err := os.Create(s.path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", s.path, err)
		}
		w, err := audio.NewWAVWriter(f, s.pcmFormat)
		if err != nil {
			f.Close()
			return err
		}
		s.wav = w
	}
	if _, err := s.wav.Write(pcm); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}

// ack reports the stored position. The offset is kept even so replayed
// audio resumes on a message boundary.
func (s *session) ack() protocol.Ack {
	s.mu.Lock()
	defer s.mu.Unlock()
	received := s.received &^ 1
	return protocol.Ack{Offset: s.format.BytesToTicks(received), Received: received}
}

// finish closes the WAV file and summarises the turn. Later calls return
// the same summary.
func (s *session) finish() (protocol.TurnEnd, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if !s.finished {
		s.finished = true
		if s.wav != nil {
			err = s.wav.Close()
		}
		if s.opus != nil {
			_ = s.opus.Close()
		}
	}
	return protocol.TurnEnd{
		File:     s.path,
		Bytes:    s.pcmBytes,
		Duration: s.pcmFormat.Duration(s.pcmBytes).Seconds(),
	}, err
}

// attach marks the session as served by a connection. It fails when
// another connection already serves it.
func (s *session) attach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached || s.finished {
		return false
	}
	s.attached = true
	return true
}

func (s *session) detach() {
	s.mu.Lock()
	s.attached = false
	s.mu.Unlock()
}

// shouldDrop reports true once, the first time count reaches limit
func (s *session) shouldDrop(count, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || s.dropped || count < limit {
		return false
	}
	s.dropped = true
	return true
}

func (s *session) isFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}
