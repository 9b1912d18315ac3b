// ABOUTME: RIFF/WAVE header encoding and parsing
// ABOUTME: Builds the 44-byte streaming header and reads the format of WAV files
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// WAVHeaderSize is the size of a canonical PCM WAV header
const WAVHeaderSize = 44

// ErrNotWAV is returned when data does not start with a RIFF/WAVE header
var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// WAVHeader is the canonical 44-byte PCM header
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // total size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16 // bytes per frame
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// NewWAVHeader returns the header for dataSize bytes of audio in format f.
// A dataSize of zero is used for open-ended streams.
func NewWAVHeader(f Format, dataSize uint32) WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   uint16(f.FormatTag),
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SamplesPerSec),
		ByteRate:      uint32(f.AvgBytesPerSec),
		BlockAlign:    uint16(f.FrameBytes()),
		BitsPerSample: uint16(f.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// Bytes encodes the header little-endian
func (h WAVHeader) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize))
	// binary.Write into a bytes.Buffer only fails for unsupported types
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// Header returns the streaming WAV header for this format
func (f Format) Header() []byte {
	return NewWAVHeader(f, 0).Bytes()
}

// WAVInfo is what ParseWAV learns about a file
type WAVInfo struct {
	Format     Format
	DataOffset int64
	DataSize   int64
}

// ParseWAV walks the RIFF chunks of r until the data chunk and returns the
// stream format together with the position and size of the sample data.
func ParseWAV(r io.Reader) (WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVInfo{}, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, ErrNotWAV
	}

	var (
		info    WAVInfo
		haveFmt bool
		offset  int64 = 12
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return WAVInfo{}, fmt.Errorf("failed to read chunk header: %w", err)
		}
		offset += 8
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return WAVInfo{}, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVInfo{}, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			tag := FormatTag(binary.LittleEndian.Uint16(body[0:2]))
			channels := int(binary.LittleEndian.Uint16(body[2:4]))
			rate := int(binary.LittleEndian.Uint32(body[4:8]))
			bits := int(binary.LittleEndian.Uint16(body[14:16]))
			info.Format = NewFormat(tag, rate, bits, channels)
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, fmt.Errorf("data chunk before fmt chunk")
			}
			info.DataOffset = offset
			info.DataSize = size
			return info, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size); err != nil {
				return WAVInfo{}, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
		offset += size
		// chunks are word aligned
		if size%2 == 1 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				return WAVInfo{}, fmt.Errorf("failed to skip pad byte: %w", err)
			}
			offset++
		}
	}
}

// WAVWriter writes PCM data after a placeholder header and patches the
// sizes on Close.
type WAVWriter struct {
	writer io.WriteSeeker
	format Format

	mu       sync.Mutex
	numBytes uint32
	closed   bool
}

// NewWAVWriter writes the initial header to out
func NewWAVWriter(out io.WriteSeeker, f Format) (*WAVWriter, error) {
	w := &WAVWriter{writer: out, format: f}
	if _, err := out.Write(NewWAVHeader(f, 0).Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return w, nil
}

// Write appends raw sample bytes
func (w *WAVWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, os.ErrClosed
	}
	n, err := w.writer.Write(p)
	w.numBytes += uint32(n)
	return n, err
}

// BytesWritten returns the number of sample bytes written so far
func (w *WAVWriter) BytesWritten() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numBytes
}

// Close rewrites the header with final sizes and closes files
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.writer.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to header: %w", err)
	}
	if _, err := w.writer.Write(NewWAVHeader(w.format, w.numBytes).Bytes()); err != nil {
		return fmt.Errorf("failed to update WAV header: %w", err)
	}
	if f, ok := w.writer.(*os.File); ok {
		return f.Close()
	}
	return nil
}
