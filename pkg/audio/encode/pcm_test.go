// ABOUTME: Unit tests for PCM encoder
// ABOUTME: Tests 16-bit and 24-bit PCM encoding
package encode

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/speechlink/speechlink-go/pkg/audio"
)

func TestNewPCM(t *testing.T) {
	tests := []struct {
		name        string
		format      audio.Format
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid 16-bit PCM",
			format:  audio.NewPCMFormat(16000, 16, 1),
			wantErr: false,
		},
		{
			name:    "valid 24-bit PCM",
			format:  audio.NewPCMFormat(48000, 24, 2),
			wantErr: false,
		},
		{
			name:        "invalid codec",
			format:      audio.NewFormat(audio.FormatOpus, 16000, 16, 1),
			wantErr:     true,
			errContains: "invalid codec",
		},
		{
			name:        "unsupported bit depth",
			format:      audio.NewPCMFormat(16000, 32, 1),
			wantErr:     true,
			errContains: "unsupported bit depth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder, err := NewPCM(tt.format)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NewPCM() expected error, got nil")
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NewPCM() error = %v, want error containing %v", err, tt.errContains)
				}
			} else {
				if err != nil {
					t.Errorf("NewPCM() unexpected error = %v", err)
				}
				if encoder == nil {
					t.Errorf("NewPCM() returned nil encoder")
				} else if encoder.Format() != tt.format {
					t.Errorf("Format() = %v, want %v", encoder.Format(), tt.format)
				}
			}
		})
	}
}

func TestPCMEncoder_Encode16Bit(t *testing.T) {
	encoder, err := NewPCM(audio.DefaultInputFormat())
	if err != nil {
		t.Fatalf("NewPCM() failed: %v", err)
	}
	defer encoder.Close()

	tests := []struct {
		name     string
		samples  []float32
		expected []int16
	}{
		{
			name:     "single zero sample",
			samples:  []float32{0},
			expected: []int16{0},
		},
		{
			name:     "full scale",
			samples:  []float32{1, -1},
			expected: []int16{32767, -32768},
		},
		{
			name:     "clipped",
			samples:  []float32{2, -2},
			expected: []int16{32767, -32768},
		},
		{
			name:     "empty",
			samples:  []float32{},
			expected: []int16{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := encoder.Encode(tt.samples)
			if err != nil {
				t.Fatalf("Encode() unexpected error = %v", err)
			}

			if len(output) != len(tt.samples)*2 {
				t.Fatalf("Encode() output length = %d, want %d", len(output), len(tt.samples)*2)
			}

			for i, want := range tt.expected {
				got := int16(binary.LittleEndian.Uint16(output[i*2:]))
				if got != want {
					t.Errorf("sample %d = %d, want %d", i, got, want)
				}
			}
		})
	}
}

func TestPCMEncoder_Encode24Bit(t *testing.T) {
	encoder, err := NewPCM(audio.NewPCMFormat(48000, 24, 1))
	if err != nil {
		t.Fatalf("NewPCM() failed: %v", err)
	}

	output, err := encoder.Encode([]float32{1, -1, 0})
	if err != nil {
		t.Fatalf("Encode() unexpected error = %v", err)
	}
	if len(output) != 9 {
		t.Fatalf("Encode() output length = %d, want 9", len(output))
	}

	// 0x7FFFFF little-endian
	if output[0] != 0xFF || output[1] != 0xFF || output[2] != 0x7F {
		t.Errorf("positive full scale = %x", output[0:3])
	}
	// -0x7FFFFF = 0x800001
	if output[3] != 0x01 || output[4] != 0x00 || output[5] != 0x80 {
		t.Errorf("negative full scale = %x", output[3:6])
	}
	if output[6] != 0 || output[7] != 0 || output[8] != 0 {
		t.Errorf("zero = %x", output[6:9])
	}
}
