// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for encoders fed by microphone recorders
package encode

import "github.com/speechlink/speechlink-go/pkg/audio"

// Encoder encodes normalized float32 capture samples
type Encoder interface {
	// Encode converts interleaved samples to encoded audio data
	Encode(samples []float32) ([]byte, error)

	// Format describes the encoded output
	Format() audio.Format

	// Close releases encoder resources
	Close() error
}
