// ABOUTME: Tests for audio resampler
// ABOUTME: Tests linear interpolation resampling between sample rates
package resample

import (
	"math"
	"testing"
)

func TestNew(t *testing.T) {
	r := New(48000, 16000, 1)

	if r.InputRate() != 48000 {
		t.Errorf("expected inputRate 48000, got %d", r.InputRate())
	}
	if r.OutputRate() != 16000 {
		t.Errorf("expected outputRate 16000, got %d", r.OutputRate())
	}
	if r.ratio != 3 {
		t.Errorf("expected ratio 3, got %f", r.ratio)
	}
}

func TestResampleDownsampling(t *testing.T) {
	r := New(48000, 16000, 1)

	input := make([]float32, 480)
	for i := range input {
		input[i] = float32(i) / 480
	}

	out := r.Process(input)

	if len(out) < 158 || len(out) > 161 {
		t.Fatalf("expected ~160 samples, got %d", len(out))
	}
	// Downsampling by 3 picks every third ramp value
	for i := 0; i < 10; i++ {
		want := float32(i*3) / 480
		if math.Abs(float64(out[i]-want)) > 1e-6 {
			t.Errorf("sample %d: expected %f, got %f", i, want, out[i])
		}
	}
}

func TestResampleUpsampling(t *testing.T) {
	r := New(8000, 16000, 1)
	input := []float32{0, 1, 0, -1}

	out := make([]float32, 16)
	n := r.Resample(input, out)

	expected := []float32{0, 0.5, 1, 0.5, 0, -0.5}
	if n != len(expected) {
		t.Fatalf("expected %d samples, got %d", len(expected), n)
	}
	for i, want := range expected {
		if out[i] != want {
			t.Errorf("sample %d: expected %f, got %f", i, want, out[i])
		}
	}
}

func TestResampleIsContinuousAcrossChunks(t *testing.T) {
	whole := New(44100, 16000, 1)
	chunked := New(44100, 16000, 1)

	input := make([]float32, 4410)
	for i := range input {
		input[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 44100))
	}

	a := whole.Process(input)
	var b []float32
	for i := 0; i < len(input); i += 441 {
		b = append(b, chunked.Process(input[i:i+441])...)
	}

	if d := len(a) - len(b); d < -1 || d > 1 {
		t.Fatalf("chunked output length %d differs from whole %d", len(b), len(a))
	}
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if math.Abs(float64(a[i]-b[i])) > 1e-4 {
			t.Fatalf("sample %d differs: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestResampleStereo(t *testing.T) {
	r := New(32000, 16000, 2)
	input := []float32{0, 1, 0.2, 1, 0.4, 1, 0.6, 1}
	out := make([]float32, 8)

	n := r.Resample(input, out)
	if n != 4 {
		t.Fatalf("expected 4 samples, got %d", n)
	}
	if out[0] != 0 || out[2] != 0.4 || out[1] != 1 || out[3] != 1 {
		t.Errorf("unexpected output: %v", out[:n])
	}
}

func TestSameRatePassThrough(t *testing.T) {
	r := New(16000, 16000, 1)
	in := []float32{0.1, 0.2, 0.3}
	out := r.Process(in)
	if len(out) != 3 || out[2] != 0.3 {
		t.Errorf("expected pass-through, got %v", out)
	}
}

func TestReset(t *testing.T) {
	r := New(48000, 16000, 1)
	r.Process([]float32{1, 1, 1, 1})
	r.Reset()
	if r.position != 0 || r.lastFrame[0] != 0 {
		t.Errorf("reset did not clear state")
	}
}
