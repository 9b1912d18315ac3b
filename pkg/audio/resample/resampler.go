// ABOUTME: Simple linear resampler for converting capture frames to the upload rate
// ABOUTME: Keeps the last input frame so consecutive chunks interpolate without seams
package resample

import "math"

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64   // read position relative to the current chunk; -1 is lastFrame
	lastFrame  []float32 // one sample per channel
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	if channels < 1 {
		channels = 1
	}
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastFrame:  make([]float32, channels),
	}
}

// InputRate returns the source sample rate
func (r *Resampler) InputRate() int { return r.inputRate }

// OutputRate returns the target sample rate
func (r *Resampler) OutputRate() int { return r.outputRate }

// Resample converts interleaved input frames to the output rate, writing into
// output and returning the number of samples written.
func (r *Resampler) Resample(input []float32, output []float32) int {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return 0
	}
	outputFrames := len(output) / r.channels

	sample := func(frame, ch int) float32 {
		if frame < 0 {
			return r.lastFrame[ch]
		}
		return input[frame*r.channels+ch]
	}

	outIdx := 0
	for outIdx < outputFrames {
		idx := int(math.Floor(r.position))
		if idx+1 >= inputFrames {
			break
		}
		frac := float32(r.position - float64(idx))
		for ch := 0; ch < r.channels; ch++ {
			s1 := sample(idx, ch)
			s2 := sample(idx+1, ch)
			output[outIdx*r.channels+ch] = s1 + (s2-s1)*frac
		}
		outIdx++
		r.position += r.ratio
	}

	// Rebase so the last frame of this chunk becomes index -1 of the next
	r.position -= float64(inputFrames)
	copy(r.lastFrame, input[(inputFrames-1)*r.channels:inputFrames*r.channels])

	return outIdx * r.channels
}

// Process resamples input into a newly allocated slice
func (r *Resampler) Process(input []float32) []float32 {
	if r.inputRate == r.outputRate {
		out := make([]float32, len(input))
		copy(out, input)
		return out
	}
	out := make([]float32, r.OutputSamplesNeeded(len(input))+2*r.channels)
	n := r.Resample(input, out)
	return out[:n]
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
