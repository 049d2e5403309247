// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Converts interleaved stereo float batches using linear interpolation
package resample

import "github.com/lucalewin/sonar/pkg/audio"

// Resampler performs linear interpolation to convert between sample rates.
// It keeps the last input frame so consecutive batches join without gaps.
type Resampler struct {
	inputRate  int
	outputRate int
	ratio      float64
	position   float64 // relative to prev
	prev       [audio.Channels]float32
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		ratio:      float64(inputRate) / float64(outputRate),
	}
}

// Passthrough reports whether input and output rates are equal
func (r *Resampler) Passthrough() bool {
	return r.inputRate == r.outputRate
}

// OutputRate returns the rate produced by Resample
func (r *Resampler) OutputRate() int {
	return r.outputRate
}

// Resample converts an interleaved stereo batch and appends the result to
// dst. Output lags input by one frame.
func (r *Resampler) Resample(dst, input audio.Batch) audio.Batch {
	frames := len(input) / audio.Channels
	if frames == 0 {
		return dst
	}

	if !r.primed {
		copy(r.prev[:], input[:audio.Channels])
		input = input[audio.Channels:]
		frames--
		r.primed = true
	}

	// frame(0) is prev, frame(k) is input frame k-1
	frame := func(k, ch int) float32 {
		if k == 0 {
			return r.prev[ch]
		}
		return input[(k-1)*audio.Channels+ch]
	}

	for {
		idx := int(r.position)
		if idx+1 > frames {
			break
		}

		frac := float32(r.position - float64(idx))
		for ch := 0; ch < audio.Channels; ch++ {
			s1 := frame(idx, ch)
			s2 := frame(idx+1, ch)
			dst = append(dst, s1*(1-frac)+s2*frac)
		}

		r.position += r.ratio
	}

	if frames > 0 {
		copy(r.prev[:], input[(frames-1)*audio.Channels:])
		r.position -= float64(frames)
	}
	return dst
}

// Reset forgets the carried frame and position
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	r.prev = [audio.Channels]float32{}
}

// OutputFrames estimates the number of output frames for inputFrames
func (r *Resampler) OutputFrames(inputFrames int) int {
	return inputFrames * r.outputRate / r.inputRate
}
