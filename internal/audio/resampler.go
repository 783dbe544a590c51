package audio

// LinearResampler converts between sample rates with linear interpolation,
// carrying the last sample across calls for chunk continuity. Good enough for
// voice; playback paths that downsample should use PolyphaseResampler instead.
type LinearResampler struct {
	ratio      float64
	lastSample float32
}

// NewLinearResampler creates a streaming resampler for fromRate -> toRate.
func NewLinearResampler(fromRate, toRate int) *LinearResampler {
	return &LinearResampler{ratio: float64(toRate) / float64(fromRate)}
}

// Resample converts one chunk of samples.
func (r *LinearResampler) Resample(input []float32) []float32 {
	if r.ratio == 1.0 || len(input) == 0 {
		return input
	}

	inputLen := len(input)
	outputLen := int(float64(inputLen) * r.ratio)
	output := make([]float32, outputLen)

	for i := 0; i < outputLen; i++ {
		srcPos := float64(i) / r.ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		sample1 := r.lastSample
		if srcIdx < inputLen {
			sample1 = input[srcIdx]
		}

		sample2 := sample1
		if srcIdx+1 < inputLen {
			sample2 = input[srcIdx+1]
		} else if srcIdx < inputLen {
			sample2 = input[inputLen-1]
		}

		output[i] = sample1 + (sample2-sample1)*frac
	}

	r.lastSample = input[inputLen-1]
	return output
}

// ResampleLinear is the one-shot form. For streaming audio, keep a
// LinearResampler instance so chunk boundaries stay continuous.
func ResampleLinear(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate {
		return input
	}
	return NewLinearResampler(fromRate, toRate).Resample(input)
}
