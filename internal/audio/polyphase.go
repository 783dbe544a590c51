package audio

import "math"

// polyphaseFilterLen taps balance stop-band attenuation against per-sample
// cost on embedded targets.
const polyphaseFilterLen = 64

// PolyphaseResampler downsamples with a windowed-sinc low-pass filter to
// prevent aliasing (e.g. a 48kHz microphone feeding a 16kHz recognizer).
// Upsampling falls back to linear interpolation, which is sufficient there.
type PolyphaseResampler struct {
	ratio      float64
	filter     []float32
	history    []float32
	lastSample float32
}

// NewPolyphaseResampler builds the filter for fromRate -> toRate. The cutoff
// sits at the output Nyquist frequency when downsampling.
func NewPolyphaseResampler(fromRate, toRate int) *PolyphaseResampler {
	ratio := float64(toRate) / float64(fromRate)

	cutoff := 0.5
	if ratio < 1.0 {
		cutoff = ratio * 0.5
	}

	// Windowed sinc: Hamming window over a sinc centered in the tap array.
	filter := make([]float32, polyphaseFilterLen)
	for i := range filter {
		n := float64(i) - float64(polyphaseFilterLen-1)/2.0
		if n == 0 {
			filter[i] = float32(2.0 * cutoff)
			continue
		}
		sinc := math.Sin(2.0*math.Pi*cutoff*n) / (math.Pi * n)
		window := 0.54 - 0.46*math.Cos(2.0*math.Pi*float64(i)/float64(polyphaseFilterLen-1))
		filter[i] = float32(sinc * window)
	}

	// Normalize for unity DC gain.
	var sum float32
	for _, f := range filter {
		sum += f
	}
	for i := range filter {
		filter[i] /= sum
	}

	return &PolyphaseResampler{
		ratio:   ratio,
		filter:  filter,
		history: make([]float32, polyphaseFilterLen),
	}
}

// Resample converts one chunk of samples, preserving filter state across
// chunk boundaries.
func (r *PolyphaseResampler) Resample(input []float32) []float32 {
	if r.ratio == 1.0 || len(input) == 0 {
		return input
	}
	if r.ratio > 1.0 {
		return r.upsample(input)
	}
	return r.downsample(input)
}

func (r *PolyphaseResampler) upsample(input []float32) []float32 {
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

func (r *PolyphaseResampler) downsample(input []float32) []float32 {
	inputLen := len(input)
	outputLen := int(float64(inputLen) * r.ratio)
	output := make([]float32, outputLen)

	combined := append(r.history, input...)

	for i := 0; i < outputLen; i++ {
		srcPos := float64(i) / r.ratio
		srcIdx := int(srcPos) + len(r.history)

		var sample float32
		for j := 0; j < polyphaseFilterLen; j++ {
			idx := srcIdx - polyphaseFilterLen/2 + j
			if idx >= 0 && idx < len(combined) {
				sample += combined[idx] * r.filter[j]
			}
		}
		output[i] = sample
	}

	if inputLen >= polyphaseFilterLen {
		copy(r.history, input[inputLen-polyphaseFilterLen:])
	} else {
		shift := polyphaseFilterLen - inputLen
		copy(r.history, r.history[inputLen:])
		copy(r.history[shift:], input)
	}

	return output
}
