package vad

import "math"

// Energy gate thresholds, tuned for normalized float32 microphone input.
// The gap between the two creates hysteresis so the gate does not flutter
// around a single threshold during quiet speech.
const (
	energySpeechThreshold  = 0.015
	energySilenceThreshold = 0.008
)

// EnergyGate is an RMS-based detector. It has no model dependencies and is
// used as the fallback when the Silero model is unavailable, and in tests.
type EnergyGate struct {
	speaking bool
}

// NewEnergyGate creates an RMS energy gate.
func NewEnergyGate() *EnergyGate {
	return &EnergyGate{}
}

// Classify computes frame RMS and applies hysteresis: entering speech
// requires the higher threshold, leaving it the lower one.
func (g *EnergyGate) Classify(frame []float32) (bool, error) {
	if len(frame) == 0 {
		return g.speaking, nil
	}

	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))

	if g.speaking {
		g.speaking = rms >= energySilenceThreshold
	} else {
		g.speaking = rms >= energySpeechThreshold
	}
	return g.speaking, nil
}

// Close is a no-op; the energy gate holds no resources.
func (g *EnergyGate) Close() {}
