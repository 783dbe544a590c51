package vad

import (
	"fmt"
	"sync"

	"github.com/aria-assistant/aria/internal/sherpa"
)

// Silero VAD processing parameters.
const (
	// sileroWindowSize samples per inference window (32ms at 16kHz, the
	// frame size the model was trained on).
	sileroWindowSize = 512

	// sileroMinSpeechDuration in seconds; short enough to catch "yes"/"no".
	sileroMinSpeechDuration = 0.1

	// sileroMaxSpeechDuration caps a single detected segment.
	sileroMaxSpeechDuration = 30.0

	// sileroBufferSeconds of internal audio buffering.
	sileroBufferSeconds = 10.0
)

// SileroConfig configures the Silero model gate.
type SileroConfig struct {
	ModelPath  string
	Threshold  float32
	SampleRate int
	NumThreads int
	Verbose    bool
}

// SileroGate runs the Silero ONNX model through sherpa-onnx. The underlying
// detector is not thread-safe, so access is serialized with a mutex.
type SileroGate struct {
	mu  sync.Mutex
	vad *sherpa.VoiceActivityDetector
}

// NewSileroGate loads the Silero model.
func NewSileroGate(cfg SileroConfig) (*SileroGate, error) {
	vadConfig := &sherpa.VadModelConfig{}
	vadConfig.SileroVad.Model = cfg.ModelPath
	vadConfig.SileroVad.Threshold = cfg.Threshold
	vadConfig.SileroVad.MinSilenceDuration = 0.1
	vadConfig.SileroVad.MinSpeechDuration = sileroMinSpeechDuration
	vadConfig.SileroVad.MaxSpeechDuration = sileroMaxSpeechDuration
	vadConfig.SileroVad.WindowSize = sileroWindowSize
	vadConfig.SampleRate = cfg.SampleRate
	vadConfig.NumThreads = cfg.NumThreads
	if cfg.Verbose {
		vadConfig.Debug = 1
	}

	vad := sherpa.NewVoiceActivityDetector(vadConfig, sileroBufferSeconds)
	if vad == nil {
		return nil, fmt.Errorf("failed to load silero model from %s", cfg.ModelPath)
	}
	return &SileroGate{vad: vad}, nil
}

// Classify feeds one frame into the model and returns its current speech
// verdict. A panic inside the C bindings is converted to an error so the
// fail-open wrapper can take over.
func (g *SileroGate) Classify(frame []float32) (speech bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.vad == nil {
		return false, fmt.Errorf("silero gate closed")
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("silero inference panic: %v", r)
		}
	}()

	g.vad.AcceptWaveform(frame)
	speech = g.vad.IsSpeech()

	// The utterance boundary logic lives upstream; discard the detector's
	// own segmentation so its buffer stays bounded.
	for !g.vad.IsEmpty() {
		g.vad.Pop()
	}
	return speech, nil
}

// Close releases the detector.
func (g *SileroGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.vad != nil {
		sherpa.DeleteVoiceActivityDetector(g.vad)
		g.vad = nil
	}
}
