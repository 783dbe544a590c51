package stt

import (
	"fmt"
	"strings"
	"sync"

	"github.com/aria-assistant/aria/internal/sherpa"
)

// WhisperConfig configures the local Whisper engine.
type WhisperConfig struct {
	Encoder    string
	Decoder    string
	Tokens     string
	Language   string // empty or "auto" enables language detection
	Provider   string // cpu, cuda, coreml
	NumThreads int
	SampleRate int
	Verbose    bool
}

// WhisperEngine transcribes with a local Whisper model through sherpa-onnx.
// It is a batch engine: frames accumulate until Flush decodes them in one
// pass. Decoding takes 100-500ms depending on utterance length and hardware.
type WhisperEngine struct {
	mu         sync.Mutex
	recognizer *sherpa.OfflineRecognizer
	buffer     []float32
	sampleRate int
}

// maxUtteranceSeconds bounds the audio buffer; Whisper degrades beyond 30s
// anyway.
const maxUtteranceSeconds = 30

// NewWhisperEngine loads the Whisper model.
func NewWhisperEngine(cfg WhisperConfig) (*WhisperEngine, error) {
	recognizerConfig := &sherpa.OfflineRecognizerConfig{}
	recognizerConfig.ModelConfig.Whisper.Encoder = cfg.Encoder
	recognizerConfig.ModelConfig.Whisper.Decoder = cfg.Decoder
	language := cfg.Language
	if strings.EqualFold(language, "auto") {
		language = ""
	}
	recognizerConfig.ModelConfig.Whisper.Language = language
	recognizerConfig.ModelConfig.Whisper.Task = "transcribe"
	recognizerConfig.ModelConfig.Whisper.TailPaddings = -1
	recognizerConfig.ModelConfig.Tokens = cfg.Tokens
	recognizerConfig.ModelConfig.NumThreads = cfg.NumThreads
	recognizerConfig.ModelConfig.Provider = cfg.Provider
	recognizerConfig.DecodingMethod = "greedy_search"
	if cfg.Verbose {
		recognizerConfig.ModelConfig.Debug = 1
	}

	recognizer := sherpa.NewOfflineRecognizer(recognizerConfig)
	if recognizer == nil {
		return nil, fmt.Errorf("failed to create whisper recognizer (encoder=%s)", cfg.Encoder)
	}

	return &WhisperEngine{
		recognizer: recognizer,
		sampleRate: cfg.SampleRate,
		buffer:     make([]float32, 0, cfg.SampleRate*4),
	}, nil
}

// AcceptFrame buffers audio; batch decoding never completes early.
func (e *WhisperEngine) AcceptFrame(frame []float32) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.recognizer == nil {
		return "", fmt.Errorf("whisper engine closed")
	}
	if len(e.buffer) < e.sampleRate*maxUtteranceSeconds {
		e.buffer = append(e.buffer, frame...)
	}
	return "", nil
}

// Flush decodes everything buffered since the last Flush.
func (e *WhisperEngine) Flush() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.recognizer == nil {
		return "", fmt.Errorf("whisper engine closed")
	}
	samples := e.buffer
	e.buffer = e.buffer[:0]

	if len(samples) == 0 {
		return "", nil
	}

	stream := sherpa.NewOfflineStream(e.recognizer)
	if stream == nil {
		return "", fmt.Errorf("failed to create decoding stream")
	}
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(e.sampleRate, samples)
	e.recognizer.Decode(stream)

	return strings.TrimSpace(stream.GetResult().Text), nil
}

// Close releases the model.
func (e *WhisperEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(e.recognizer)
		e.recognizer = nil
	}
	return nil
}
