package tts

import (
	"fmt"
	"strings"
	"sync"

	"github.com/aria-assistant/aria/internal/audio"
	"github.com/aria-assistant/aria/internal/sherpa"
)

// kokoroSampleRate is fixed by the model.
const kokoroSampleRate = 24000

// KokoroConfig configures the Kokoro synthesizer.
type KokoroConfig struct {
	Model      string // model.onnx
	Voices     string // voices.bin
	Tokens     string // tokens.txt
	DataDir    string // espeak-ng-data directory
	DictDir    string // jieba dict directory (Chinese voices)
	Lexicon    string // optional lexicon.txt
	Language   string // espeak language code for non-lexicon voices
	SpeakerID  int
	Speed      float32
	Provider   string // cpu, cuda, coreml
	NumThreads int
	Verbose    bool
}

// Kokoro synthesizes speech with the Kokoro multi-lang model through
// sherpa-onnx. The engine is not thread-safe; access is serialized.
type Kokoro struct {
	mu        sync.Mutex
	tts       *sherpa.OfflineTts
	speakerID int
	speed     float32
}

// NewKokoro loads the Kokoro model.
func NewKokoro(cfg KokoroConfig) (*Kokoro, error) {
	ttsConfig := &sherpa.OfflineTtsConfig{}
	ttsConfig.Model.Kokoro.Model = cfg.Model
	ttsConfig.Model.Kokoro.Voices = cfg.Voices
	ttsConfig.Model.Kokoro.Tokens = cfg.Tokens
	ttsConfig.Model.Kokoro.DataDir = cfg.DataDir
	ttsConfig.Model.Kokoro.DictDir = cfg.DictDir
	ttsConfig.Model.Kokoro.Lexicon = cfg.Lexicon
	ttsConfig.Model.Kokoro.Lang = cfg.Language
	ttsConfig.Model.Kokoro.LengthScale = 1.0 / cfg.Speed
	ttsConfig.Model.NumThreads = cfg.NumThreads
	ttsConfig.Model.Provider = cfg.Provider
	ttsConfig.MaxNumSentences = 1 // Kokoro decodes one sentence at a time
	if cfg.Verbose {
		ttsConfig.Model.Debug = 1
	}

	tts := sherpa.NewOfflineTts(ttsConfig)
	if tts == nil {
		return nil, fmt.Errorf("failed to load kokoro model from %s", cfg.Model)
	}

	return &Kokoro{
		tts:       tts,
		speakerID: cfg.SpeakerID,
		speed:     cfg.Speed,
	}, nil
}

// Synthesize generates audio for one phrase.
func (k *Kokoro) Synthesize(text string) (audio.Buffer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Buffer{}, fmt.Errorf("empty text")
	}
	if k.tts == nil {
		return audio.Buffer{}, fmt.Errorf("synthesizer closed")
	}

	generated := k.tts.Generate(text, k.speakerID, k.speed)
	if generated == nil || len(generated.Samples) == 0 {
		return audio.Buffer{}, fmt.Errorf("synthesis produced no audio for %q", text)
	}

	rate := int(generated.SampleRate)
	if rate == 0 {
		rate = kokoroSampleRate
	}
	return audio.Buffer{Samples: generated.Samples, SampleRate: rate}, nil
}

// Close releases the model.
// SampleRate of generated audio, fixed by the model.
func (k *Kokoro) SampleRate() int {
	return kokoroSampleRate
}

func (k *Kokoro) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.tts != nil {
		sherpa.DeleteOfflineTts(k.tts)
		k.tts = nil
	}
}
