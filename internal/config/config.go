// Package config provides configuration and CLI argument parsing for aria.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/aria-assistant/aria/internal/sherpa"
)

// Config holds all settings for the assistant. It is populated once by
// ParseFlags (defaults -> .env -> ARIA_* environment -> CLI flags) and is
// treated as immutable afterwards; components receive it by reference and
// never read ambient state.
type Config struct {
	// Model paths
	ModelDir string
	VADModel string

	WhisperEncoder string
	WhisperDecoder string
	WhisperTokens  string

	TTSModel    string
	TTSVoices   string
	TTSTokens   string
	TTSData     string
	TTSLexicon  string
	TTSLanguage string

	// Audio
	SampleRate    int
	AudioBufferMs uint32
	// HalfDuplex pauses the microphone while the assistant is speaking.
	// Use on open speakers; headset users can leave it off and rely on barge-in.
	HalfDuplex          bool
	PostPlaybackDelayMs int

	// Voice activity gating and utterance timing
	VADThreshold    float32
	TriggerMs       int // speech required to enter an utterance
	ReleaseMs       int // silence required to end an utterance
	ListenTimeoutMs int // overall no-audio timeout for one listen call

	// STT
	STTEngine    string // "sherpa" or "remote"
	STTLanguage  string
	RemoteSTTURL string
	RemoteSTTKey string

	// LLM
	LLMProvider   string // primary provider: "ollama" or "openai"
	OllamaURL     string
	OllamaModel   string
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	Temperature   float32
	MaxTokens     int
	MaxHistory    int
	LLMTimeoutS   int

	// TTS
	TTSVoice      string
	TTSSpeakerID  int
	TTSSpeed      float32
	MinChunkChars int
	BoundaryRegex *regexp.Regexp

	// Activation
	Hotkey   string
	WakeWord string

	// Autonomy
	AutonomyEnabled     bool
	AutonomyIntervalS   int
	ConfidenceThreshold float64
	MaxMemorySnippets   int
	DecisionKeywords    []string
	HighValueTopics     []string
	HesitationPatterns  []string
	ConfirmYesWords     []string
	ConfirmNoWords      []string
	ConfirmTimeoutS     int
	BatchWindowS        float64
	IdleThresholdS      float64

	// Memory / knowledge
	MemoryEnabled    bool
	MemoryPath       string
	KnowledgeEnabled bool
	KnowledgeTopK    int

	// Persona
	PersonaPath string

	// Hardware acceleration (cpu, cuda, coreml); auto-detected if empty
	Provider    string
	STTProvider string
	TTSProvider string

	// Thread counts (0 = auto based on CPU cores)
	NumThreads int
	VADThreads int
	STTThreads int
	TTSThreads int

	LogFile string
	Verbose bool
}

const defaultBoundaryPattern = `[.!?]+[\s"')\]]|[.!?]+$|\n`

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		ModelDir:   filepath.Join(homeDir, ".aria", "models"),
		SampleRate: 16000,

		AudioBufferMs:       0,
		HalfDuplex:          false,
		PostPlaybackDelayMs: 300,

		VADThreshold:    0.5,
		TriggerMs:       250,
		ReleaseMs:       300,
		ListenTimeoutMs: 5000,

		STTEngine:   "sherpa",
		STTLanguage: "en",

		LLMProvider: "ollama",
		OllamaURL:   "http://localhost:11434",
		OllamaModel: "gemma3:1b",
		OpenAIModel: "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   300,
		MaxHistory:  10,
		LLMTimeoutS: 60,

		TTSVoice:      "af_bella",
		TTSSpeakerID:  2,
		TTSSpeed:      0.93,
		MinChunkChars: 12,
		BoundaryRegex: regexp.MustCompile(defaultBoundaryPattern),

		Hotkey:   "f8",
		WakeWord: "",

		AutonomyEnabled:     true,
		AutonomyIntervalS:   45,
		ConfidenceThreshold: 0.6,
		MaxMemorySnippets:   5,
		DecisionKeywords: []string{
			"should i", "what if", "maybe", "i think", "i'm not sure", "help me decide",
			"i need to", "i want to", "i have to", "i should", "i could", "i might",
			"what do you think", "any suggestions", "any ideas", "what would you do",
		},
		HighValueTopics: []string{
			"work", "project", "meeting", "deadline", "plan", "schedule", "task",
			"problem", "issue", "decision", "choice", "option", "strategy",
		},
		HesitationPatterns: []string{
			`\b(um|uh|er|ah|hmm|well|so|like|you know)\b`,
			`\b(i mean|i guess|i suppose|sort of|kind of)\b`,
		},
		ConfirmYesWords: []string{"yes", "sure", "okay", "go ahead", "please", "sounds good"},
		ConfirmNoWords:  []string{"no", "not now", "later", "skip", "dismiss"},
		ConfirmTimeoutS: 4,
		BatchWindowS:    2.0,
		IdleThresholdS:  3.0,

		MemoryEnabled:    true,
		MemoryPath:       filepath.Join("data", "aria.db"),
		KnowledgeEnabled: true,
		KnowledgeTopK:    5,

		PersonaPath: filepath.Join("config", "persona.yaml"),

		LogFile: "",
		Verbose: false,
	}
}

// ParseFlags parses .env, environment overrides and command-line flags.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	// .env is optional; absence is not an error.
	_ = godotenv.Load()
	cfg.applyEnv()

	flag.StringVar(&cfg.ModelDir, "model-dir", cfg.ModelDir, "Directory containing model files (Whisper, VAD, TTS)")
	flag.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Audio sample rate for speech recognition")
	flag.BoolVar(&cfg.HalfDuplex, "half-duplex", cfg.HalfDuplex, "Pause microphone during playback (open speakers)")
	flag.IntVar(&cfg.PostPlaybackDelayMs, "post-playback-delay-ms", cfg.PostPlaybackDelayMs, "Delay before resuming the microphone after playback (half-duplex)")

	vadThreshold := float64(cfg.VADThreshold)
	flag.Float64Var(&vadThreshold, "vad-threshold", vadThreshold, "Voice activity detection threshold (0.0-1.0)")
	flag.IntVar(&cfg.TriggerMs, "vad-trigger-ms", cfg.TriggerMs, "Speech duration before an utterance starts")
	flag.IntVar(&cfg.ReleaseMs, "vad-release-ms", cfg.ReleaseMs, "Silence duration before an utterance ends")
	flag.IntVar(&cfg.ListenTimeoutMs, "listen-timeout-ms", cfg.ListenTimeoutMs, "Overall listen timeout when no speech arrives")

	flag.StringVar(&cfg.STTEngine, "stt-engine", cfg.STTEngine, "Speech recognition engine: sherpa or remote")
	flag.StringVar(&cfg.STTLanguage, "stt-language", cfg.STTLanguage, "STT language code (e.g. 'en', 'es', 'auto')")
	flag.StringVar(&cfg.RemoteSTTURL, "remote-stt-url", cfg.RemoteSTTURL, "WebSocket URL for the remote STT engine")

	flag.StringVar(&cfg.LLMProvider, "llm-provider", cfg.LLMProvider, "Primary LLM provider: ollama or openai")
	flag.StringVar(&cfg.OllamaURL, "ollama-url", cfg.OllamaURL, "Ollama API URL")
	flag.StringVar(&cfg.OllamaModel, "ollama-model", cfg.OllamaModel, "Ollama model name")
	flag.StringVar(&cfg.OpenAIModel, "openai-model", cfg.OpenAIModel, "OpenAI-compatible model name")
	flag.IntVar(&cfg.MaxHistory, "max-history", cfg.MaxHistory, "Maximum conversation history length (message pairs)")
	temperature := float64(cfg.Temperature)
	flag.Float64Var(&temperature, "temperature", temperature, "LLM temperature (0.0-2.0)")

	flag.StringVar(&cfg.TTSVoice, "tts-voice", cfg.TTSVoice, "Kokoro TTS voice name (e.g. 'bf_emma')")
	flag.IntVar(&cfg.TTSSpeakerID, "tts-speaker-id", cfg.TTSSpeakerID, "Kokoro speaker ID for the chosen voice")
	ttsSpeed := float64(cfg.TTSSpeed)
	flag.Float64Var(&ttsSpeed, "tts-speed", ttsSpeed, "Text-to-speech speed multiplier")
	flag.IntVar(&cfg.MinChunkChars, "min-chunk-chars", cfg.MinChunkChars, "Minimum phrase length before streaming to TTS")

	flag.StringVar(&cfg.Hotkey, "hotkey", cfg.Hotkey, "Push-to-talk hotkey (f1-f12, space, enter)")
	flag.StringVar(&cfg.WakeWord, "wake-word", cfg.WakeWord, "Wake phrase to activate the assistant (optional)")

	flag.BoolVar(&cfg.AutonomyEnabled, "autonomy", cfg.AutonomyEnabled, "Enable background suggestions")
	flag.IntVar(&cfg.AutonomyIntervalS, "autonomy-interval-s", cfg.AutonomyIntervalS, "Minimum seconds between autonomous suggestions")
	flag.Float64Var(&cfg.ConfidenceThreshold, "autonomy-threshold", cfg.ConfidenceThreshold, "Confidence required to surface a suggestion")

	flag.BoolVar(&cfg.MemoryEnabled, "memory", cfg.MemoryEnabled, "Enable persistent conversation memory")
	flag.StringVar(&cfg.MemoryPath, "memory-path", cfg.MemoryPath, "Path to the SQLite memory database")
	flag.StringVar(&cfg.PersonaPath, "persona", cfg.PersonaPath, "Path to the persona YAML file")

	flag.StringVar(&cfg.Provider, "provider", cfg.Provider, "Hardware acceleration provider (cpu, cuda, coreml); auto-detected if empty")
	flag.StringVar(&cfg.STTProvider, "stt-provider", cfg.STTProvider, "Provider override for STT")
	flag.StringVar(&cfg.TTSProvider, "tts-provider", cfg.TTSProvider, "Provider override for TTS")
	flag.IntVar(&cfg.NumThreads, "num-threads", cfg.NumThreads, "Threads for all models (0 = auto)")

	audioBufferMs := flag.Uint("audio-buffer-ms", uint(cfg.AudioBufferMs), "Audio buffer size in ms (0 = 100ms, Bluetooth-friendly)")
	boundary := flag.String("sentence-boundary", defaultBoundaryPattern, "Regex marking speakable phrase boundaries")

	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Optional log file (JSON stream)")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")

	flag.Parse()

	cfg.VADThreshold = float32(vadThreshold)
	cfg.Temperature = float32(temperature)
	cfg.TTSSpeed = float32(ttsSpeed)
	cfg.AudioBufferMs = uint32(*audioBufferMs)

	// An explicit -tts-speaker-id wins; otherwise derive it from the voice.
	speakerSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "tts-speaker-id" {
			speakerSet = true
		}
	})
	if !speakerSet {
		if v := GetVoice(cfg.TTSVoice); v != nil {
			cfg.TTSSpeakerID = v.SpeakerID
		}
	}

	re, err := regexp.Compile(*boundary)
	if err != nil {
		return nil, fmt.Errorf("invalid sentence boundary regex: %w", err)
	}
	cfg.BoundaryRegex = re

	if cfg.Provider == "" {
		cfg.Provider = detectProvider()
	}
	if cfg.STTProvider == "" {
		cfg.STTProvider = cfg.Provider
	}
	if cfg.TTSProvider == "" {
		cfg.TTSProvider = cfg.Provider
	}
	cfg.normalizeThreadCounts()
	cfg.derivePaths()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides defaults from ARIA_* environment variables.
// Lists are comma-separated. Malformed values keep the default.
func (c *Config) applyEnv() {
	envStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			switch strings.ToLower(v) {
			case "true", "1", "yes":
				*dst = true
			case "false", "0", "no":
				*dst = false
			}
		}
	}
	envList := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			if len(out) > 0 {
				*dst = out
			}
		}
	}

	envStr("ARIA_MODEL_DIR", &c.ModelDir)
	envStr("ARIA_OLLAMA_URL", &c.OllamaURL)
	envStr("ARIA_OLLAMA_MODEL", &c.OllamaModel)
	envStr("ARIA_LLM_PROVIDER", &c.LLMProvider)
	envStr("ARIA_OPENAI_API_KEY", &c.OpenAIKey)
	envStr("ARIA_OPENAI_BASE_URL", &c.OpenAIBaseURL)
	envStr("ARIA_OPENAI_MODEL", &c.OpenAIModel)
	envStr("ARIA_REMOTE_STT_URL", &c.RemoteSTTURL)
	envStr("ARIA_REMOTE_STT_KEY", &c.RemoteSTTKey)
	envStr("ARIA_HOTKEY", &c.Hotkey)
	envStr("ARIA_WAKE_WORD", &c.WakeWord)
	envStr("ARIA_MEMORY_PATH", &c.MemoryPath)
	envStr("ARIA_PERSONA", &c.PersonaPath)
	envInt("ARIA_AUTONOMY_INTERVAL_S", &c.AutonomyIntervalS)
	envInt("ARIA_MAX_HISTORY", &c.MaxHistory)
	envBool("ARIA_AUTONOMY", &c.AutonomyEnabled)
	envBool("ARIA_MEMORY", &c.MemoryEnabled)
	envBool("ARIA_KNOWLEDGE", &c.KnowledgeEnabled)
	envBool("ARIA_HALF_DUPLEX", &c.HalfDuplex)
	envBool("ARIA_VERBOSE", &c.Verbose)
	envList("ARIA_DECISION_KEYWORDS", &c.DecisionKeywords)
	envList("ARIA_HIGH_VALUE_TOPICS", &c.HighValueTopics)
	envList("ARIA_CONFIRM_YES_WORDS", &c.ConfirmYesWords)
	envList("ARIA_CONFIRM_NO_WORDS", &c.ConfirmNoWords)
}

// derivePaths resolves model file paths relative to ModelDir.
func (c *Config) derivePaths() {
	c.VADModel = filepath.Join(c.ModelDir, "silero_vad.onnx")
	c.WhisperEncoder = filepath.Join(c.ModelDir, "whisper", "whisper-small-encoder.int8.onnx")
	c.WhisperDecoder = filepath.Join(c.ModelDir, "whisper", "whisper-small-decoder.int8.onnx")
	c.WhisperTokens = filepath.Join(c.ModelDir, "whisper", "whisper-small-tokens.txt")

	ttsDir := filepath.Join(c.ModelDir, "tts", "kokoro-multi-lang-v1_0")
	c.TTSModel = filepath.Join(ttsDir, "model.onnx")
	c.TTSVoices = filepath.Join(ttsDir, "voices.bin")
	c.TTSTokens = filepath.Join(ttsDir, "tokens.txt")
	c.TTSData = filepath.Join(ttsDir, "espeak-ng-data")
	c.TTSLexicon = lexiconForVoice(ttsDir, c.TTSVoice)
	c.TTSLanguage = languageForVoice(c.TTSVoice)
}

// normalizeThreadCounts picks thread counts from the CPU core count.
// VAD is lightweight; Whisper and Kokoro are the CPU-heavy stages.
func (c *Config) normalizeThreadCounts() {
	if c.NumThreads == 0 {
		c.NumThreads = max(1, runtime.NumCPU()/3)
	}
	if c.VADThreads == 0 {
		c.VADThreads = 1
	}
	if c.STTThreads == 0 {
		c.STTThreads = c.NumThreads
	}
	if c.TTSThreads == 0 {
		c.TTSThreads = c.NumThreads
	}
}

func (c *Config) validate() error {
	switch c.STTEngine {
	case "sherpa", "remote":
	default:
		return fmt.Errorf("invalid stt engine %q (must be 'sherpa' or 'remote')", c.STTEngine)
	}
	if c.STTEngine == "remote" && c.RemoteSTTURL == "" {
		return fmt.Errorf("remote STT engine selected but no -remote-stt-url given")
	}
	switch c.LLMProvider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid llm provider %q (must be 'ollama' or 'openai')", c.LLMProvider)
	}
	if c.LLMProvider == "openai" && c.OpenAIKey == "" {
		return fmt.Errorf("openai provider selected but ARIA_OPENAI_API_KEY is not set")
	}

	// The remote STT engine needs no local VAD/Whisper models.
	required := []string{c.TTSModel, c.TTSVoices, c.TTSTokens}
	if c.STTEngine == "sherpa" {
		required = append(required, c.VADModel, c.WhisperEncoder, c.WhisperDecoder, c.WhisperTokens)
	}
	for _, path := range required {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("required file not found: %s\nRun scripts/setup.sh to download models", path)
		}
	}
	return nil
}

// detectProvider picks the best acceleration provider for this platform.
func detectProvider() string {
	switch runtime.GOOS {
	case "darwin":
		return "coreml"
	case "linux":
		if sherpa.HasNvidiaGPU() {
			return "cuda"
		}
		return "cpu"
	default:
		return "cpu"
	}
}
