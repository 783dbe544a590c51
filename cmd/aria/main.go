// Aria is a hands-free voice assistant: push-to-talk or wake-word activation,
// streaming transcription, LLM responses spoken phrase by phrase, and a
// background engine that offers suggestions when you seem stuck.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aria-assistant/aria/internal/audio"
	"github.com/aria-assistant/aria/internal/autonomy"
	"github.com/aria-assistant/aria/internal/brain"
	"github.com/aria-assistant/aria/internal/config"
	"github.com/aria-assistant/aria/internal/llm"
	"github.com/aria-assistant/aria/internal/logging"
	"github.com/aria-assistant/aria/internal/memory"
	"github.com/aria-assistant/aria/internal/persona"
	"github.com/aria-assistant/aria/internal/session"
	"github.com/aria-assistant/aria/internal/stt"
	"github.com/aria-assistant/aria/internal/trigger"
	"github.com/aria-assistant/aria/internal/tts"
	"github.com/aria-assistant/aria/internal/vad"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "aria: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.ParseFlags()
	if err != nil {
		return err
	}

	log := logging.New(cfg.Verbose)
	if cfg.LogFile != "" {
		log, err = logging.NewWithFile(cfg.Verbose, cfg.LogFile)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
	}

	log.Info().
		Str("stt", cfg.STTEngine).
		Str("llm", cfg.LLMProvider).
		Str("voice", cfg.TTSVoice).
		Str("accel", cfg.Provider).
		Msg("starting aria")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chain, err := buildLLM(cfg, log)
	if err != nil {
		return err
	}
	if !chain.Healthy(ctx) {
		log.Warn().Msg("no LLM provider is reachable yet, responses will fail until one comes up")
	}

	var store *memory.Store
	if cfg.MemoryEnabled {
		store, err = memory.Open(cfg.MemoryPath)
		if err != nil {
			return fmt.Errorf("failed to open memory store: %w", err)
		}
		defer store.Close()
		if !cfg.KnowledgeEnabled {
			store.SetKnowledgeLimit(0)
		} else if cfg.KnowledgeTopK > 0 {
			store.SetKnowledgeLimit(cfg.KnowledgeTopK)
		}
	}

	pers, err := persona.Load(cfg.PersonaPath)
	if err != nil {
		return fmt.Errorf("failed to load persona: %w", err)
	}
	log.Info().Str("persona", pers.Name).Msg("persona loaded")

	var brainMem brain.Memory
	if store != nil {
		brainMem = store
	}
	mind := brain.New(chain, pers, brainMem, brain.Config{
		MaxHistory:  cfg.MaxHistory,
		MaxSnippets: cfg.MaxMemorySnippets,
	}, log)

	gate, err := buildGate(cfg, log)
	if err != nil {
		return err
	}
	defer gate.Close()

	engine, err := buildSTT(cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	transcriber := stt.NewTranscriber(gate, engine, stt.TranscriberConfig{
		SampleRate: cfg.SampleRate,
		TriggerMs:  cfg.TriggerMs,
		ReleaseMs:  cfg.ReleaseMs,
		TimeoutMs:  cfg.ListenTimeoutMs,
	}, log)

	log.Info().Msg("loading text-to-speech model")
	kokoro, err := tts.NewKokoro(tts.KokoroConfig{
		Model:      cfg.TTSModel,
		Voices:     cfg.TTSVoices,
		Tokens:     cfg.TTSTokens,
		DataDir:    cfg.TTSData,
		Lexicon:    cfg.TTSLexicon,
		Language:   cfg.TTSLanguage,
		SpeakerID:  cfg.TTSSpeakerID,
		Speed:      cfg.TTSSpeed,
		Provider:   cfg.TTSProvider,
		NumThreads: cfg.TTSThreads,
		Verbose:    cfg.Verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}
	defer kokoro.Close()

	var playbackInterrupt atomic.Bool
	player, err := audio.NewPlayer(kokoro.SampleRate(), cfg.AudioBufferMs, &playbackInterrupt, log)
	if err != nil {
		return fmt.Errorf("failed to create audio player: %w", err)
	}
	defer player.Close()

	speaker := tts.NewSpeaker(kokoro, player, log)
	defer speaker.Close()

	capturer, err := audio.NewCapturer(cfg.SampleRate, log)
	if err != nil {
		return fmt.Errorf("failed to create audio capturer: %w", err)
	}
	defer capturer.Close()
	if err := capturer.Start(); err != nil {
		return fmt.Errorf("failed to start audio capture: %w", err)
	}

	controller := session.NewController(session.Config{
		Chunker: tts.ChunkerConfig{
			BoundaryPattern: cfg.BoundaryRegex.String(),
			MinChars:        cfg.MinChunkChars,
		},
		HalfDuplex:  cfg.HalfDuplex,
		ResumeDelay: time.Duration(cfg.PostPlaybackDelayMs) * time.Millisecond,
	}, capturer, transcriber, mind, speaker, log)

	if cfg.AutonomyEnabled {
		scorer, err := autonomy.NewScorer(autonomy.ScorerConfig{
			DecisionKeywords:   cfg.DecisionKeywords,
			HighValueTopics:    cfg.HighValueTopics,
			HesitationPatterns: cfg.HesitationPatterns,
		})
		if err != nil {
			return fmt.Errorf("failed to create suggestion scorer: %w", err)
		}

		var src autonomy.MemorySource
		if store != nil {
			src = store
		}
		eng := autonomy.NewEngine(scorer, src, autonomy.EngineConfig{
			Interval:            time.Duration(cfg.AutonomyIntervalS) * time.Second,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			MaxSnippets:         cfg.MaxMemorySnippets,
		}, log)
		eng.Start()
		defer eng.Stop()

		// The controller is the coordinator's voice: the dialogue reserves
		// the speech path, so it never overlaps a conversation turn or the
		// wake listener.
		renderer := session.NewSuggestionRenderer(mind)
		coord := autonomy.NewCoordinator(ctx, controller, renderer, autonomy.CoordinatorConfig{
			BatchWindow:   time.Duration(cfg.BatchWindowS * float64(time.Second)),
			IdleThreshold: time.Duration(cfg.IdleThresholdS * float64(time.Second)),
			ListenTimeout: time.Duration(cfg.ConfirmTimeoutS) * time.Second,
			YesWords:      cfg.ConfirmYesWords,
			NoWords:       cfg.ConfirmNoWords,
		}, log)

		controller.EnableAutonomy(eng, coord)
	}

	triggers := make(chan trigger.Event, 4)

	hotkey, err := trigger.NewHotkey(cfg.Hotkey, log)
	if err != nil {
		return fmt.Errorf("failed to bind hotkey: %w", err)
	}
	defer hotkey.Close()
	go func() {
		for ev := range hotkey.Events() {
			select {
			case triggers <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	if matcher := trigger.NewWakeMatcher(cfg.WakeWord); matcher.Enabled() {
		log.Info().Str("wake_word", cfg.WakeWord).Msg("wake word enabled")
		go wakeLoop(ctx, controller, transcriber, capturer, matcher, triggers, log)
	}

	log.Info().Str("hotkey", cfg.Hotkey).Msg("ready, press the hotkey to talk")

	if err := controller.Run(ctx, triggers); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("shutting down")
	return nil
}

// buildLLM assembles the provider chain: the configured primary first, any
// other configured provider as fallback.
func buildLLM(cfg *config.Config, log zerolog.Logger) (*llm.Chain, error) {
	var ollamaP, openaiP llm.Provider

	ollama, err := llm.NewOllama(llm.OllamaConfig{
		URL:         cfg.OllamaURL,
		Model:       cfg.OllamaModel,
		Temperature: float64(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
		Timeout:     time.Duration(cfg.LLMTimeoutS) * time.Second,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama provider: %w", err)
	}
	ollamaP = ollama

	if cfg.OpenAIKey != "" {
		openaiP, err = llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:      cfg.OpenAIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai provider: %w", err)
		}
	}

	var providers []llm.Provider
	if cfg.LLMProvider == "openai" {
		providers = append(providers, openaiP, ollamaP)
	} else {
		providers = append(providers, ollamaP)
		if openaiP != nil {
			providers = append(providers, openaiP)
		}
	}
	// Drop unconfigured slots.
	active := providers[:0]
	for _, p := range providers {
		if p != nil {
			active = append(active, p)
		}
	}
	return llm.NewChain(log, active...)
}

// buildGate picks the voice activity detector. The remote STT engine does
// its own server-side endpointing, so a local energy gate is enough there.
func buildGate(cfg *config.Config, log zerolog.Logger) (vad.Gate, error) {
	if cfg.STTEngine == "sherpa" {
		silero, err := vad.NewSileroGate(vad.SileroConfig{
			ModelPath:  cfg.VADModel,
			Threshold:  cfg.VADThreshold,
			SampleRate: cfg.SampleRate,
			NumThreads: cfg.VADThreads,
			Verbose:    cfg.Verbose,
		})
		if err != nil {
			log.Warn().Err(err).Msg("silero VAD unavailable, falling back to energy gate")
			return vad.NewFailOpen(vad.NewEnergyGate(), log), nil
		}
		return vad.NewFailOpen(silero, log), nil
	}
	return vad.NewFailOpen(vad.NewEnergyGate(), log), nil
}

func buildSTT(cfg *config.Config, log zerolog.Logger) (stt.Engine, error) {
	if cfg.STTEngine == "remote" {
		engine, err := stt.NewRemoteEngine(stt.RemoteConfig{
			URL:        cfg.RemoteSTTURL,
			APIKey:     cfg.RemoteSTTKey,
			SampleRate: cfg.SampleRate,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect remote STT: %w", err)
		}
		return engine, nil
	}

	log.Info().Msg("loading speech recognition model")
	engine, err := stt.NewWhisperEngine(stt.WhisperConfig{
		Encoder:    cfg.WhisperEncoder,
		Decoder:    cfg.WhisperDecoder,
		Tokens:     cfg.WhisperTokens,
		Language:   cfg.STTLanguage,
		Provider:   cfg.STTProvider,
		NumThreads: cfg.STTThreads,
		SampleRate: cfg.SampleRate,
		Verbose:    cfg.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper engine: %w", err)
	}
	return engine, nil
}

// wakeLoop listens for the wake phrase whenever the session is idle. Each
// listen is canceled as soon as a turn starts, so the loop never competes
// with the conversation for microphone frames.
func wakeLoop(ctx context.Context, ctl *session.Controller, transcriber *stt.Transcriber,
	capturer *audio.Capturer, matcher *trigger.WakeMatcher, triggers chan<- trigger.Event, log zerolog.Logger) {
	wlog := log.With().Str("component", "wake").Logger()

	for ctx.Err() == nil {
		if ctl.State() != session.StateIdle {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		listenCtx, cancel := context.WithCancel(ctx)
		go func() {
			for listenCtx.Err() == nil {
				if ctl.State() != session.StateIdle {
					cancel()
					return
				}
				time.Sleep(20 * time.Millisecond)
			}
		}()

		text, err := transcriber.Listen(listenCtx, capturer.Frames())
		cancel()
		if err != nil || text == "" {
			continue
		}

		remainder, matched := matcher.Match(text)
		if !matched {
			continue
		}
		wlog.Info().Str("text", remainder).Msg("wake word heard")
		select {
		case triggers <- trigger.Event{Source: trigger.SourceWake, At: time.Now(), Text: remainder}:
		case <-ctx.Done():
			return
		}
		// Give the controller a moment to pick the event up.
		time.Sleep(200 * time.Millisecond)
	}
}
