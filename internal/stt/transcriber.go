package stt

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aria-assistant/aria/internal/audio"
	"github.com/aria-assistant/aria/internal/vad"
)

// Utterance boundary states. Each Listen call walks awaitingTrigger ->
// inUtterance -> finalizing exactly once.
type listenState int

const (
	awaitingTrigger listenState = iota
	inUtterance
	finalizing
)

// TranscriberConfig holds the boundary detection timings. Trigger and
// release are milliseconds of audio, derived from frame sample counts, so
// boundary behavior does not depend on scheduling jitter.
type TranscriberConfig struct {
	SampleRate int

	// TriggerMs of continuous speech starts an utterance.
	TriggerMs int

	// ReleaseMs of continuous silence inside an utterance ends it.
	ReleaseMs int

	// TimeoutMs caps the whole listen window, enforced on accumulated
	// audio time and on the wall clock, so a capture channel that goes
	// quiet cannot hold the listen open. Expiry before trigger means no
	// utterance; expiry mid-utterance flushes what was heard.
	TimeoutMs int
}

// Transcriber detects utterance boundaries with a VAD gate and delegates the
// audio inside them to an Engine. One Listen call handles one utterance.
type Transcriber struct {
	gate   vad.Gate
	engine Engine
	cfg    TranscriberConfig
	log    zerolog.Logger
}

// NewTranscriber wires a gate and an engine together.
func NewTranscriber(gate vad.Gate, engine Engine, cfg TranscriberConfig, log zerolog.Logger) *Transcriber {
	return &Transcriber{
		gate:   gate,
		engine: engine,
		cfg:    cfg,
		log:    log.With().Str("component", "transcriber").Logger(),
	}
}

// Listen consumes frames until one utterance completes, the listen window
// times out, or ctx is canceled. It returns the transcript, which is empty
// when nothing qualifying was heard. Cancellation returns ctx.Err().
func (t *Transcriber) Listen(ctx context.Context, frames <-chan audio.Frame) (string, error) {
	state := awaitingTrigger
	speechMs := 0
	silenceMs := 0
	elapsedMs := 0

	// Speech shorter than the trigger is not yet forwarded to the engine;
	// preroll holds it so the utterance start is not clipped.
	var preroll []audio.Frame

	deadline := time.NewTimer(time.Duration(t.cfg.TimeoutMs) * time.Millisecond)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			if state == inUtterance {
				t.log.Debug().Msg("listen window expired mid-utterance, flushing")
				return t.finish()
			}
			return "", nil
		case frame, ok := <-frames:
			if !ok {
				if state == inUtterance {
					return t.finish()
				}
				return "", nil
			}

			frameMs := len(frame) * 1000 / t.cfg.SampleRate
			elapsedMs += frameMs

			speech, _ := t.gate.Classify(frame)

			switch state {
			case awaitingTrigger:
				if speech {
					speechMs += frameMs
					silenceMs = 0
					preroll = append(preroll, frame)
					if speechMs >= t.cfg.TriggerMs {
						state = inUtterance
						t.log.Debug().Int("speech_ms", speechMs).Msg("utterance started")
						for _, f := range preroll {
							if text, err := t.feed(f); err != nil {
								return "", err
							} else if text != "" {
								return text, nil
							}
						}
						preroll = nil
					}
				} else {
					speechMs = 0
					silenceMs += frameMs
					preroll = preroll[:0]
				}

			case inUtterance:
				if text, err := t.feed(frame); err != nil {
					return "", err
				} else if text != "" {
					return text, nil
				}
				if speech {
					speechMs += frameMs
					silenceMs = 0
				} else {
					silenceMs += frameMs
					speechMs = 0
					if silenceMs >= t.cfg.ReleaseMs {
						state = finalizing
						t.log.Debug().Int("silence_ms", silenceMs).Msg("utterance ended")
						return t.finish()
					}
				}
			}

			if elapsedMs >= t.cfg.TimeoutMs {
				if state == inUtterance {
					t.log.Debug().Msg("listen timeout mid-utterance, flushing")
					return t.finish()
				}
				return "", nil
			}
		}
	}
}

func (t *Transcriber) feed(frame audio.Frame) (string, error) {
	text, err := t.engine.AcceptFrame(frame)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (t *Transcriber) finish() (string, error) {
	text, err := t.engine.Flush()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
