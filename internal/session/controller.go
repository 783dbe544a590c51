// Package session runs the voice conversation loop: trigger, listen, think,
// speak, and back to idle, with barge-in and proactive suggestions woven in.
package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aria-assistant/aria/internal/audio"
	"github.com/aria-assistant/aria/internal/autonomy"
	"github.com/aria-assistant/aria/internal/brain"
	"github.com/aria-assistant/aria/internal/llm"
	"github.com/aria-assistant/aria/internal/trigger"
	"github.com/aria-assistant/aria/internal/tts"
)

// State of the conversation loop. Transitions only ever follow
// Idle -> Listening -> Thinking -> Speaking -> Idle, with barge-in and
// errors short-circuiting back to Idle.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	}
	return "unknown"
}

// Capture is the microphone surface the controller needs.
type Capture interface {
	Frames() <-chan audio.Frame
	Pause()
	Resume()
}

// Listener turns captured frames into one utterance transcript.
type Listener interface {
	Listen(ctx context.Context, frames <-chan audio.Frame) (string, error)
}

// Responder streams replies; *brain.Brain satisfies this.
type Responder interface {
	Respond(ctx context.Context, userText string) <-chan llm.Chunk
}

// Speech is the synthesis worker surface; *tts.Speaker satisfies this.
type Speech interface {
	Say(text string)
	Stop()
	Drain()
}

// Suggestions is the autonomy engine surface. nil disables autonomy.
type Suggestions interface {
	Suggestions() <-chan autonomy.Suggestion
	Pause()
	Resume()
	UpdateInput(text string)
}

// Confirmer is the confirmation coordinator surface. nil disables it.
type Confirmer interface {
	Add(s autonomy.Suggestion)
	ClearPending()
	UpdateActivity()
}

// Config holds controller tuning.
type Config struct {
	// Chunker settings for slicing response tokens into phrases.
	Chunker tts.ChunkerConfig

	// HalfDuplex pauses capture while the assistant speaks, for setups
	// where the microphone hears the speakers.
	HalfDuplex bool

	// ResumeDelay after playback before the microphone resumes in
	// half-duplex mode, so the playback tail is not captured.
	ResumeDelay time.Duration
}

// Controller owns the session state machine. One Run loop consumes trigger
// events; each turn executes on its own goroutine with a cancellation
// context so barge-in can kill it at any point.
type Controller struct {
	cfg       Config
	capture   Capture
	listener  Listener
	responder Responder
	speech    Speech
	engine    Suggestions
	confirmer Confirmer
	log       zerolog.Logger

	state atomic.Int32

	mu         sync.Mutex
	turnCancel context.CancelFunc
}

// NewController wires the collaborators. Autonomy is off until
// EnableAutonomy is called.
func NewController(cfg Config, capture Capture, listener Listener, responder Responder,
	speech Speech, log zerolog.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		capture:   capture,
		listener:  listener,
		responder: responder,
		speech:    speech,
		log:       log.With().Str("component", "session").Logger(),
	}
}

// EnableAutonomy wires the suggestion engine and confirmation coordinator.
// Call before Run.
func (c *Controller) EnableAutonomy(engine Suggestions, confirmer Confirmer) {
	c.engine = engine
	c.confirmer = confirmer
}

// State returns the current conversation state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.log.Debug().Str("from", old.String()).Str("to", s.String()).Msg("state")
	}
}

// Run processes trigger events until ctx is canceled. Suggestions are only
// consumed while idle, so proactive speech never lands mid-conversation.
func (c *Controller) Run(ctx context.Context, triggers <-chan trigger.Event) error {
	if c.engine != nil {
		c.engine.Resume()
	}

	var turnDone chan struct{}

	for {
		// The suggestion channel is live only when idle; a nil channel
		// blocks its select case otherwise.
		var suggestions <-chan autonomy.Suggestion
		if c.engine != nil && c.State() == StateIdle {
			suggestions = c.engine.Suggestions()
		}
		var turnFinished <-chan struct{}
		if turnDone != nil {
			turnFinished = turnDone
		}

		select {
		case <-ctx.Done():
			c.cancelTurn()
			if turnDone != nil {
				<-turnDone
			}
			return ctx.Err()

		case <-turnFinished:
			turnDone = nil

		case ev, ok := <-triggers:
			if !ok {
				c.cancelTurn()
				if turnDone != nil {
					<-turnDone
				}
				return nil
			}
			switch c.State() {
			case StateIdle:
				if turnDone != nil {
					// The previous turn already reset the state and
					// has nothing left to do but signal completion.
					<-turnDone
					turnDone = nil
				}
				if done := c.startTurn(ctx, ev.Text); done != nil {
					turnDone = done
				} else {
					// A confirmation dialogue claimed the speech path
					// first; the press barges in on it instead.
					c.bargeIn()
				}
			case StateListening:
				// Already listening; a second press means nothing.
				c.log.Debug().Msg("trigger ignored while listening")
			case StateThinking, StateSpeaking:
				c.bargeIn()

			}

		case s := <-suggestions:
			if c.confirmer != nil {
				c.confirmer.Add(s)
			}
		}
	}
}

// startTurn launches one conversation turn. seedText skips listening when a
// wake-word transcript already carries the request. The state leaves Idle
// before this returns, so a trigger racing the turn goroutine cannot start a
// second turn. Returns nil when the speech path was reserved by a dialogue
// in the meantime.
func (c *Controller) startTurn(ctx context.Context, seedText string) chan struct{} {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateListening)) {
		return nil
	}
	c.log.Debug().Str("from", StateIdle.String()).Str("to", StateListening.String()).Msg("state")

	turnCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.turnCancel = cancel
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			c.mu.Lock()
			c.turnCancel = nil
			c.mu.Unlock()
			cancel()
			c.setState(StateIdle)
			if c.engine != nil {
				c.engine.Resume()
			}
		}()
		c.runTurn(turnCtx, seedText)
	}()
	return done
}

// bargeIn cancels the active turn and silences everything queued. State
// returns to Idle when the turn goroutine unwinds.
func (c *Controller) bargeIn() {
	c.log.Info().Str("state", c.State().String()).Msg("barge-in")
	c.cancelTurn()
	c.speech.Stop()
	if c.confirmer != nil {
		c.confirmer.ClearPending()
	}
}

func (c *Controller) cancelTurn() {
	c.mu.Lock()
	cancel := c.turnCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Acquire reserves the speech path for a confirmation dialogue. It succeeds
// only while idle; the reservation parks the wake loop and keeps new turns
// from starting until Release. A trigger during the reservation lands as a
// barge-in, which stops the speaker and aborts the dialogue.
func (c *Controller) Acquire() bool {
	return c.state.CompareAndSwap(int32(StateIdle), int32(StateSpeaking))
}

// Release returns the speech path after a confirmation dialogue.
func (c *Controller) Release() {
	c.state.CompareAndSwap(int32(StateSpeaking), int32(StateIdle))
}

// Speak queues text and blocks until the speaker has played it out.
func (c *Controller) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.speech.Say(text)
	c.speech.Drain()
	return ctx.Err()
}

// ListenOnce captures a single utterance, typically a yes/no answer.
func (c *Controller) ListenOnce(ctx context.Context) (string, error) {
	return c.listener.Listen(ctx, c.capture.Frames())
}

func (c *Controller) runTurn(ctx context.Context, seedText string) {
	if c.engine != nil {
		c.engine.Pause()
	}
	if c.confirmer != nil {
		// A fresh turn supersedes anything waiting to be offered.
		c.confirmer.ClearPending()
		c.confirmer.UpdateActivity()
	}

	userText := strings.TrimSpace(seedText)
	if userText == "" {
		text, err := c.listener.Listen(ctx, c.capture.Frames())
		if err != nil {
			if ctx.Err() == nil {
				c.log.Error().Err(err).Msg("listening failed")
			}
			return
		}
		userText = strings.TrimSpace(text)
	}
	if userText == "" {
		c.log.Info().Msg("didn't catch that")
		return
	}

	c.log.Info().Str("text", userText).Msg("user")
	if c.engine != nil {
		c.engine.UpdateInput(userText)
	}
	if c.confirmer != nil {
		c.confirmer.UpdateActivity()
	}

	c.setState(StateThinking)
	c.respond(ctx, userText)
}

// respond streams the reply through the phrase chunker into the speaker.
func (c *Controller) respond(ctx context.Context, userText string) {
	chunker, err := tts.NewPhraseChunker(c.cfg.Chunker)
	if err != nil {
		c.log.Error().Err(err).Msg("bad chunker config")
		return
	}

	pausedCapture := false
	defer func() {
		if pausedCapture {
			if c.cfg.ResumeDelay > 0 && ctx.Err() == nil {
				time.Sleep(c.cfg.ResumeDelay)
			}
			c.capture.Resume()
		}
	}()

	enterSpeaking := func() {
		if c.State() == StateSpeaking {
			return
		}
		c.setState(StateSpeaking)
		if c.cfg.HalfDuplex {
			c.capture.Pause()
			pausedCapture = true
		}
	}

	say := func(phrase string) {
		if phrase == "" {
			return
		}
		enterSpeaking()
		c.speech.Say(phrase)
	}

	spoke := false
	for chunk := range c.responder.Respond(ctx, userText) {
		if ctx.Err() != nil {
			// Barge-in: the speaker queue is already being dropped.
			return
		}
		if chunk.Err != nil {
			c.log.Error().Err(chunk.Err).Msg("generation failed")
			if spoke {
				say(brain.RecoveryText())
			} else {
				say(brain.ApologyText())
			}
			c.speech.Drain()
			return
		}
		if chunk.Token != "" {
			// The first token marks the reply as underway, even though
			// playback starts at the first phrase boundary.
			enterSpeaking()
			for _, phrase := range chunker.Add(chunk.Token) {
				say(phrase)
				spoke = true
			}
		}
		if chunk.Done {
			break
		}
	}
	if ctx.Err() != nil {
		return
	}

	if tail := chunker.Flush(); tail != "" {
		say(tail)
		spoke = true
	}
	if spoke {
		c.speech.Drain()
	}
}
