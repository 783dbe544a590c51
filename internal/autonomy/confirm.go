package autonomy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Voice is the speak/listen surface the coordinator drives. The session
// controller implements it over the TTS speaker and the transcriber.
type Voice interface {
	// Acquire reserves the speech path for one dialogue, failing when a
	// conversation is underway. No Speak or ListenOnce call is made
	// without a reservation, so the dialogue never competes with the
	// foreground session for the microphone or the speaker.
	Acquire() bool

	// Release returns the reservation taken by Acquire.
	Release()

	// Speak blocks until the text has been spoken or ctx is canceled.
	Speak(ctx context.Context, text string) error

	// ListenOnce captures one user utterance. An empty string means
	// nothing qualifying was heard before ctx expired.
	ListenOnce(ctx context.Context) (string, error)
}

// Generator turns a confirmed batch into final spoken text, typically via
// the language model. nil disables generation and the combined text is
// spoken as-is.
type Generator interface {
	Render(ctx context.Context, combinedText string, snippets []string) (string, error)
}

// maxRenderSnippets of memory context forwarded to the generator.
const maxRenderSnippets = 8

// CoordinatorConfig tunes the confirmation flow.
type CoordinatorConfig struct {
	// BatchWindow collects further suggestions after the first arrives.
	BatchWindow time.Duration

	// IdleThreshold of user inactivity required before interrupting.
	IdleThreshold time.Duration

	// ListenTimeout for the yes/no answer.
	ListenTimeout time.Duration

	// YesWords and NoWords are matched as substrings, case-insensitively.
	// Anything matching neither counts as a no.
	YesWords []string
	NoWords  []string
}

// Coordinator batches suggestions and asks the user before speaking them.
// The user can always decline, and silence counts as declining: proactive
// speech must never win an argument with the user's attention.
type Coordinator struct {
	voice Voice
	gen   Generator
	cfg   CoordinatorConfig
	log   zerolog.Logger

	ctx context.Context

	mu             sync.Mutex
	pending        []Suggestion
	timer          *time.Timer
	lastActivity   time.Time
	confirming     bool
	dialogueCancel context.CancelFunc
}

// NewCoordinator creates a coordinator. ctx bounds all speak/listen calls
// made from timer callbacks; cancel it on shutdown.
func NewCoordinator(ctx context.Context, voice Voice, gen Generator, cfg CoordinatorConfig, log zerolog.Logger) *Coordinator {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 2 * time.Second
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 3 * time.Second
	}
	if cfg.ListenTimeout <= 0 {
		cfg.ListenTimeout = 4 * time.Second
	}
	if len(cfg.YesWords) == 0 {
		cfg.YesWords = []string{"yes", "sure", "okay", "go ahead", "please", "sounds good"}
	}
	if len(cfg.NoWords) == 0 {
		cfg.NoWords = []string{"no", "not now", "later", "skip", "dismiss"}
	}
	return &Coordinator{
		voice: voice,
		gen:   gen,
		cfg:   cfg,
		log:   log.With().Str("component", "confirmation").Logger(),
		ctx:   ctx,
	}
}

// UpdateActivity marks the user as active, deferring any confirmation.
func (c *Coordinator) UpdateActivity() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// IsIdle reports whether the user has been quiet long enough to interrupt.
func (c *Coordinator) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity) >= c.cfg.IdleThreshold
}

// Confirming reports whether a confirmation exchange is in progress.
func (c *Coordinator) Confirming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirming
}

// Add queues a suggestion. The first pending suggestion starts the batch
// window; suggestions arriving inside it join the same batch.
func (c *Coordinator) Add(s Suggestion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, s)
	if len(c.pending) == 1 {
		c.timer = time.AfterFunc(c.cfg.BatchWindow, c.onBatchWindow)
	}
}

// ClearPending drops queued suggestions, cancels the batch timer, and aborts
// any dialogue already in flight. Called on barge-in and shutdown.
func (c *Coordinator) ClearPending() {
	c.mu.Lock()
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	cancel := c.dialogueCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// onBatchWindow fires when the batch window closes.
func (c *Coordinator) onBatchWindow() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.timer = nil
	idle := time.Since(c.lastActivity) >= c.cfg.IdleThreshold
	c.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	if !idle {
		c.log.Info().Int("dropped", len(pending)).Msg("user active, skipping confirmation")
		return
	}

	if !c.voice.Acquire() {
		c.log.Info().Int("dropped", len(pending)).Msg("conversation in progress, skipping confirmation")
		return
	}
	defer c.voice.Release()

	// ClearPending cancels this context to abort an exchange that has
	// already begun.
	dctx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	c.confirming = true
	c.dialogueCancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.confirming = false
		c.dialogueCancel = nil
		c.mu.Unlock()
	}()

	batch, ok := CombineBatch(pending)
	if !ok {
		return
	}

	if c.confirm(dctx, batch) {
		c.log.Info().Msg("suggestions confirmed")
		c.speakBatch(dctx, batch)
	} else {
		c.log.Info().Msg("suggestions dismissed")
	}
}

// confirm asks the yes/no question. Timeouts, errors, and unclear answers
// all count as no.
func (c *Coordinator) confirm(ctx context.Context, batch Batch) bool {
	if err := c.voice.Speak(ctx, ConfirmationPrompt(batch)); err != nil {
		c.log.Warn().Err(err).Msg("failed to speak confirmation prompt")
		return false
	}

	listenCtx, cancel := context.WithTimeout(ctx, c.cfg.ListenTimeout)
	defer cancel()

	response, err := c.voice.ListenOnce(listenCtx)
	if err != nil || response == "" {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return c.interpret(response)
}

func (c *Coordinator) interpret(response string) bool {
	lower := strings.ToLower(strings.TrimSpace(response))
	for _, w := range c.cfg.YesWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	for _, w := range c.cfg.NoWords {
		if strings.Contains(lower, w) {
			return false
		}
	}
	// Unclear answers fail closed.
	return false
}

// speakBatch renders the confirmed batch and speaks it. Generation failure
// falls back to the combined text so a confirmed offer is always honored.
func (c *Coordinator) speakBatch(ctx context.Context, batch Batch) {
	snippets := dedupeSnippets(batch)

	text := batch.CombinedText
	if c.gen != nil {
		rendered, err := c.gen.Render(ctx, batch.CombinedText, snippets)
		if err != nil {
			c.log.Warn().Err(err).Msg("suggestion rendering failed, using combined text")
		} else if strings.TrimSpace(rendered) != "" {
			text = strings.TrimSpace(rendered)
		}
	}

	if err := c.voice.Speak(ctx, text); err != nil {
		c.log.Warn().Err(err).Msg("failed to speak suggestions")
	}
}

// dedupeSnippets merges the batch's memory context, preserving first-seen
// order, capped at maxRenderSnippets.
func dedupeSnippets(batch Batch) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range batch.Suggestions {
		for _, snippet := range s.MemoryContext {
			if _, dup := seen[snippet]; dup {
				continue
			}
			seen[snippet] = struct{}{}
			out = append(out, snippet)
			if len(out) == maxRenderSnippets {
				return out
			}
		}
	}
	return out
}
