package autonomy

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aria-assistant/aria/internal/memory"
)

// MemorySource is the slice of the store the engine consults. nil disables
// memory-backed suggestions.
type MemorySource interface {
	Query(ctx context.Context, topic string, limit int) ([]memory.Snippet, error)
	Recent(ctx context.Context, n int) ([]memory.Snippet, error)
}

const (
	// tickInterval keeps the loop responsive to pause and stop without
	// busy-waiting.
	tickInterval = 200 * time.Millisecond

	// memoryTimeout bounds the recall query; on expiry the engine falls
	// back to recent messages.
	memoryTimeout = 2 * time.Second

	// stopJoinTimeout bounds how long Stop waits for the loop to exit.
	stopJoinTimeout = 2 * time.Second

	// inputHistorySize inputs are retained for repetition analysis.
	inputHistorySize = 10

	// suggestionQueueSize bounds undelivered suggestions.
	suggestionQueueSize = 8
)

// EngineConfig tunes suggestion generation.
type EngineConfig struct {
	// Interval between suggestion attempts.
	Interval time.Duration

	// ConfidenceThreshold below which suggestions are discarded.
	ConfidenceThreshold float64

	// MaxSnippets of memory context per suggestion.
	MaxSnippets int
}

// Engine watches recent user input and periodically emits suggestions on
// its channel. It starts paused; the session controller resumes it once the
// pipeline is up and pauses it during active conversation.
type Engine struct {
	scorer *Scorer
	mem    MemorySource
	cfg    EngineConfig
	log    zerolog.Logger

	paused   atomic.Bool
	queue    chan Suggestion
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu           sync.Mutex
	lastInput    string
	history      []string
	lastActivity time.Time
}

// NewEngine creates the engine in the paused state.
func NewEngine(scorer *Scorer, mem MemorySource, cfg EngineConfig, log zerolog.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 45 * time.Second
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	if cfg.MaxSnippets <= 0 {
		cfg.MaxSnippets = 5
	}
	e := &Engine{
		scorer:   scorer,
		mem:      mem,
		cfg:      cfg,
		log:      log.With().Str("component", "autonomy").Logger(),
		queue:    make(chan Suggestion, suggestionQueueSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.paused.Store(true)
	return e
}

// Start launches the generation loop.
func (e *Engine) Start() {
	go e.run()
	e.log.Info().Dur("interval", e.cfg.Interval).Msg("autonomy engine started")
}

// Stop shuts the loop down, waiting up to stopJoinTimeout for it to exit.
// A missed join is logged, not fatal: the loop goroutine holds no resources
// that outlive the process.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	select {
	case <-e.done:
	case <-time.After(stopJoinTimeout):
		e.log.Warn().Msg("autonomy loop did not stop in time")
	}
}

// Pause suspends suggestion generation. Idempotent.
func (e *Engine) Pause() {
	if !e.paused.Swap(true) {
		e.log.Debug().Msg("autonomy paused")
	}
}

// Resume re-enables suggestion generation. Idempotent.
func (e *Engine) Resume() {
	if e.paused.Swap(false) {
		e.log.Debug().Msg("autonomy resumed")
	}
}

// Paused reports the current pause state.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// Suggestions returns the delivery channel.
func (e *Engine) Suggestions() <-chan Suggestion {
	return e.queue
}

// UpdateInput records a user utterance for context analysis.
func (e *Engine) UpdateInput(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastInput = trimmed
	e.history = append(e.history, trimmed)
	if len(e.history) > inputHistorySize {
		e.history = e.history[len(e.history)-inputHistorySize:]
	}
	e.lastActivity = time.Now()
}

func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var lastEmit time.Time
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
		}

		if e.paused.Load() {
			continue
		}
		if time.Since(lastEmit) < e.cfg.Interval {
			continue
		}
		lastEmit = time.Now()

		if s, ok := e.generate(); ok {
			select {
			case e.queue <- s:
				e.log.Info().Str("trigger", string(s.Trigger)).
					Float64("confidence", s.Confidence).Msg("suggestion enqueued")
			default:
				e.log.Debug().Msg("suggestion queue full, dropping")
			}
		}
	}
}

func (e *Engine) generate() (Suggestion, bool) {
	e.mu.Lock()
	latest := e.lastInput
	history := append([]string(nil), e.history...)
	lastActivity := e.lastActivity
	e.mu.Unlock()

	if latest == "" {
		return Suggestion{}, false
	}

	analysis := e.scorer.Analyze(latest, history, time.Since(lastActivity))
	if analysis.Confidence < e.cfg.ConfidenceThreshold || analysis.Trigger == TriggerPeriodic {
		return Suggestion{}, false
	}

	context := e.memoryContext(latest)
	text := RenderSuggestion(analysis.Trigger, analysis.Topic, context)

	return Suggestion{
		ID:            uuid.NewString(),
		Text:          text,
		Confidence:    analysis.Confidence,
		Trigger:       analysis.Trigger,
		Topic:         analysis.Topic,
		CreatedAt:     time.Now(),
		MemoryContext: context,
	}, true
}

// memoryContext queries the store for snippets related to the latest input,
// falling back to recent messages when the query finds nothing or times out.
func (e *Engine) memoryContext(topic string) []string {
	if e.mem == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), memoryTimeout)
	defer cancel()

	snippets, err := e.mem.Query(ctx, topic, e.cfg.MaxSnippets)
	if err != nil || len(snippets) == 0 {
		if err != nil {
			e.log.Debug().Err(err).Msg("memory query failed, using recent messages")
		}
		snippets, err = e.mem.Recent(ctx, e.cfg.MaxSnippets)
		if err != nil {
			return nil
		}
	}

	out := make([]string, 0, len(snippets))
	for _, sn := range snippets {
		if sn.Content != "" {
			out = append(out, sn.Content)
		}
	}
	return out
}
