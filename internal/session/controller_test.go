package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aria-assistant/aria/internal/audio"
	"github.com/aria-assistant/aria/internal/autonomy"
	"github.com/aria-assistant/aria/internal/llm"
	"github.com/aria-assistant/aria/internal/trigger"
	"github.com/aria-assistant/aria/internal/tts"
)

type fakeCapture struct {
	frames chan audio.Frame

	mu      sync.Mutex
	paused  int
	resumed int
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{frames: make(chan audio.Frame, 4)}
}

func (c *fakeCapture) Frames() <-chan audio.Frame { return c.frames }

func (c *fakeCapture) Pause() {
	c.mu.Lock()
	c.paused++
	c.mu.Unlock()
}

func (c *fakeCapture) Resume() {
	c.mu.Lock()
	c.resumed++
	c.mu.Unlock()
}

type fakeListener struct {
	mu      sync.Mutex
	calls   int
	text    string
	err     error
	release chan struct{} // when non-nil, Listen blocks until closed or ctx done
}

func (l *fakeListener) Listen(ctx context.Context, _ <-chan audio.Frame) (string, error) {
	l.mu.Lock()
	l.calls++
	release := l.release
	l.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return l.text, l.err
}

func (l *fakeListener) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeResponder struct {
	mu     sync.Mutex
	tokens []string
	err    error
	inputs []string

	// hold, when non-nil, blocks the stream after the first token until
	// closed or the context is canceled.
	hold chan struct{}
}

func (r *fakeResponder) Respond(ctx context.Context, userText string) <-chan llm.Chunk {
	r.mu.Lock()
	r.inputs = append(r.inputs, userText)
	tokens, streamErr, hold := r.tokens, r.err, r.hold
	r.mu.Unlock()

	out := make(chan llm.Chunk, len(tokens)+1)
	go func() {
		defer close(out)
		for i, tok := range tokens {
			select {
			case out <- llm.Chunk{Token: tok}:
			case <-ctx.Done():
				return
			}
			if i == 0 && hold != nil {
				select {
				case <-hold:
				case <-ctx.Done():
					return
				}
			}
		}
		if streamErr != nil {
			out <- llm.Chunk{Err: streamErr}
			return
		}
		out <- llm.Chunk{Done: true}
	}()
	return out
}

type fakeSpeech struct {
	mu      sync.Mutex
	said    []string
	stops   int
	drains  int
}

func (s *fakeSpeech) Say(text string) {
	s.mu.Lock()
	s.said = append(s.said, text)
	s.mu.Unlock()
}

func (s *fakeSpeech) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeSpeech) Drain() {
	s.mu.Lock()
	s.drains++
	s.mu.Unlock()
}

func (s *fakeSpeech) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}

func (s *fakeSpeech) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeEngine struct {
	suggestions chan autonomy.Suggestion

	mu     sync.Mutex
	paused bool
	inputs []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{suggestions: make(chan autonomy.Suggestion, 4)}
}

func (e *fakeEngine) Suggestions() <-chan autonomy.Suggestion { return e.suggestions }

func (e *fakeEngine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

func (e *fakeEngine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
}

func (e *fakeEngine) UpdateInput(text string) {
	e.mu.Lock()
	e.inputs = append(e.inputs, text)
	e.mu.Unlock()
}

func (e *fakeEngine) lastInput() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inputs) == 0 {
		return ""
	}
	return e.inputs[len(e.inputs)-1]
}

type fakeConfirmer struct {
	mu       sync.Mutex
	added    []autonomy.Suggestion
	cleared  int
	activity int
}

func (c *fakeConfirmer) Add(s autonomy.Suggestion) {
	c.mu.Lock()
	c.added = append(c.added, s)
	c.mu.Unlock()
}

func (c *fakeConfirmer) ClearPending() {
	c.mu.Lock()
	c.cleared++
	c.mu.Unlock()
}

func (c *fakeConfirmer) UpdateActivity() {
	c.mu.Lock()
	c.activity++
	c.mu.Unlock()
}

func (c *fakeConfirmer) addedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.added)
}

func (c *fakeConfirmer) clearedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared
}

type harness struct {
	capture   *fakeCapture
	listener  *fakeListener
	responder *fakeResponder
	speech    *fakeSpeech
	engine    *fakeEngine
	confirmer *fakeConfirmer
	ctl       *Controller
	triggers  chan trigger.Event
	cancel    context.CancelFunc
	runDone   chan struct{}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		capture:   newFakeCapture(),
		listener:  &fakeListener{},
		responder: &fakeResponder{},
		speech:    &fakeSpeech{},
		engine:    newFakeEngine(),
		confirmer: &fakeConfirmer{},
		triggers:  make(chan trigger.Event, 4),
		runDone:   make(chan struct{}),
	}
	h.ctl = NewController(cfg, h.capture, h.listener, h.responder,
		h.speech, zerolog.Nop())
	h.ctl.EnableAutonomy(h.engine, h.confirmer)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.runDone)
		h.ctl.Run(ctx, h.triggers)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.runDone:
		case <-time.After(2 * time.Second):
			t.Error("Run did not exit")
		}
	})
	return h
}

func (h *harness) press() {
	h.triggers <- trigger.Event{Source: trigger.SourceHotkey, At: time.Now()}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTurnSpeaksResponse(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}})
	h.listener.text = "what is the weather"
	h.responder.tokens = []string{"It is ", "sunny today. ", "Bring ", "sunglasses."}

	h.press()
	waitFor(t, "two phrases spoken", func() bool { return len(h.speech.spoken()) >= 2 })
	waitFor(t, "idle", func() bool { return h.ctl.State() == StateIdle })

	got := h.speech.spoken()
	if got[0] != "It is sunny today." || got[1] != "Bring sunglasses." {
		t.Errorf("spoken = %q", got)
	}
	if h.engine.lastInput() != "what is the weather" {
		t.Errorf("engine input = %q", h.engine.lastInput())
	}
}

func TestBargeInStopsSpeech(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}})
	h.listener.text = "tell me a story"
	h.responder.tokens = []string{"Once upon a time. ", "There was more. ", "And more."}
	h.responder.hold = make(chan struct{})

	h.press()
	waitFor(t, "first phrase spoken", func() bool { return len(h.speech.spoken()) >= 1 })

	h.press() // barge-in while the stream is held
	waitFor(t, "speech stopped", func() bool { return h.speech.stopCount() >= 1 })
	waitFor(t, "idle after barge-in", func() bool { return h.ctl.State() == StateIdle })

	// Cleared once when the turn started and once on barge-in.
	if n := h.confirmer.clearedCount(); n != 2 {
		t.Errorf("ClearPending calls = %d, want 2", n)
	}
	for _, phrase := range h.speech.spoken() {
		if strings.Contains(phrase, "more") {
			t.Errorf("post-cancel phrase spoken: %q", phrase)
		}
	}
}

func TestTriggerIgnoredWhileListening(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}})
	h.listener.release = make(chan struct{})
	h.listener.text = "hello there friend."
	h.responder.tokens = []string{"Hi back."}

	h.press()
	waitFor(t, "listening", func() bool { return h.ctl.State() == StateListening })

	h.press() // should be a no-op
	time.Sleep(30 * time.Millisecond)
	if h.speech.stopCount() != 0 {
		t.Error("trigger while listening stopped speech")
	}

	close(h.listener.release)
	waitFor(t, "idle", func() bool { return h.ctl.State() == StateIdle })
	if h.listener.callCount() != 1 {
		t.Errorf("Listen calls = %d, want 1", h.listener.callCount())
	}
	if len(h.speech.spoken()) == 0 {
		t.Error("released turn produced no speech")
	}
}

func TestRapidTriggersStartOneTurn(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}})
	h.listener.release = make(chan struct{})
	h.listener.text = "hello there."
	h.responder.tokens = []string{"Hi back."}

	// Two presses back to back, before the first turn's goroutine has had
	// any chance to run.
	h.press()
	h.press()

	waitFor(t, "listening", func() bool { return h.ctl.State() == StateListening })
	time.Sleep(30 * time.Millisecond)
	if n := h.listener.callCount(); n != 1 {
		t.Fatalf("Listen calls = %d, want 1", n)
	}

	close(h.listener.release)
	waitFor(t, "idle", func() bool { return h.ctl.State() == StateIdle })
	if n := h.listener.callCount(); n != 1 {
		t.Errorf("Listen calls = %d, want 1", n)
	}
	if n := len(h.speech.spoken()); n != 1 {
		t.Errorf("spoke %d phrases, want 1", n)
	}
}

func TestSpeakingEnteredOnFirstToken(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}})
	h.listener.text = "go on"
	h.responder.tokens = []string{"Well", ", here is the rest."}
	h.responder.hold = make(chan struct{})

	h.press()
	waitFor(t, "speaking on first token", func() bool { return h.ctl.State() == StateSpeaking })
	if n := len(h.speech.spoken()); n != 0 {
		t.Errorf("spoke %d phrases before a boundary formed", n)
	}

	close(h.responder.hold)
	waitFor(t, "idle", func() bool { return h.ctl.State() == StateIdle })
	if got := strings.Join(h.speech.spoken(), " "); !strings.Contains(got, "here is the rest") {
		t.Errorf("spoken = %q", got)
	}
}

func TestDialogueReservationBlocksTurns(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}})
	h.listener.text = "hello."
	h.responder.tokens = []string{"Hi."}

	if !h.ctl.Acquire() {
		t.Fatal("Acquire failed while idle")
	}
	if h.ctl.Acquire() {
		t.Fatal("second Acquire succeeded on a held reservation")
	}

	// A press during the dialogue is a barge-in, not a new turn.
	h.press()
	waitFor(t, "speech stopped", func() bool { return h.speech.stopCount() >= 1 })
	waitFor(t, "pending cleared", func() bool { return h.confirmer.clearedCount() >= 1 })
	if n := h.listener.callCount(); n != 0 {
		t.Errorf("Listen calls = %d, want 0 while the dialogue holds the voice", n)
	}

	h.ctl.Release()
	waitFor(t, "idle after release", func() bool { return h.ctl.State() == StateIdle })

	h.press()
	waitFor(t, "turn ran after release", func() bool { return h.listener.callCount() == 1 })
}

func TestSuggestionForwardedWhileIdle(t *testing.T) {
	h := newHarness(t, Config{})

	h.engine.suggestions <- autonomy.Suggestion{ID: "s1", Text: "check the calendar", Confidence: 0.7}
	waitFor(t, "suggestion forwarded", func() bool { return h.confirmer.addedCount() == 1 })
}

func TestSuggestionNotConsumedMidTurn(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}})
	h.listener.release = make(chan struct{})
	h.listener.text = "ok."
	h.responder.tokens = []string{"Done."}

	h.press()
	waitFor(t, "listening", func() bool { return h.ctl.State() == StateListening })

	h.engine.suggestions <- autonomy.Suggestion{ID: "s1", Text: "idea", Confidence: 0.9}
	time.Sleep(30 * time.Millisecond)
	if h.confirmer.addedCount() != 0 {
		t.Error("suggestion consumed while not idle")
	}

	close(h.listener.release)
	waitFor(t, "forwarded after idle", func() bool { return h.confirmer.addedCount() == 1 })
}

func TestApologyOnGenerationFailure(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}})
	h.listener.text = "anything"
	h.responder.err = errors.New("model unreachable")

	h.press()
	waitFor(t, "apology spoken", func() bool { return len(h.speech.spoken()) == 1 })
	waitFor(t, "idle", func() bool { return h.ctl.State() == StateIdle })

	if got := h.speech.spoken()[0]; !strings.Contains(got, "Sorry") {
		t.Errorf("spoken = %q, want apology", got)
	}
}

func TestMidStreamFailureApologizes(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}})
	h.listener.text = "keep going"
	h.responder.tokens = []string{"Here is the first part. "}
	h.responder.err = errors.New("stream dropped")

	h.press()
	waitFor(t, "recovery spoken", func() bool { return len(h.speech.spoken()) >= 2 })
	waitFor(t, "idle", func() bool { return h.ctl.State() == StateIdle })

	got := h.speech.spoken()
	if !strings.Contains(got[len(got)-1], "train of thought") {
		t.Errorf("spoken = %q, want a recovery phrase last", got)
	}
}

func TestWakeTextSkipsListening(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}})
	h.responder.tokens = []string{"Lights are on."}

	h.triggers <- trigger.Event{Source: trigger.SourceWake, At: time.Now(), Text: "turn on the lights"}
	waitFor(t, "response spoken", func() bool { return len(h.speech.spoken()) == 1 })
	waitFor(t, "idle", func() bool { return h.ctl.State() == StateIdle })

	if h.listener.callCount() != 0 {
		t.Errorf("Listen calls = %d, want 0 for seeded turn", h.listener.callCount())
	}
	h.responder.mu.Lock()
	defer h.responder.mu.Unlock()
	if len(h.responder.inputs) != 1 || h.responder.inputs[0] != "turn on the lights" {
		t.Errorf("responder inputs = %q", h.responder.inputs)
	}
}

func TestEmptyTranscriptReturnsToIdle(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}})
	h.listener.text = "   "

	h.press()
	waitFor(t, "listen attempted", func() bool { return h.listener.callCount() == 1 })
	waitFor(t, "idle", func() bool { return h.ctl.State() == StateIdle })

	if n := len(h.speech.spoken()); n != 0 {
		t.Errorf("spoke %d phrases for empty transcript", n)
	}
}

func TestHalfDuplexPausesCapture(t *testing.T) {
	h := newHarness(t, Config{Chunker: tts.ChunkerConfig{MinChars: 4}, HalfDuplex: true})
	h.listener.text = "ping"
	h.responder.tokens = []string{"Pong it is."}

	h.press()
	waitFor(t, "response spoken", func() bool { return len(h.speech.spoken()) == 1 })
	waitFor(t, "idle", func() bool { return h.ctl.State() == StateIdle })

	h.capture.mu.Lock()
	defer h.capture.mu.Unlock()
	if h.capture.paused != 1 || h.capture.resumed != 1 {
		t.Errorf("pause/resume = %d/%d, want 1/1", h.capture.paused, h.capture.resumed)
	}
}
