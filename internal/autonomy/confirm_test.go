package autonomy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeVoice struct {
	mu           sync.Mutex
	spoken       []string
	responses    []string // consumed by ListenOnce in order
	listenErr    error
	busy         bool // Acquire fails while set
	listenBlocks bool // ListenOnce waits for ctx cancellation
	acquired     int
	released     int
}

func (v *fakeVoice) Acquire() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.busy {
		return false
	}
	v.acquired++
	return true
}

func (v *fakeVoice) Release() {
	v.mu.Lock()
	v.released++
	v.mu.Unlock()
}

func (v *fakeVoice) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.spoken = append(v.spoken, text)
	return nil
}

func (v *fakeVoice) ListenOnce(ctx context.Context) (string, error) {
	v.mu.Lock()
	blocks := v.listenBlocks
	v.mu.Unlock()
	if blocks {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if v.listenErr != nil {
		return "", v.listenErr
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.responses) == 0 {
		return "", nil // silence
	}
	r := v.responses[0]
	v.responses = v.responses[1:]
	return r, nil
}

func (v *fakeVoice) spokenTexts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.spoken...)
}

func (v *fakeVoice) releasedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.released
}

type fakeGenerator struct {
	rendered string
	err      error
	snippets []string
}

func (g *fakeGenerator) Render(ctx context.Context, combinedText string, snippets []string) (string, error) {
	g.snippets = snippets
	return g.rendered, g.err
}

func fastCoordinator(voice Voice, gen Generator) *Coordinator {
	return NewCoordinator(context.Background(), voice, gen, CoordinatorConfig{
		BatchWindow:   30 * time.Millisecond,
		IdleThreshold: 10 * time.Millisecond,
		ListenTimeout: 100 * time.Millisecond,
	}, zerolog.Nop())
}

func suggestion(text string, confidence float64, trigger TriggerType) Suggestion {
	return Suggestion{ID: text, Text: text, Confidence: confidence, Trigger: trigger, CreatedAt: time.Now()}
}

func waitSpoken(t *testing.T, v *fakeVoice, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := v.spokenTexts(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("voice spoke %d times, want %d", len(v.spokenTexts()), n)
	return nil
}

func TestConfirmedBatchIsSpoken(t *testing.T) {
	voice := &fakeVoice{responses: []string{"yes please"}}
	c := fastCoordinator(voice, nil)

	c.Add(suggestion("Want help with the deadline?", 0.7, TriggerHighValueTopic))

	spoken := waitSpoken(t, voice, 2)
	if !strings.Contains(spoken[0], "Interested?") {
		t.Errorf("prompt = %q, want topic-keyed prompt", spoken[0])
	}
	if spoken[1] != "Want help with the deadline?" {
		t.Errorf("spoken = %q", spoken[1])
	}
}

func TestDismissedBatchIsNotSpoken(t *testing.T) {
	voice := &fakeVoice{responses: []string{"not now"}}
	c := fastCoordinator(voice, nil)

	c.Add(suggestion("idea", 0.7, TriggerHesitation))

	spoken := waitSpoken(t, voice, 1)
	time.Sleep(100 * time.Millisecond)
	if got := voice.spokenTexts(); len(got) != len(spoken) {
		t.Errorf("suggestion spoken after dismissal: %q", got)
	}
}

func TestSilenceCountsAsNo(t *testing.T) {
	voice := &fakeVoice{} // ListenOnce returns empty
	c := fastCoordinator(voice, nil)

	c.Add(suggestion("idea", 0.7, TriggerDecisionKeyword))

	waitSpoken(t, voice, 1)
	time.Sleep(100 * time.Millisecond)
	if got := voice.spokenTexts(); len(got) != 1 {
		t.Errorf("spoke %q after silence", got)
	}
}

func TestUnclearAnswerCountsAsNo(t *testing.T) {
	voice := &fakeVoice{responses: []string{"bananas are great"}}
	c := fastCoordinator(voice, nil)

	c.Add(suggestion("idea", 0.7, TriggerDecisionKeyword))

	waitSpoken(t, voice, 1)
	time.Sleep(100 * time.Millisecond)
	if got := voice.spokenTexts(); len(got) != 1 {
		t.Errorf("spoke %q after unclear answer", got)
	}
}

func TestListenErrorCountsAsNo(t *testing.T) {
	voice := &fakeVoice{listenErr: errors.New("mic broke")}
	c := fastCoordinator(voice, nil)

	c.Add(suggestion("idea", 0.7, TriggerDecisionKeyword))

	waitSpoken(t, voice, 1)
	time.Sleep(100 * time.Millisecond)
	if got := voice.spokenTexts(); len(got) != 1 {
		t.Errorf("spoke %q after listen error", got)
	}
}

func TestActiveUserSkipsConfirmation(t *testing.T) {
	voice := &fakeVoice{responses: []string{"yes"}}
	c := NewCoordinator(context.Background(), voice, nil, CoordinatorConfig{
		BatchWindow:   30 * time.Millisecond,
		IdleThreshold: 10 * time.Second, // user never idle within the test
	}, zerolog.Nop())

	c.UpdateActivity()
	c.Add(suggestion("idea", 0.7, TriggerDecisionKeyword))

	time.Sleep(200 * time.Millisecond)
	if got := voice.spokenTexts(); len(got) != 0 {
		t.Errorf("spoke %q while user active", got)
	}
}

func TestClearPendingCancelsBatch(t *testing.T) {
	voice := &fakeVoice{responses: []string{"yes"}}
	c := fastCoordinator(voice, nil)

	c.Add(suggestion("idea", 0.7, TriggerDecisionKeyword))
	c.ClearPending()

	time.Sleep(200 * time.Millisecond)
	if got := voice.spokenTexts(); len(got) != 0 {
		t.Errorf("spoke %q after ClearPending", got)
	}
}

func TestBusyVoiceSkipsConfirmation(t *testing.T) {
	voice := &fakeVoice{busy: true, responses: []string{"yes"}}
	c := fastCoordinator(voice, nil)

	c.Add(suggestion("idea", 0.7, TriggerDecisionKeyword))

	time.Sleep(200 * time.Millisecond)
	if got := voice.spokenTexts(); len(got) != 0 {
		t.Errorf("spoke %q while the voice was reserved elsewhere", got)
	}
}

func TestClearPendingAbortsDialogue(t *testing.T) {
	voice := &fakeVoice{listenBlocks: true}
	c := NewCoordinator(context.Background(), voice, nil, CoordinatorConfig{
		BatchWindow:   30 * time.Millisecond,
		IdleThreshold: 10 * time.Millisecond,
		ListenTimeout: 10 * time.Second, // only cancellation ends the listen
	}, zerolog.Nop())

	c.Add(suggestion("idea", 0.7, TriggerDecisionKeyword))
	waitSpoken(t, voice, 1) // prompt is out, dialogue now waits on an answer

	c.ClearPending()

	deadline := time.Now().Add(2 * time.Second)
	for c.Confirming() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Confirming() {
		t.Fatal("dialogue still running after ClearPending")
	}
	if got := voice.spokenTexts(); len(got) != 1 {
		t.Errorf("spoke %q after the dialogue was aborted", got)
	}
	if voice.releasedCount() != 1 {
		t.Errorf("voice released %d times, want 1", voice.releasedCount())
	}
}

func TestBatchWindowCollectsSuggestions(t *testing.T) {
	voice := &fakeVoice{responses: []string{"sure"}}
	c := fastCoordinator(voice, nil)

	c.Add(suggestion("first idea.", 0.6, TriggerHesitation))
	c.Add(suggestion("second idea.", 0.9, TriggerDecisionKeyword))

	spoken := waitSpoken(t, voice, 2)
	// Highest confidence leads and keys the prompt.
	if !strings.Contains(spoken[0], "decision") {
		t.Errorf("prompt = %q, want decision-keyed prompt", spoken[0])
	}
	if !strings.Contains(spoken[1], "couple of thoughts") ||
		!strings.Contains(spoken[1], "second idea.") {
		t.Errorf("combined = %q", spoken[1])
	}
}

func TestGeneratorRendersConfirmedBatch(t *testing.T) {
	voice := &fakeVoice{responses: []string{"okay"}}
	gen := &fakeGenerator{rendered: "Here is the short version."}
	c := fastCoordinator(voice, gen)

	s := suggestion("long combined text", 0.7, TriggerDecisionKeyword)
	s.MemoryContext = []string{"snippet a", "snippet b", "snippet a"}
	c.Add(s)

	spoken := waitSpoken(t, voice, 2)
	if spoken[1] != "Here is the short version." {
		t.Errorf("spoken = %q", spoken[1])
	}
	// Duplicates removed, order kept.
	if len(gen.snippets) != 2 || gen.snippets[0] != "snippet a" || gen.snippets[1] != "snippet b" {
		t.Errorf("snippets = %q", gen.snippets)
	}
}

func TestGeneratorFailureFallsBackToCombinedText(t *testing.T) {
	voice := &fakeVoice{responses: []string{"yes"}}
	gen := &fakeGenerator{err: errors.New("model down")}
	c := fastCoordinator(voice, gen)

	c.Add(suggestion("the combined text", 0.7, TriggerDecisionKeyword))

	spoken := waitSpoken(t, voice, 2)
	if spoken[1] != "the combined text" {
		t.Errorf("spoken = %q, want combined text fallback", spoken[1])
	}
}

func TestCombineBatchTopThree(t *testing.T) {
	batch, ok := CombineBatch([]Suggestion{
		suggestion("a", 0.5, TriggerHesitation),
		suggestion("b", 0.9, TriggerDecisionKeyword),
		suggestion("c", 0.7, TriggerHighValueTopic),
		suggestion("d", 0.6, TriggerRepetition),
	})
	if !ok {
		t.Fatal("CombineBatch returned no batch")
	}
	if len(batch.Suggestions) != 3 {
		t.Fatalf("batch size = %d", len(batch.Suggestions))
	}
	if batch.Suggestions[0].Text != "b" || batch.HighestConfidence != 0.9 {
		t.Errorf("top = %q (%f)", batch.Suggestions[0].Text, batch.HighestConfidence)
	}
	if batch.PrimaryTrigger != TriggerDecisionKeyword {
		t.Errorf("primary trigger = %s", batch.PrimaryTrigger)
	}
	if !strings.Contains(batch.CombinedText, "few thoughts") {
		t.Errorf("combined = %q", batch.CombinedText)
	}
}

func TestCombineBatchEmpty(t *testing.T) {
	if _, ok := CombineBatch(nil); ok {
		t.Error("CombineBatch produced a batch from nothing")
	}
}

func TestConfirmationPromptPeriodicByConfidence(t *testing.T) {
	high := ConfirmationPrompt(Batch{PrimaryTrigger: TriggerPeriodic, HighestConfidence: 0.9})
	low := ConfirmationPrompt(Batch{PrimaryTrigger: TriggerPeriodic, HighestConfidence: 0.5})
	if high == low {
		t.Error("confidence did not change the generic prompt")
	}
}
