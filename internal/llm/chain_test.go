package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// scriptedProvider replays a fixed chunk sequence.
type scriptedProvider struct {
	name   string
	chunks []Chunk
	calls  int
}

func (p *scriptedProvider) Name() string                    { return p.name }
func (p *scriptedProvider) Healthy(context.Context) bool    { return true }

func (p *scriptedProvider) GenerateStream(ctx context.Context, _ []Message) <-chan Chunk {
	p.calls++
	out := make(chan Chunk, len(p.chunks))
	go func() {
		defer close(out)
		for _, c := range p.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
			if c.Done || c.Err != nil {
				return
			}
		}
	}()
	return out
}

func tokens(words ...string) []Chunk {
	chunks := make([]Chunk, 0, len(words)+1)
	for _, w := range words {
		chunks = append(chunks, Chunk{Token: w})
	}
	return append(chunks, Chunk{Done: true})
}

func collect(t *testing.T, ch <-chan Chunk) (string, bool, error) {
	t.Helper()
	var b strings.Builder
	var done bool
	var err error
	for chunk := range ch {
		b.WriteString(chunk.Token)
		if chunk.Done {
			done = true
		}
		if chunk.Err != nil {
			err = chunk.Err
		}
	}
	return b.String(), done, err
}

func TestChainUsesFirstProvider(t *testing.T) {
	first := &scriptedProvider{name: "first", chunks: tokens("hello ", "world")}
	second := &scriptedProvider{name: "second", chunks: tokens("unused")}
	chain, err := NewChain(zerolog.Nop(), first, second)
	if err != nil {
		t.Fatal(err)
	}

	text, done, err := collect(t, chain.GenerateStream(context.Background(), nil))
	if err != nil || !done {
		t.Fatalf("stream = (done=%v, err=%v)", done, err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if second.calls != 0 {
		t.Errorf("second provider called %d times", second.calls)
	}
}

func TestChainFallsThroughBeforeFirstToken(t *testing.T) {
	first := &scriptedProvider{name: "first", chunks: []Chunk{{Err: errors.New("connection refused")}}}
	second := &scriptedProvider{name: "second", chunks: tokens("backup ", "answer")}
	chain, _ := NewChain(zerolog.Nop(), first, second)

	text, done, err := collect(t, chain.GenerateStream(context.Background(), nil))
	if err != nil || !done {
		t.Fatalf("stream = (done=%v, err=%v)", done, err)
	}
	if text != "backup answer" {
		t.Errorf("text = %q", text)
	}
}

func TestChainNoFallbackAfterFirstToken(t *testing.T) {
	// The first provider dies mid-response; the chain must surface the
	// error instead of splicing in a second answer.
	first := &scriptedProvider{name: "first", chunks: []Chunk{
		{Token: "partial "},
		{Err: errors.New("stream reset")},
	}}
	second := &scriptedProvider{name: "second", chunks: tokens("other")}
	chain, _ := NewChain(zerolog.Nop(), first, second)

	text, done, err := collect(t, chain.GenerateStream(context.Background(), nil))
	if err == nil {
		t.Fatal("expected mid-stream error")
	}
	if done {
		t.Error("stream reported done despite failure")
	}
	if text != "partial " {
		t.Errorf("text = %q, want the partial output only", text)
	}
	if second.calls != 0 {
		t.Errorf("second provider called %d times after commit", second.calls)
	}
}

func TestChainAllProvidersFail(t *testing.T) {
	first := &scriptedProvider{name: "first", chunks: []Chunk{{Err: errors.New("down")}}}
	second := &scriptedProvider{name: "second", chunks: []Chunk{{Err: errors.New("also down")}}}
	chain, _ := NewChain(zerolog.Nop(), first, second)

	_, done, err := collect(t, chain.GenerateStream(context.Background(), nil))
	if err == nil || done {
		t.Fatalf("stream = (done=%v, err=%v), want terminal error", done, err)
	}
	if !strings.Contains(err.Error(), "also down") {
		t.Errorf("err = %v, want last provider's error", err)
	}
}

// floodProvider emits tokens until its context is canceled, faster than any
// consumer drains them.
type floodProvider struct{}

func (floodProvider) Name() string                 { return "flood" }
func (floodProvider) Healthy(context.Context) bool { return true }

func (floodProvider) GenerateStream(ctx context.Context, _ []Message) <-chan Chunk {
	out := make(chan Chunk, 32)
	go func() {
		defer close(out)
		for {
			select {
			case out <- Chunk{Token: "tok "}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func TestChainCancelWithUnreadBufferClosesStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chain, _ := NewChain(zerolog.Nop(), floodProvider{})

	out := chain.GenerateStream(ctx, nil)
	<-out
	// Nobody reads while the buffer fills, as happens when the consumer
	// abandons the stream on barge-in.
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				return
			}
			if chunk.Err != nil {
				t.Fatalf("terminal chunk forced into the full buffer: %v", chunk.Err)
			}
		case <-deadline:
			t.Fatal("stream never closed after cancellation")
		}
	}
}

func TestChainCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	first := &scriptedProvider{name: "first", chunks: tokens("never")}
	chain, _ := NewChain(zerolog.Nop(), first)

	_, _, err := collect(t, chain.GenerateStream(ctx, nil))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestChainRequiresProviders(t *testing.T) {
	if _, err := NewChain(zerolog.Nop()); err == nil {
		t.Error("expected error for empty chain")
	}
}
