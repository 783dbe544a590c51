// Package llm streams chat completions from language model backends and
// provides ordered fallback between them.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Chunk is one unit of a streamed response. Token carries text; Done marks
// successful completion; Err marks failure. Exactly one terminal chunk
// (Done or Err) ends every stream.
type Chunk struct {
	Token string
	Done  bool
	Err   error
}

// Provider streams completions from one backend. The returned channel is
// closed after the terminal chunk. Canceling ctx aborts generation; a
// canceled stream may close without a terminal chunk when the consumer has
// stopped reading.
type Provider interface {
	Name() string
	GenerateStream(ctx context.Context, messages []Message) <-chan Chunk
	Healthy(ctx context.Context) bool
}

// emit delivers a chunk, giving up when the buffer is full and ctx has been
// canceled. A consumer that bails out on cancellation stops draining its
// channel, so an unconditional send here would strand the producing
// goroutine forever.
func emit(ctx context.Context, out chan<- Chunk, c Chunk) {
	select {
	case out <- c:
		return
	default:
	}
	select {
	case out <- c:
	case <-ctx.Done():
	}
}
