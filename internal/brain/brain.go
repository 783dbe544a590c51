// Package brain builds prompts from persona, memory, and conversation
// history, and streams responses from the configured model provider.
package brain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aria-assistant/aria/internal/llm"
	"github.com/aria-assistant/aria/internal/memory"
	"github.com/aria-assistant/aria/internal/persona"
)

// Memory is the slice of the store the brain needs; nil disables recall.
type Memory interface {
	Query(ctx context.Context, topic string, limit int) ([]memory.Snippet, error)
	StoreExchange(ctx context.Context, userText, replyText string) error
}

// memoryQueryTimeout bounds recall so a slow disk cannot stall a response.
const memoryQueryTimeout = 2 * time.Second

// Config holds brain tuning.
type Config struct {
	// MaxHistory is the number of user/assistant exchange pairs kept in
	// the prompt. Older pairs are dropped, not summarized.
	MaxHistory int

	// MaxSnippets caps how many memory snippets are injected per turn.
	MaxSnippets int
}

// Brain is the conversational core. Safe for concurrent use, though the
// session controller only runs one generation at a time.
type Brain struct {
	provider llm.Provider
	persona  *persona.Persona
	mem      Memory
	cfg      Config
	log      zerolog.Logger

	mu      sync.Mutex
	history []llm.Message
}

// New creates a brain. mem may be nil.
func New(provider llm.Provider, p *persona.Persona, mem Memory, cfg Config, log zerolog.Logger) *Brain {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 10
	}
	if cfg.MaxSnippets <= 0 {
		cfg.MaxSnippets = 5
	}
	return &Brain{
		provider: provider,
		persona:  p,
		mem:      mem,
		cfg:      cfg,
		log:      log.With().Str("component", "brain").Logger(),
	}
}

// Respond streams a reply to userText. The returned channel follows the
// llm.Chunk contract. On successful completion the exchange is appended to
// history and persisted; a canceled or failed generation is not recorded,
// so an interrupted answer never pollutes later prompts.
func (b *Brain) Respond(ctx context.Context, userText string) <-chan llm.Chunk {
	return b.respond(ctx, userText, "")
}

// RespondAs is Respond with a persona context key ("suggestion", "confirm")
// selecting a specialized system prompt.
func (b *Brain) RespondAs(ctx context.Context, userText, personaContext string) <-chan llm.Chunk {
	return b.respond(ctx, userText, personaContext)
}

func (b *Brain) respond(ctx context.Context, userText, personaContext string) <-chan llm.Chunk {
	out := make(chan llm.Chunk, 32)

	go func() {
		defer close(out)

		messages := b.buildMessages(ctx, userText, personaContext)

		var reply strings.Builder
		for chunk := range b.provider.GenerateStream(ctx, messages) {
			reply.WriteString(chunk.Token)

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}

			if chunk.Err != nil {
				return
			}
			if chunk.Done {
				b.record(userText, reply.String())
				return
			}
		}
	}()

	return out
}

func (b *Brain) buildMessages(ctx context.Context, userText, personaContext string) []llm.Message {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: b.persona.SystemPrompt(personaContext)},
	}

	if b.mem != nil {
		queryCtx, cancel := context.WithTimeout(ctx, memoryQueryTimeout)
		snippets, err := b.mem.Query(queryCtx, userText, b.cfg.MaxSnippets)
		cancel()
		if err != nil {
			b.log.Warn().Err(err).Msg("memory recall failed, continuing without context")
		} else if len(snippets) > 0 {
			var sb strings.Builder
			sb.WriteString("Context that may be relevant:")
			for _, sn := range snippets {
				sb.WriteString("\n- ")
				sb.WriteString(sn.Content)
			}
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sb.String()})
		}
	}

	b.mu.Lock()
	messages = append(messages, b.history...)
	b.mu.Unlock()

	return append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
}

func (b *Brain) record(userText, replyText string) {
	replyText = strings.TrimSpace(replyText)
	if replyText == "" {
		return
	}

	b.mu.Lock()
	b.history = append(b.history,
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: replyText},
	)
	// Two messages per exchange pair.
	if max := b.cfg.MaxHistory * 2; len(b.history) > max {
		b.history = append([]llm.Message(nil), b.history[len(b.history)-max:]...)
	}
	b.mu.Unlock()

	if b.mem != nil {
		ctx, cancel := context.WithTimeout(context.Background(), memoryQueryTimeout)
		defer cancel()
		if err := b.mem.StoreExchange(ctx, userText, replyText); err != nil {
			b.log.Warn().Err(err).Msg("failed to persist exchange")
		}
	}
}

// Generate produces a one-off completion outside the conversation: history
// is not included and nothing is recorded, so background generations never
// leak into later prompts. snippets become a context system message.
func (b *Brain) Generate(ctx context.Context, prompt, personaContext string, snippets []string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: b.persona.SystemPrompt(personaContext)},
	}
	if len(snippets) > 0 {
		var sb strings.Builder
		sb.WriteString("Context that may be relevant:")
		for _, sn := range snippets {
			sb.WriteString("\n- ")
			sb.WriteString(sn)
		}
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sb.String()})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	var reply strings.Builder
	for chunk := range b.provider.GenerateStream(ctx, messages) {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		reply.WriteString(chunk.Token)
		if chunk.Done {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.String()), nil
}

// History returns a copy of the prompt history.
func (b *Brain) History() []llm.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Message(nil), b.history...)
}

// ClearHistory drops all conversation history from future prompts. The
// persisted memory is untouched.
func (b *Brain) ClearHistory() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}

// Healthy reports whether the underlying provider is reachable.
func (b *Brain) Healthy(ctx context.Context) bool {
	return b.provider.Healthy(ctx)
}

// ApologyText is spoken when generation fails outright.
func ApologyText() string {
	return "Sorry, I couldn't come up with an answer just now."
}

// RecoveryText is spoken when generation fails after part of the reply has
// already been delivered.
func RecoveryText() string {
	return "Sorry, I lost my train of thought."
}
