package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

// OllamaConfig configures the local Ollama provider.
type OllamaConfig struct {
	URL         string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Ollama streams from a local Ollama server.
type Ollama struct {
	client *api.Client
	cfg    OllamaConfig
	log    zerolog.Logger
}

// NewOllama creates the provider. The server is not contacted until the
// first request; use Healthy to probe it.
func NewOllama(cfg OllamaConfig, log zerolog.Logger) (*Ollama, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL %q: %w", cfg.URL, err)
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Ollama{
		client: api.NewClient(u, httpClient),
		cfg:    cfg,
		log:    log.With().Str("provider", "ollama").Str("model", cfg.Model).Logger(),
	}, nil
}

// Name identifies the provider in logs and fallback decisions.
func (o *Ollama) Name() string { return "ollama" }

// Healthy reports whether the server answers a heartbeat.
func (o *Ollama) Healthy(ctx context.Context) bool {
	return o.client.Heartbeat(ctx) == nil
}

// GenerateStream starts a chat completion and streams tokens.
func (o *Ollama) GenerateStream(ctx context.Context, messages []Message) <-chan Chunk {
	out := make(chan Chunk, 32)

	go func() {
		defer close(out)

		apiMessages := make([]api.Message, len(messages))
		for i, m := range messages {
			apiMessages[i] = api.Message{Role: m.Role, Content: m.Content}
		}

		stream := true
		req := &api.ChatRequest{
			Model:    o.cfg.Model,
			Messages: apiMessages,
			Stream:   &stream,
			Options: map[string]any{
				"temperature": o.cfg.Temperature,
				"num_predict": o.cfg.MaxTokens,
			},
		}

		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			select {
			case out <- Chunk{Token: resp.Message.Content}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			emit(ctx, out, Chunk{Err: fmt.Errorf("ollama chat failed: %w", err)})
			return
		}
		emit(ctx, out, Chunk{Done: true})
	}()

	return out
}
