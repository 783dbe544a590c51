package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog"
)

// OpenAIConfig configures the hosted OpenAI-compatible provider. BaseURL may
// point at any compatible endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAI streams from an OpenAI-compatible chat completion API.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
	log    zerolog.Logger
}

// NewOpenAI creates the provider.
func NewOpenAI(cfg OpenAIConfig, log zerolog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai provider requires an API key")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		log:    log.With().Str("provider", "openai").Str("model", cfg.Model).Logger(),
	}, nil
}

// Name identifies the provider in logs and fallback decisions.
func (o *OpenAI) Name() string { return "openai" }

// Healthy probes the API by listing models.
func (o *OpenAI) Healthy(ctx context.Context) bool {
	_, err := o.client.ListModels(ctx)
	return err == nil
}

// GenerateStream starts a chat completion and streams tokens.
func (o *OpenAI) GenerateStream(ctx context.Context, messages []Message) <-chan Chunk {
	out := make(chan Chunk, 32)

	go func() {
		defer close(out)

		apiMessages := make([]openai.ChatCompletionMessage, len(messages))
		for i, m := range messages {
			apiMessages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		}

		stream, err := o.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       o.cfg.Model,
			Messages:    apiMessages,
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxTokens,
			Stream:      true,
		})
		if err != nil {
			emit(ctx, out, Chunk{Err: fmt.Errorf("openai stream failed to start: %w", err)})
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				emit(ctx, out, Chunk{Done: true})
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				emit(ctx, out, Chunk{Err: fmt.Errorf("openai stream failed: %w", err)})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			token := resp.Choices[0].Delta.Content
			if token == "" {
				continue
			}
			select {
			case out <- Chunk{Token: token}:
			case <-ctx.Done():
				emit(ctx, out, Chunk{Err: ctx.Err()})
				return
			}
		}
	}()

	return out
}
