package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Chain tries providers in order. A provider that fails before emitting any
// token falls through to the next one; once a token has reached the caller
// the chain is committed to that provider, because switching mid-response
// would splice two different answers together.
type Chain struct {
	providers []Provider
	log       zerolog.Logger
}

// NewChain builds a fallback chain. Order is priority order.
func NewChain(log zerolog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("chain requires at least one provider")
	}
	return &Chain{
		providers: providers,
		log:       log.With().Str("component", "llm-chain").Logger(),
	}, nil
}

// Name identifies the chain in logs.
func (c *Chain) Name() string { return "chain" }

// Healthy reports whether any provider is healthy.
func (c *Chain) Healthy(ctx context.Context) bool {
	for _, p := range c.providers {
		if p.Healthy(ctx) {
			return true
		}
	}
	return false
}

// GenerateStream streams from the first provider that produces output.
func (c *Chain) GenerateStream(ctx context.Context, messages []Message) <-chan Chunk {
	out := make(chan Chunk, 32)

	go func() {
		defer close(out)

		var lastErr error
		for _, provider := range c.providers {
			if ctx.Err() != nil {
				emit(ctx, out, Chunk{Err: ctx.Err()})
				return
			}

			emitted := false
			failed := false

			for chunk := range provider.GenerateStream(ctx, messages) {
				if chunk.Err != nil {
					lastErr = chunk.Err
					if emitted || ctx.Err() != nil {
						// Mid-response failure: surface it, no fallback.
						emit(ctx, out, chunk)
						return
					}
					c.log.Warn().Err(chunk.Err).Str("provider", provider.Name()).
						Msg("provider failed before first token, trying next")
					failed = true
					break
				}

				if chunk.Token != "" {
					emitted = true
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					emit(ctx, out, Chunk{Err: ctx.Err()})
					return
				}
				if chunk.Done {
					return
				}
			}

			if !failed {
				// Stream closed without a terminal chunk; treat as done.
				if emitted {
					emit(ctx, out, Chunk{Done: true})
					return
				}
				lastErr = fmt.Errorf("provider %s produced no output", provider.Name())
			}
		}

		emit(ctx, out, Chunk{Err: fmt.Errorf("all providers failed: %w", lastErr)})
	}()

	return out
}
