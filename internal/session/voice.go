package session

import (
	"context"

	"github.com/aria-assistant/aria/internal/brain"
)

// SuggestionRenderer phrases a batched suggestion through the brain's
// suggestion persona, outside the conversation history.
type SuggestionRenderer struct {
	brain *brain.Brain
}

func NewSuggestionRenderer(b *brain.Brain) *SuggestionRenderer {
	return &SuggestionRenderer{brain: b}
}

func (r *SuggestionRenderer) Render(ctx context.Context, combinedText string, snippets []string) (string, error) {
	prompt := "Provide a concise, helpful suggestion given this context and user signals: " + combinedText
	return r.brain.Generate(ctx, prompt, "suggestion", snippets)
}
