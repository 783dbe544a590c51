// Package autonomy generates unprompted suggestions from conversational
// signals and coordinates user confirmation before speaking them.
package autonomy

import "time"

// TriggerType names the signal that produced a suggestion.
type TriggerType string

const (
	// TriggerPeriodic marks the absence of any stronger signal. Periodic
	// suggestions are scored but never surfaced.
	TriggerPeriodic TriggerType = "periodic"

	// TriggerDecisionKeyword fires on phrases like "should I" or "what if".
	TriggerDecisionKeyword TriggerType = "decision_keyword"

	// TriggerHighValueTopic fires on topics worth following up on.
	TriggerHighValueTopic TriggerType = "high_value_topic"

	// TriggerHesitation fires on filler-heavy speech.
	TriggerHesitation TriggerType = "hesitation"

	// TriggerRepetition fires when the user repeats themselves.
	TriggerRepetition TriggerType = "repetition"
)

// Suggestion is one proactive offer of help.
type Suggestion struct {
	ID         string
	Text       string
	Confidence float64
	Trigger    TriggerType
	Topic      string
	CreatedAt  time.Time

	// MemoryContext holds the snippets the suggestion was built from, so
	// the confirmation flow can reuse them.
	MemoryContext []string
}

// Batch is several suggestions folded into a single confirmation exchange.
type Batch struct {
	Suggestions       []Suggestion
	CombinedText      string
	HighestConfidence float64
	PrimaryTrigger    TriggerType
}
