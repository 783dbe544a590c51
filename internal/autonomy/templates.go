package autonomy

import (
	"fmt"
	"sort"
	"strings"
)

// maxBatchSize suggestions survive batching; the rest are dropped.
const maxBatchSize = 3

// RenderSuggestion produces the suggestion text for a trigger, preferring
// memory context when available.
func RenderSuggestion(trigger TriggerType, topic string, memoryContext []string) string {
	if len(memoryContext) > 0 {
		preview := strings.Join(memoryContext[:min(len(memoryContext), 3)], " \n")
		switch {
		case trigger == TriggerHighValueTopic && topic != "":
			return fmt.Sprintf("On %s, here's what we've discussed before: \n%s\nWould you like me to summarize options or next steps?", topic, preview)
		case trigger == TriggerDecisionKeyword:
			return fmt.Sprintf("Based on similar past moments: \n%s\nWant me to help weigh pros and cons now?", preview)
		case trigger == TriggerHesitation:
			return fmt.Sprintf("I remember you sounded unsure previously: \n%s\nWant a quick path forward?", preview)
		case trigger == TriggerRepetition:
			return fmt.Sprintf("This keeps coming up: \n%s\nShould we make a plan together?", preview)
		}
		return fmt.Sprintf("Here's some context that might help: \n%s\nWant suggestions?", preview)
	}

	switch {
	case trigger == TriggerHighValueTopic && topic != "":
		return fmt.Sprintf("I noticed you mentioned %s. Would you like some help with that?", topic)
	case trigger == TriggerDecisionKeyword:
		return "I can help you think through that decision. What factors are you considering?"
	case trigger == TriggerHesitation:
		return "It sounds like you're thinking through something. Want to talk it out?"
	case trigger == TriggerRepetition:
		return "I notice you've mentioned this before. Would you like some help with it?"
	}
	return "Is there anything I can help you with right now?"
}

// CombineBatch folds pending suggestions into one Batch: top three by
// confidence, combined into a single spoken offer. Returns a zero Batch
// and false when there is nothing to combine.
func CombineBatch(pending []Suggestion) (Batch, bool) {
	if len(pending) == 0 {
		return Batch{}, false
	}

	sorted := append([]Suggestion(nil), pending...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	top := sorted[:min(len(sorted), maxBatchSize)]

	var combined string
	switch len(top) {
	case 1:
		combined = top[0].Text
	case 2:
		combined = fmt.Sprintf("I have a couple of thoughts: %s Also, %s", top[0].Text, top[1].Text)
	default:
		combined = fmt.Sprintf("I have a few thoughts: %s Also, %s And %s", top[0].Text, top[1].Text, top[2].Text)
	}

	return Batch{
		Suggestions:       top,
		CombinedText:      combined,
		HighestConfidence: top[0].Confidence,
		PrimaryTrigger:    top[0].Trigger,
	}, true
}

// ConfirmationPrompt phrases the yes/no question for a batch, keyed on the
// strongest suggestion's trigger.
func ConfirmationPrompt(batch Batch) string {
	switch batch.PrimaryTrigger {
	case TriggerDecisionKeyword:
		return "I noticed you're working through a decision. I have some thoughts that might help. Would you like to hear them?"
	case TriggerHighValueTopic:
		return "I picked up on something important you mentioned. I might have some useful insights. Interested?"
	case TriggerHesitation:
		return "It sounds like you're thinking through something. I have some ideas that might help. Want to hear them?"
	case TriggerRepetition:
		return "I notice this topic has come up before. I have some thoughts that might be helpful. Would you like to hear them?"
	}
	if batch.HighestConfidence > 0.8 {
		return "I have a suggestion that might be helpful. Would you like to hear it?"
	}
	return "I have a thought. Would you like to hear it?"
}
