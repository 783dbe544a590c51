// Package trigger delivers the events that wake the assistant: a push-to-talk
// hotkey and an optional spoken wake phrase.
package trigger

import "time"

// Source identifies what produced an event.
type Source string

const (
	SourceHotkey Source = "hotkey"
	SourceWake   Source = "wake"
)

// Event is one activation request.
type Event struct {
	Source Source
	At     time.Time

	// Text carries the utterance remainder for wake events ("hey aria,
	// turn on the lights" delivers "turn on the lights"). Empty for
	// hotkey events.
	Text string
}
