package trigger

import "strings"

// WakeMatcher detects a spoken wake phrase inside a transcript.
type WakeMatcher struct {
	phrase string
}

// NewWakeMatcher creates a matcher; an empty phrase never matches.
func NewWakeMatcher(phrase string) *WakeMatcher {
	return &WakeMatcher{phrase: strings.ToLower(strings.TrimSpace(phrase))}
}

// Enabled reports whether a wake phrase is configured.
func (m *WakeMatcher) Enabled() bool {
	return m.phrase != ""
}

// Match reports whether text contains the wake phrase and returns the text
// with the phrase removed. A transcript that is only the wake phrase
// returns matched=true with empty remainder.
func (m *WakeMatcher) Match(text string) (remainder string, matched bool) {
	if m.phrase == "" {
		return text, false
	}

	lower := strings.ToLower(text)
	idx := strings.Index(lower, m.phrase)
	if idx == -1 {
		return text, false
	}

	rest := text[:idx] + text[idx+len(m.phrase):]
	rest = strings.TrimLeft(rest, " ,.!?;:-'\"")
	return strings.TrimSpace(rest), true
}
