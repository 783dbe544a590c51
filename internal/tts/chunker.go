package tts

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultBoundaryPattern matches phrase boundaries: sentence punctuation
// followed by whitespace or a closing quote/bracket, sentence punctuation at
// end of buffer, or a newline. Punctuation inside numbers ("3.14") does not
// match.
const DefaultBoundaryPattern = `[.!?]+[\s"')\]]|[.!?]+$|\n`

// ChunkerConfig controls phrase slicing.
type ChunkerConfig struct {
	// BoundaryPattern overrides DefaultBoundaryPattern when non-empty.
	BoundaryPattern string

	// MinChars below which a boundary is ignored, so fragments like "Hi."
	// merge into the following phrase instead of producing choppy audio.
	MinChars int
}

// PhraseChunker accumulates streamed LLM tokens and emits complete phrases
// as soon as they form. Feeding phrases to synthesis incrementally hides
// generation latency behind playback.
type PhraseChunker struct {
	boundary *regexp.Regexp
	minChars int
	buf      strings.Builder
}

// NewPhraseChunker compiles the boundary pattern.
func NewPhraseChunker(cfg ChunkerConfig) (*PhraseChunker, error) {
	pattern := cfg.BoundaryPattern
	if pattern == "" {
		pattern = DefaultBoundaryPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &PhraseChunker{boundary: re, minChars: cfg.MinChars}, nil
}

// Add appends one token and returns any phrases completed by it, cleaned
// for speech. A token may complete several phrases at once.
func (c *PhraseChunker) Add(token string) []string {
	c.buf.WriteString(token)

	var phrases []string
	for {
		text := c.buf.String()
		// Split at the first boundary that yields a phrase of at least
		// minChars; earlier boundaries merge into it.
		cut := -1
		for _, loc := range c.boundary.FindAllStringIndex(text, -1) {
			if loc[1] >= c.minChars {
				cut = loc[1]
				break
			}
		}
		if cut < 0 {
			break
		}
		phrase := CleanForSpeech(text[:cut])
		rest := text[cut:]
		c.buf.Reset()
		c.buf.WriteString(rest)
		if phrase != "" {
			phrases = append(phrases, phrase)
		}
	}
	return phrases
}

// Flush returns whatever remains in the buffer, cleaned, and resets the
// chunker. Call after the token stream ends so trailing text without a
// boundary still gets spoken.
func (c *PhraseChunker) Flush() string {
	text := CleanForSpeech(c.buf.String())
	c.buf.Reset()
	return text
}

// Pending reports how many characters are buffered.
func (c *PhraseChunker) Pending() int {
	return c.buf.Len()
}

// CleanForSpeech strips characters the synthesizer would either mangle or
// read aloud: emoji, markdown markers, and decorative symbols. Whitespace
// is collapsed.
func CleanForSpeech(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '*' || r == '`' || r == '#' || r == '_' || r == '~':
			// markdown markers
		case unicode.In(r, unicode.So, unicode.Sk, unicode.Co):
			// emoji and decorative symbols
		case r >= 0x1F000 && r <= 0x1FAFF:
			// supplemental emoji blocks not covered by So
		case r == 0x200D || r == 0xFE0F:
			// zero-width joiner and variation selector left behind by emoji
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
