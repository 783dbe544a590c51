// Package tts turns response text into audible speech. The Speaker worker
// serializes synthesis and playback; the PhraseChunker slices a token stream
// into speakable phrases so playback starts before generation finishes.
package tts

import "github.com/aria-assistant/aria/internal/audio"

// Synthesizer converts one phrase of text into audio.
type Synthesizer interface {
	Synthesize(text string) (audio.Buffer, error)
	Close()
}

// Player plays synthesized audio. audio.Player satisfies this; tests use
// fakes.
type Player interface {
	Play(buffer audio.Buffer) error
	Interrupt()
}
