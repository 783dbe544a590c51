// Package stt turns captured audio into utterance transcripts. The
// Transcriber owns utterance boundary detection; Engine implementations only
// convert audio to text.
package stt

// Engine is a transcription backend for a single utterance. AcceptFrame may
// return text early if the backend detects end-of-turn on its own (remote
// streaming services do); batch engines return text only from Flush.
// Engines are reused across utterances: Flush resets internal state.
type Engine interface {
	// AcceptFrame feeds one frame of mono PCM. A non-empty return value is
	// the completed utterance text and ends the utterance.
	AcceptFrame(frame []float32) (completed string, err error)

	// Flush forces transcription of all buffered audio and resets the
	// engine for the next utterance.
	Flush() (string, error)

	// Close releases backend resources.
	Close() error
}
