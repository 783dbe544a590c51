// Package vad classifies audio frames as speech or non-speech.
package vad

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Gate decides whether one frame of mono PCM contains speech.
// Implementations are called from a single goroutine.
type Gate interface {
	Classify(frame []float32) (speech bool, err error)
	Close()
}

// FailOpen wraps a Gate so that detector failure never mutes the user.
// After the first classification error the inner gate is permanently
// disabled and every frame reports speech, letting the transcriber rely on
// its own timeout to terminate utterances.
type FailOpen struct {
	inner    Gate
	disabled atomic.Bool
	log      zerolog.Logger
}

// NewFailOpen wraps inner with fail-open semantics.
func NewFailOpen(inner Gate, log zerolog.Logger) *FailOpen {
	return &FailOpen{inner: inner, log: log.With().Str("component", "vad").Logger()}
}

// Classify never returns an error: failures flip the gate open for good.
func (f *FailOpen) Classify(frame []float32) (bool, error) {
	if f.disabled.Load() {
		return true, nil
	}
	speech, err := f.inner.Classify(frame)
	if err != nil {
		f.disabled.Store(true)
		f.log.Error().Err(err).Msg("voice detector failed, treating all audio as speech")
		return true, nil
	}
	return speech, nil
}

// Disabled reports whether the inner gate has been bypassed.
func (f *FailOpen) Disabled() bool {
	return f.disabled.Load()
}

// Close releases the inner gate.
func (f *FailOpen) Close() {
	f.inner.Close()
}
