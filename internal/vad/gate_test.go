package vad

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

type scriptedGate struct {
	results []bool
	errs    []error
	calls   int
	closed  bool
}

func (g *scriptedGate) Classify(frame []float32) (bool, error) {
	i := g.calls
	g.calls++
	var err error
	if i < len(g.errs) {
		err = g.errs[i]
	}
	var speech bool
	if i < len(g.results) {
		speech = g.results[i]
	}
	return speech, err
}

func (g *scriptedGate) Close() { g.closed = true }

func TestFailOpenPassesThrough(t *testing.T) {
	inner := &scriptedGate{results: []bool{true, false, true}}
	g := NewFailOpen(inner, zerolog.Nop())

	for i, want := range []bool{true, false, true} {
		got, err := g.Classify(nil)
		if err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
		if got != want {
			t.Errorf("call %d = %v, want %v", i, got, want)
		}
	}
	if g.Disabled() {
		t.Error("gate disabled without an error")
	}
}

func TestFailOpenDisablesPermanently(t *testing.T) {
	inner := &scriptedGate{
		results: []bool{false, false, false},
		errs:    []error{nil, errors.New("model crashed"), nil},
	}
	g := NewFailOpen(inner, zerolog.Nop())

	if got, _ := g.Classify(nil); got {
		t.Error("first frame reported speech")
	}

	// The failing frame and everything after it must report speech.
	for i := 0; i < 5; i++ {
		got, err := g.Classify(nil)
		if err != nil {
			t.Fatalf("frame %d: error surfaced past fail-open: %v", i, err)
		}
		if !got {
			t.Errorf("frame %d after failure = false, want true", i)
		}
	}
	if !g.Disabled() {
		t.Error("gate not marked disabled")
	}
	// Inner gate must not be consulted once disabled.
	if inner.calls != 2 {
		t.Errorf("inner gate called %d times, want 2", inner.calls)
	}
}

func TestFailOpenClose(t *testing.T) {
	inner := &scriptedGate{}
	g := NewFailOpen(inner, zerolog.Nop())
	g.Close()
	if !inner.closed {
		t.Error("inner gate not closed")
	}
}

func sineFrame(amplitude float64, n int) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return frame
}

func TestEnergyGateThresholds(t *testing.T) {
	g := NewEnergyGate()

	if speech, _ := g.Classify(sineFrame(0.005, 512)); speech {
		t.Error("quiet frame classified as speech")
	}
	if speech, _ := g.Classify(sineFrame(0.1, 512)); !speech {
		t.Error("loud frame classified as silence")
	}
}

func TestEnergyGateHysteresis(t *testing.T) {
	g := NewEnergyGate()

	// Enter speech, then drop into the hysteresis band: still speech.
	g.Classify(sineFrame(0.1, 512))
	if speech, _ := g.Classify(sineFrame(0.016, 512)); !speech {
		t.Error("gate released inside hysteresis band")
	}
	// Below the release threshold: silence.
	if speech, _ := g.Classify(sineFrame(0.001, 512)); speech {
		t.Error("gate held below release threshold")
	}
	// Back inside the band from silence: must stay silent.
	if speech, _ := g.Classify(sineFrame(0.016, 512)); speech {
		t.Error("gate triggered inside hysteresis band")
	}
}

func TestEnergyGateEmptyFrame(t *testing.T) {
	g := NewEnergyGate()
	if speech, err := g.Classify(nil); err != nil || speech {
		t.Errorf("empty frame = (%v, %v), want (false, nil)", speech, err)
	}
}
