package tts

import (
	"sync"

	"github.com/rs/zerolog"
)

// Speaker owns the synthesis and playback pipeline for response phrases.
// A single worker goroutine pops phrases in FIFO order, synthesizes each,
// and plays it, so phrases never overlap. Stop drops everything not yet
// played; the speaker stays usable for the next response.
type Speaker struct {
	synth  Synthesizer
	player Player
	log    zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []string
	speaking bool
	closed   bool

	wg sync.WaitGroup
}

// NewSpeaker starts the worker goroutine.
func NewSpeaker(synth Synthesizer, player Player, log zerolog.Logger) *Speaker {
	s := &Speaker{
		synth:  synth,
		player: player,
		log:    log.With().Str("component", "speaker").Logger(),
	}
	s.cond = sync.NewCond(&s.mu)
	s.wg.Add(1)
	go s.run()
	return s
}

// Say queues one phrase. It never blocks.
func (s *Speaker) Say(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, text)
	s.cond.Signal()
}

// Stop interrupts the phrase being played and discards all queued phrases.
// Safe to call at any time, including when nothing is playing.
func (s *Speaker) Stop() {
	s.mu.Lock()
	dropped := len(s.queue)
	s.queue = nil
	s.mu.Unlock()

	s.player.Interrupt()
	if dropped > 0 {
		s.log.Debug().Int("dropped", dropped).Msg("discarded queued phrases")
	}
}

// Busy reports whether a phrase is queued or being played.
func (s *Speaker) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking || len(s.queue) > 0
}

// Drain blocks until the queue is empty and the current phrase has finished
// playing. Stop unblocks it early.
func (s *Speaker) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for (s.speaking || len(s.queue) > 0) && !s.closed {
		s.cond.Wait()
	}
}

// Close stops the worker. Queued phrases are discarded.
func (s *Speaker) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	s.player.Interrupt()
	s.wg.Wait()
}

func (s *Speaker) run() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.speaking = false
			s.cond.Broadcast()
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		text := s.queue[0]
		s.queue = s.queue[1:]
		s.speaking = true
		s.mu.Unlock()

		buffer, err := s.synth.Synthesize(text)
		if err != nil {
			s.log.Warn().Err(err).Str("text", text).Msg("synthesis failed, skipping phrase")
			continue
		}
		if err := s.player.Play(buffer); err != nil {
			s.log.Warn().Err(err).Msg("playback failed")
		}
	}
}
