package trigger

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eiannone/keyboard"
	"github.com/rs/zerolog"
)

// Hotkey listens for a single configured key on the terminal and emits an
// Event per press. It grabs the keyboard in raw mode, so only one instance
// can exist per process.
type Hotkey struct {
	key    keyboard.Key
	char   rune
	events chan Event
	log    zerolog.Logger
}

var namedKeys = map[string]keyboard.Key{
	"f1": keyboard.KeyF1, "f2": keyboard.KeyF2, "f3": keyboard.KeyF3,
	"f4": keyboard.KeyF4, "f5": keyboard.KeyF5, "f6": keyboard.KeyF6,
	"f7": keyboard.KeyF7, "f8": keyboard.KeyF8, "f9": keyboard.KeyF9,
	"f10": keyboard.KeyF10, "f11": keyboard.KeyF11, "f12": keyboard.KeyF12,
	"space": keyboard.KeySpace,
	"tab":   keyboard.KeyTab,
	"enter": keyboard.KeyEnter,
}

// ParseKey resolves a configured key name ("f8", "space", or a single
// character) into its keyboard binding.
func ParseKey(name string) (keyboard.Key, rune, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if k, ok := namedKeys[lower]; ok {
		return k, 0, nil
	}
	if utf8.RuneCountInString(lower) == 1 {
		r, _ := utf8.DecodeRuneInString(lower)
		return 0, r, nil
	}
	return 0, 0, fmt.Errorf("unknown hotkey %q", name)
}

// NewHotkey opens the keyboard and starts listening for name.
func NewHotkey(name string, log zerolog.Logger) (*Hotkey, error) {
	key, char, err := ParseKey(name)
	if err != nil {
		return nil, err
	}

	keyEvents, err := keyboard.GetKeys(8)
	if err != nil {
		return nil, fmt.Errorf("failed to grab keyboard: %w", err)
	}

	h := &Hotkey{
		key:    key,
		char:   char,
		events: make(chan Event, 4),
		log:    log.With().Str("component", "hotkey").Str("key", name).Logger(),
	}

	go func() {
		defer close(h.events)
		for ev := range keyEvents {
			if ev.Err != nil {
				h.log.Error().Err(ev.Err).Msg("keyboard read failed")
				return
			}
			if !h.matches(ev) {
				continue
			}
			select {
			case h.events <- Event{Source: SourceHotkey, At: time.Now()}:
			default:
				// A press is already pending; coalesce.
			}
		}
	}()

	return h, nil
}

func (h *Hotkey) matches(ev keyboard.KeyEvent) bool {
	if h.char != 0 {
		return ev.Rune == h.char
	}
	return ev.Key == h.key
}

// Events returns the press channel. It closes when the keyboard is
// released or reading fails.
func (h *Hotkey) Events() <-chan Event {
	return h.events
}

// Close releases the keyboard.
func (h *Hotkey) Close() error {
	return keyboard.Close()
}
