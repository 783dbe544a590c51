package stt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// RemoteConfig configures the websocket streaming engine.
type RemoteConfig struct {
	URL        string
	APIKey     string
	SampleRate int
}

// remoteFlushTimeout bounds how long Flush waits for the server's final
// transcript after audio stops.
const remoteFlushTimeout = 2 * time.Second

// RemoteEngine streams PCM over a websocket to a hosted transcription
// service and receives incremental transcripts back. Audio goes out as
// 16-bit little-endian binary messages; transcripts arrive as JSON turn
// messages. The service signals end-of-turn itself, so AcceptFrame can
// complete an utterance without a local Flush.
type RemoteEngine struct {
	conn  *websocket.Conn
	log   zerolog.Logger
	final chan string

	mu     sync.Mutex
	latest string
	closed bool
}

type remoteTurnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
}

// NewRemoteEngine dials the transcription service.
func NewRemoteEngine(cfg RemoteConfig, log zerolog.Logger) (*RemoteEngine, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote engine requires a URL")
	}

	headers := http.Header{}
	if cfg.APIKey != "" {
		headers.Set("Authorization", cfg.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	url := fmt.Sprintf("%s?sample_rate=%d&encoding=pcm_s16le", cfg.URL, cfg.SampleRate)

	conn, resp, err := dialer.Dial(url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to transcription service (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to transcription service: %w", err)
	}

	e := &RemoteEngine{
		conn:  conn,
		log:   log.With().Str("component", "stt-remote").Logger(),
		final: make(chan string, 4),
	}
	go e.readLoop()
	return e, nil
}

func (e *RemoteEngine) readLoop() {
	for {
		_, message, err := e.conn.ReadMessage()
		if err != nil {
			e.mu.Lock()
			wasClosed := e.closed
			e.mu.Unlock()
			if !wasClosed {
				e.log.Error().Err(err).Msg("transcription stream read failed")
			}
			return
		}

		var msg remoteTurnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			e.log.Warn().Err(err).Msg("unparseable transcription message")
			continue
		}
		if msg.Type != "turn" {
			continue
		}

		e.mu.Lock()
		e.latest = msg.Transcript
		e.mu.Unlock()

		if msg.EndOfTurn && strings.TrimSpace(msg.Transcript) != "" {
			select {
			case e.final <- strings.TrimSpace(msg.Transcript):
			default:
			}
		}
	}
}

// AcceptFrame streams the frame and reports any end-of-turn transcript the
// server delivered since the last call.
func (e *RemoteEngine) AcceptFrame(frame []float32) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", fmt.Errorf("remote engine closed")
	}
	e.mu.Unlock()

	if err := e.conn.WriteMessage(websocket.BinaryMessage, floatToPCM16(frame)); err != nil {
		return "", fmt.Errorf("failed to stream audio: %w", err)
	}

	select {
	case text := <-e.final:
		e.resetUtterance()
		return text, nil
	default:
		return "", nil
	}
}

// Flush asks the server to finalize and waits briefly for the result. If
// the server stays quiet, the latest partial transcript is returned so the
// utterance is not lost.
func (e *RemoteEngine) Flush() (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", fmt.Errorf("remote engine closed")
	}
	e.mu.Unlock()

	if err := e.conn.WriteJSON(map[string]string{"type": "force_end_of_turn"}); err != nil {
		return "", fmt.Errorf("failed to request finalization: %w", err)
	}

	select {
	case text := <-e.final:
		e.resetUtterance()
		return text, nil
	case <-time.After(remoteFlushTimeout):
		e.mu.Lock()
		text := strings.TrimSpace(e.latest)
		e.mu.Unlock()
		e.resetUtterance()
		if text != "" {
			e.log.Warn().Msg("finalization timed out, using last partial transcript")
		}
		return text, nil
	}
}

func (e *RemoteEngine) resetUtterance() {
	e.mu.Lock()
	e.latest = ""
	e.mu.Unlock()
	// Drop any stale finals from a previous utterance.
	for {
		select {
		case <-e.final:
		default:
			return
		}
	}
}

// Close terminates the session and the connection.
func (e *RemoteEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.conn.WriteJSON(map[string]string{"type": "terminate"})
	return e.conn.Close()
}

// floatToPCM16 converts normalized float32 samples to 16-bit little-endian.
func floatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(math.Max(-32768, math.Min(32767, float64(s)*32767)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
