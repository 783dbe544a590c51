package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// playbackRingSize samples hold roughly 22 seconds of 24kHz TTS output,
// enough to queue a long response without overflow.
const playbackRingSize = 524288

// Buffer holds synthesized audio samples and their rate.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// playbackRing is a lock-free single-producer single-consumer sample queue
// drained by the device callback.
type playbackRing struct {
	samples [playbackRingSize]float32
	head    atomic.Uint64
	tail    atomic.Uint64
}

func (rb *playbackRing) push(samples []float32) int {
	head := rb.head.Load()
	tail := rb.tail.Load()

	available := playbackRingSize - int(head-tail)
	toWrite := min(len(samples), available)
	for i := 0; i < toWrite; i++ {
		rb.samples[(head+uint64(i))%playbackRingSize] = samples[i]
	}
	rb.head.Add(uint64(toWrite))
	return toWrite
}

func (rb *playbackRing) pop() (float32, bool) {
	head := rb.head.Load()
	tail := rb.tail.Load()
	if head == tail {
		return 0.0, false
	}
	sample := rb.samples[tail%playbackRingSize]
	rb.tail.Add(1)
	return sample, true
}

func (rb *playbackRing) isEmpty() bool {
	return rb.head.Load() == rb.tail.Load()
}

func (rb *playbackRing) clear() {
	rb.tail.Store(rb.head.Load())
}

// Player owns the audio output device. It is the sole writer to the device:
// callers queue samples through Play and the persistent device callback
// drains the ring. Interrupt drops everything still queued.
type Player struct {
	ctx              *malgo.AllocatedContext
	device           *malgo.Device
	sampleRate       uint32
	deviceSampleRate uint32
	bufferMs         uint32
	interrupt        *atomic.Bool
	externalIntr     *atomic.Bool
	playing          atomic.Bool
	ring             *playbackRing
	mu               sync.Mutex
	completeChan     chan struct{}
	log              zerolog.Logger
}

// NewPlayer creates a player with a persistent playback device.
// externalInterrupt may be nil; when set, it aborts playback from outside
// (e.g. barge-in detected while the assistant is speaking).
func NewPlayer(sampleRate int, bufferMs uint32, externalInterrupt *atomic.Bool, log zerolog.Logger) (*Player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	if bufferMs == 0 {
		bufferMs = 100 // Bluetooth-friendly default
	}

	p := &Player{
		ctx:              ctx,
		sampleRate:       uint32(sampleRate),
		deviceSampleRate: deviceNativeSampleRate(),
		bufferMs:         bufferMs,
		externalIntr:     externalInterrupt,
		interrupt:        &atomic.Bool{},
		ring:             &playbackRing{},
		completeChan:     make(chan struct{}, 1),
		log:              log.With().Str("component", "playback").Logger(),
	}

	if err := p.initDevice(); err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	p.log.Info().Uint32("device_rate", p.deviceSampleRate).Uint32("buffer_ms", bufferMs).
		Msg("playback device started")
	return p, nil
}

func (p *Player) initDevice() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = p.deviceSampleRate
	deviceConfig.PeriodSizeInMilliseconds = p.bufferMs

	onSendFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		interrupted := p.interrupt.Load() || (p.externalIntr != nil && p.externalIntr.Load())

		for i := 0; i < int(framecount); i++ {
			var sample float32
			if !interrupted {
				if s, ok := p.ring.pop(); ok {
					sample = s
				}
			}
			binary.LittleEndian.PutUint32(pOutputSample[i*4:], math.Float32bits(sample))
		}

		if p.ring.isEmpty() || interrupted {
			p.playing.Store(false)
			select {
			case p.completeChan <- struct{}{}:
			default:
			}
		}
	}

	device, err := malgo.InitDevice(p.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSendFrames})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	p.device = device

	// Start immediately; the device outputs silence until samples arrive.
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func deviceNativeSampleRate() uint32 {
	defaultConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	if defaultConfig.SampleRate > 0 {
		return defaultConfig.SampleRate
	}
	return 48000
}

// Play queues the buffer and blocks until playback completes or is
// interrupted. Interruption is not an error.
func (p *Player) Play(buffer Buffer) error {
	playbackSamples := buffer.Samples
	if buffer.SampleRate != int(p.deviceSampleRate) {
		playbackSamples = ResampleLinear(buffer.Samples, buffer.SampleRate, int(p.deviceSampleRate))
	}

	p.interrupt.Store(false)

	p.mu.Lock()
	written := p.ring.push(playbackSamples)
	if written < len(playbackSamples) {
		p.log.Warn().Int("dropped", len(playbackSamples)-written).Msg("playback buffer overflow")
	}
	p.mu.Unlock()

	p.playing.Store(true)

	timeout := time.Duration(len(playbackSamples)/int(p.deviceSampleRate)+2) * time.Second
	deadline := time.Now().Add(timeout)

	for p.playing.Load() {
		if p.interrupt.Load() || (p.externalIntr != nil && p.externalIntr.Load()) {
			p.ring.clear()
			p.playing.Store(false)
			return nil
		}
		if time.Now().After(deadline) {
			p.log.Warn().Msg("playback timeout exceeded")
			p.ring.clear()
			p.playing.Store(false)
			return nil
		}
		select {
		case <-p.completeChan:
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

// Interrupt stops current playback and drops queued samples.
func (p *Player) Interrupt() {
	p.interrupt.Store(true)
	p.ring.clear()
	p.playing.Store(false)
	select {
	case p.completeChan <- struct{}{}:
	default:
	}
}

// Close releases all resources.
func (p *Player) Close() {
	p.Interrupt()
	if p.device != nil {
		p.device.Stop()
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}
