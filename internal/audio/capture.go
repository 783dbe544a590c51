// Package audio provides microphone capture and speaker playback using malgo.
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

// Frame is one fixed-duration chunk of mono float32 PCM (about 32ms).
type Frame []float32

// Capture ring buffer configuration.
const (
	// captureRingSize chunks at 32ms each give roughly 4 seconds of headroom
	// between the audio callback and the consumer goroutine.
	captureRingSize = 128

	// maxSamplesPerChunk bounds allocation in the audio callback path.
	maxSamplesPerChunk = 2048

	// frameChanSize is the capacity of the delivered frame channel. On
	// overflow the oldest frame is dropped so capture never blocks.
	frameChanSize = 64
)

type captureChunk struct {
	samples []float32
	len     int
}

// captureRing is a lock-free single-producer single-consumer ring buffer
// between the audio callback and the frame delivery goroutine.
type captureRing struct {
	chunks    [captureRingSize]captureChunk
	head      atomic.Uint64
	tail      atomic.Uint64
	dropCount atomic.Uint64
}

func newCaptureRing() *captureRing {
	rb := &captureRing{}
	for i := range rb.chunks {
		rb.chunks[i].samples = make([]float32, maxSamplesPerChunk)
	}
	return rb
}

func (rb *captureRing) push(samples []float32) bool {
	head := rb.head.Load()
	tail := rb.tail.Load()
	if head-tail >= captureRingSize {
		rb.dropCount.Add(1)
		return false
	}
	slot := &rb.chunks[head%captureRingSize]
	n := copy(slot.samples, samples)
	slot.len = n
	rb.head.Add(1)
	return true
}

func (rb *captureRing) pop() []float32 {
	head := rb.head.Load()
	tail := rb.tail.Load()
	if head == tail {
		return nil
	}
	slot := &rb.chunks[tail%captureRingSize]
	samples := slot.samples[:slot.len]
	rb.tail.Add(1)
	return samples
}

// Capturer reads the default microphone and delivers fixed-duration frames on
// a bounded channel. The audio callback only touches a lock-free ring buffer;
// resampling and channel delivery happen on a dedicated goroutine. When the
// channel is full the oldest frame is dropped, never the newest.
type Capturer struct {
	ctx              *malgo.AllocatedContext
	device           *malgo.Device
	sampleRate       uint32
	deviceSampleRate uint32
	running          atomic.Bool
	ringBuf          *captureRing
	frames           chan Frame
	stopChan         chan struct{}
	stopOnce         sync.Once
	wg               sync.WaitGroup
	resampler        *PolyphaseResampler
	log              zerolog.Logger
}

// NewCapturer creates a capturer targeting the given sample rate.
func NewCapturer(sampleRate int, log zerolog.Logger) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	return &Capturer{
		ctx:        ctx,
		sampleRate: uint32(sampleRate),
		ringBuf:    newCaptureRing(),
		frames:     make(chan Frame, frameChanSize),
		stopChan:   make(chan struct{}),
		log:        log.With().Str("component", "capture").Logger(),
	}, nil
}

// Frames returns the channel of captured frames.
func (c *Capturer) Frames() <-chan Frame {
	return c.frames
}

// Start opens the default microphone and begins delivering frames.
func (c *Capturer) Start() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = c.sampleRate
	deviceConfig.PeriodSizeInMilliseconds = 32

	// The device may refuse the requested rate; query what it actually runs at.
	tempDevice, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{})
	if err != nil {
		return fmt.Errorf("failed to query capture device: %w", err)
	}
	c.deviceSampleRate = tempDevice.SampleRate()
	tempDevice.Uninit()

	if c.deviceSampleRate != c.sampleRate {
		if c.deviceSampleRate > c.sampleRate {
			c.resampler = NewPolyphaseResampler(int(c.deviceSampleRate), int(c.sampleRate))
			c.log.Info().Uint32("from", c.deviceSampleRate).Uint32("to", c.sampleRate).
				Msg("downsampling capture with polyphase filter")
		} else {
			c.log.Info().Uint32("from", c.deviceSampleRate).Uint32("to", c.sampleRate).
				Msg("upsampling capture with linear interpolation")
		}
	}

	// Runs on the audio thread; must never block.
	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if !c.running.Load() {
			return
		}
		pooled := bytesToFloat32(pInputSamples)
		if len(pooled) > 0 {
			c.ringBuf.push(pooled)
		}
		returnFloat32Buffer(pooled)
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	c.device = device
	c.running.Store(true)

	c.wg.Add(1)
	go c.deliverLoop()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

// deliverLoop drains the ring buffer, resamples, and delivers frames.
func (c *Capturer) deliverLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		samples := c.ringBuf.pop()
		if samples == nil || !c.running.Load() {
			select {
			case <-c.stopChan:
				return
			case <-time.After(100 * time.Microsecond):
			}
			continue
		}

		// Slot memory is reused by the ring; hand out a copy.
		frame := make(Frame, len(samples))
		copy(frame, samples)

		if c.resampler != nil {
			frame = c.resampler.Resample(frame)
		} else if c.deviceSampleRate != c.sampleRate {
			frame = ResampleLinear(frame, int(c.deviceSampleRate), int(c.sampleRate))
		}

		c.deliver(frame)
	}
}

// deliver pushes a frame, dropping the oldest queued frame on overflow.
func (c *Capturer) deliver(frame Frame) {
	select {
	case c.frames <- frame:
		return
	default:
	}
	select {
	case <-c.frames:
		if n := c.ringBuf.dropCount.Add(1); n%100 == 0 {
			c.log.Warn().Uint64("dropped", n).Msg("capture consumer lagging, dropping oldest frames")
		}
	default:
	}
	select {
	case c.frames <- frame:
	default:
	}
}

// Pause temporarily stops frame delivery (half-duplex playback).
func (c *Capturer) Pause() {
	c.running.Store(false)
}

// Resume restarts frame delivery after Pause.
func (c *Capturer) Resume() {
	c.running.Store(true)
}

// Stop halts capture and waits for the delivery goroutine.
func (c *Capturer) Stop() {
	c.running.Store(false)
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()

	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
}

// Close releases all audio resources.
func (c *Capturer) Close() {
	c.Stop()
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}

// float32Pool avoids per-callback allocation in the audio hot path.
var float32Pool = sync.Pool{
	New: func() interface{} {
		buf := make([]float32, maxSamplesPerChunk)
		return &buf
	},
}

// bytesToFloat32 converts raw little-endian f32 bytes to samples.
// The returned slice is pooled; callers must copy before the next call.
func bytesToFloat32(data []byte) []float32 {
	numSamples := len(data) / 4
	pBuf := float32Pool.Get().(*[]float32)
	if cap(*pBuf) < numSamples {
		*pBuf = make([]float32, numSamples)
	}
	samples := (*pBuf)[:numSamples]
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

func returnFloat32Buffer(samples []float32) {
	if samples == nil {
		return
	}
	buf := samples[:cap(samples)]
	float32Pool.Put(&buf)
}
