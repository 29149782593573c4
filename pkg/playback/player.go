// Package playback renders synthesized reply audio on the default output
// device.
package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// Config tunes the output device.
type Config struct {
	SampleRate int
	Channels   int
}

// DefaultConfig matches the capture side: 44.1kHz mono PCM-16.
func DefaultConfig() Config {
	return Config{SampleRate: 44100, Channels: 1}
}

// Player owns a malgo playback device and a byte queue of PCM-16 audio. The
// device callback drains the queue and zero-fills on underrun, so the device
// can stay running between replies.
type Player struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	logger zerolog.Logger

	mu           sync.Mutex
	queue        []byte
	lastPlayedAt time.Time
}

// NewPlayer initializes the playback device and starts it immediately.
func NewPlayer(cfg Config, logger zerolog.Logger) (*Player, error) {
	if cfg.SampleRate <= 0 {
		cfg = DefaultConfig()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("playback context: %w", err)
	}

	p := &Player{
		ctx:    mctx,
		logger: logger.With().Str("component", "playback").Logger(),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			p.fill(pOutput)
		},
	})
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("playback start: %w", err)
	}

	p.device = device
	return p, nil
}

func (p *Player) fill(out []byte) {
	p.mu.Lock()
	n := copy(out, p.queue)
	p.queue = p.queue[n:]
	if n > 0 {
		p.lastPlayedAt = time.Now()
	}
	p.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// Enqueue appends PCM to the playback queue.
func (p *Player) Enqueue(pcm []byte) error {
	p.mu.Lock()
	p.queue = append(p.queue, pcm...)
	p.mu.Unlock()
	return nil
}

// Flush discards any queued audio immediately.
func (p *Player) Flush() {
	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()
}

// ActiveSince reports whether audio left the device within the given window.
// Capture code uses it to raise its silence threshold while a reply is
// audible, so the microphone does not pick the reply up as speech.
func (p *Player) ActiveSince(window time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastPlayedAt.IsZero() {
		return false
	}
	return time.Since(p.lastPlayedAt) < window || len(p.queue) > 0
}

// Close stops the device and releases the audio context.
func (p *Player) Close() error {
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		err := p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
		return err
	}
	return nil
}
