package capture

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/speakdrill-ai/speakdrill-agent/internal/observability"
	"github.com/speakdrill-ai/speakdrill-agent/pkg/audio"
)

// Config tunes the capture engine.
type Config struct {
	Device   DeviceConfig
	Analyzer AnalyzerConfig
	// DisableVAD turns off level metering and silence auto-stop. Recording
	// still works; it just has to be stopped explicitly.
	DisableVAD bool
	// MaxDuration is a hard stop on recording length. Unlike Cancel, the
	// recorded utterance is still finalized and delivered.
	MaxDuration time.Duration
	// EventBuffer sizes the outbound event channel.
	EventBuffer int
}

// DefaultConfig returns the tuning used by the agent.
func DefaultConfig() Config {
	return Config{
		Device:      DeviceConfig{SampleRate: 44100, Channels: 1},
		Analyzer:    DefaultAnalyzerConfig(),
		MaxDuration: 60 * time.Second,
		EventBuffer: 256,
	}
}

// Engine owns the microphone device and the recording lifecycle:
// Idle -> Acquiring -> Recording -> Stopping -> Idle. Every recording is
// issued a monotonically increasing session token; asynchronous callbacks
// (device data, timers, finalize) are validated against the current token
// and dropped when stale. The device handle is released on every exit path.
type Engine struct {
	cfg    Config
	source DeviceSource
	logger zerolog.Logger

	ctx       context.Context
	cancelCtx context.CancelFunc
	events    chan Event

	mu              sync.Mutex
	state           State
	token           uint64
	startPending    bool
	cancelRequested bool
	device          Device
	analyzer        *Analyzer
	pcm             bytes.Buffer
	startedAt       time.Time
	maxTimer        *time.Timer

	now func() time.Time
}

// NewEngine creates a capture engine backed by the given device source.
func NewEngine(ctx context.Context, source DeviceSource, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Device.SampleRate == 0 {
		cfg.Device = DefaultConfig().Device
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultConfig().MaxDuration
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	eCtx, eCancel := context.WithCancel(ctx)
	return &Engine{
		cfg:       cfg,
		source:    source,
		logger:    logger.With().Str("component", "capture").Logger(),
		ctx:       eCtx,
		cancelCtx: eCancel,
		events:    make(chan Event, cfg.EventBuffer),
		state:     StateIdle,
		now:       time.Now,
	}
}

// Events returns the engine's outbound event stream. Consume it from a single
// goroutine so delivery order is preserved.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start begins a new recording. Valid only from Idle: a second Start while
// acquiring, recording, or stopping returns ErrInvalidState without side
// effects, so a double key-press never acquires two devices.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle || e.startPending {
		e.mu.Unlock()
		e.logger.Debug().Msg("start ignored: engine not idle")
		return ErrInvalidState
	}
	e.startPending = true
	e.cancelRequested = false
	e.token++
	tag := e.token
	e.state = StateAcquiring
	e.mu.Unlock()

	e.emit(Event{Type: EventState, Token: tag, State: StateAcquiring})

	dev, err := e.source.Acquire(ctx, e.cfg.Device, func(pcm []byte) {
		e.push(tag, pcm)
	})

	e.mu.Lock()
	e.startPending = false
	if err != nil {
		e.state = StateIdle
		e.mu.Unlock()
		e.logger.Warn().Err(err).Msg("device acquisition failed")
		e.emit(Event{Type: EventError, Token: tag, Err: err})
		e.emit(Event{Type: EventState, Token: tag, State: StateIdle})
		return err
	}
	if e.cancelRequested || tag != e.token {
		// Cancelled while acquiring; the token was already invalidated.
		e.state = StateIdle
		e.mu.Unlock()
		dev.Close()
		e.emit(Event{Type: EventState, Token: tag, State: StateIdle})
		return nil
	}

	e.device = dev
	e.pcm.Reset()
	e.startedAt = e.now()
	if e.cfg.DisableVAD {
		e.analyzer = nil
	} else {
		e.analyzer = NewAnalyzer(e.cfg.Analyzer)
		e.analyzer.Begin(e.startedAt)
	}
	e.state = StateRecording
	e.maxTimer = time.AfterFunc(e.cfg.MaxDuration, func() {
		e.logger.Info().Uint64("token", tag).Msg("max recording length reached")
		e.stop(tag)
	})
	e.mu.Unlock()

	observability.RecordingStarted()
	e.logger.Info().Uint64("token", tag).Msg("recording started")
	e.emit(Event{Type: EventState, Token: tag, State: StateRecording})
	return nil
}

// Stop finalizes the current recording and delivers the utterance. Calling
// Stop when not recording is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	tag := e.token
	e.mu.Unlock()
	e.stop(tag)
}

// Cancel discards any buffered audio, releases the device immediately, and
// invalidates the session token so in-flight callbacks tied to this
// recording are dropped. No utterance is delivered.
func (e *Engine) Cancel() {
	e.mu.Lock()
	switch e.state {
	case StateAcquiring:
		e.cancelRequested = true
		e.token++
		e.mu.Unlock()
		e.logger.Info().Msg("recording cancelled while acquiring")
	case StateRecording:
		old := e.token
		e.token++
		dev := e.device
		e.device = nil
		if e.maxTimer != nil {
			e.maxTimer.Stop()
			e.maxTimer = nil
		}
		e.pcm.Reset()
		e.state = StateIdle
		e.mu.Unlock()
		if dev != nil {
			dev.Close()
		}
		observability.RecordingFinished("cancelled")
		e.logger.Info().Uint64("token", old).Msg("recording cancelled")
		e.emit(Event{Type: EventState, Token: old, State: StateIdle})
	default:
		e.mu.Unlock()
	}
}

// Close cancels any active recording and releases engine resources. The
// events channel stays open; consumers should stop via their own context.
func (e *Engine) Close() {
	e.Cancel()
	e.cancelCtx()
}

// push ingests one PCM frame from the device callback. Frames tagged with a
// stale token are dropped: the device may deliver a few frames after Cancel
// before the handle is fully torn down.
func (e *Engine) push(tag uint64, pcm []byte) {
	e.mu.Lock()
	if e.state != StateRecording || tag != e.token {
		e.mu.Unlock()
		return
	}
	e.pcm.Write(pcm)
	hasVAD := e.analyzer != nil
	var level float64
	silence := false
	if hasVAD {
		level, silence = e.analyzer.Process(pcm, e.now())
	}
	e.mu.Unlock()

	if !hasVAD {
		return
	}
	e.emitLevel(Event{Type: EventLevel, Token: tag, Level: level})
	if silence {
		e.logger.Info().Uint64("token", tag).Msg("sustained silence detected")
		e.emit(Event{Type: EventSilence, Token: tag})
		// Stop on a separate goroutine: closing the device from inside its
		// own data callback deadlocks on some backends.
		go e.stop(tag)
	}
}

func (e *Engine) stop(tag uint64) {
	e.mu.Lock()
	if e.state != StateRecording || tag != e.token {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	dev := e.device
	e.device = nil
	if e.maxTimer != nil {
		e.maxTimer.Stop()
		e.maxTimer = nil
	}
	pcm := make([]byte, e.pcm.Len())
	copy(pcm, e.pcm.Bytes())
	e.pcm.Reset()
	startedAt := e.startedAt
	e.mu.Unlock()

	e.emit(Event{Type: EventState, Token: tag, State: StateStopping})

	if dev != nil {
		dev.Close()
	}

	dur := audio.PCMDuration(pcm, e.cfg.Device.SampleRate, e.cfg.Device.Channels)

	e.mu.Lock()
	current := tag == e.token
	if e.state == StateStopping {
		e.state = StateIdle
	}
	e.mu.Unlock()

	e.emit(Event{Type: EventState, Token: tag, State: StateIdle})

	if !current {
		// A cancel raced the finalize; the utterance is stale.
		observability.RecordingFinished("superseded")
		e.logger.Debug().Uint64("token", tag).Msg("stale utterance discarded")
		return
	}
	if len(pcm) == 0 || dur <= 0 {
		observability.RecordingFinished("empty")
		e.logger.Debug().Uint64("token", tag).Msg("empty recording discarded")
		return
	}

	observability.RecordingFinished("completed")
	e.logger.Info().Uint64("token", tag).Dur("duration", dur).Msg("recording finalized")
	e.emit(Event{
		Type:  EventUtterance,
		Token: tag,
		Utterance: &Utterance{
			Token:      tag,
			WAV:        audio.NewWavBuffer(pcm, e.cfg.Device.SampleRate, e.cfg.Device.Channels),
			Duration:   dur,
			RecordedAt: startedAt,
		},
	})
}

// emit delivers control events, blocking until the consumer keeps up or the
// engine shuts down.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

// emitLevel delivers meter ticks. They are disposable, so a slow consumer
// drops them instead of stalling the device callback.
func (e *Engine) emitLevel(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}
