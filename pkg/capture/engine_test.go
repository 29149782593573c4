package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeDevice struct {
	src    *fakeSource
	closed bool
	mu     sync.Mutex
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	alreadyClosed := d.closed
	d.closed = true
	d.mu.Unlock()
	if !alreadyClosed {
		d.src.deviceClosed()
	}
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	err      error
	acquired int
	open     int
	maxOpen  int
	onData   DataFunc
	block    chan struct{} // when non-nil, Acquire waits on it
}

func (s *fakeSource) Acquire(ctx context.Context, cfg DeviceConfig, onData DataFunc) (Device, error) {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.acquired++
	s.open++
	if s.open > s.maxOpen {
		s.maxOpen = s.open
	}
	s.onData = onData
	return &fakeDevice{src: s}, nil
}

func (s *fakeSource) deviceClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open--
}

func (s *fakeSource) feed(pcm []byte) {
	s.mu.Lock()
	onData := s.onData
	s.mu.Unlock()
	if onData != nil {
		onData(pcm)
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1700000000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, src *fakeSource, mutate func(*Config)) (*Engine, *testClock) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	eng := NewEngine(context.Background(), src, cfg, zerolog.Nop())
	clock := newTestClock()
	eng.now = clock.Now
	t.Cleanup(eng.Close)
	return eng, clock
}

// waitForEvent drains the event stream until an event of the wanted type
// arrives or the timeout expires. Returns nil on timeout.
func waitForEvent(events <-chan Event, want EventType, timeout time.Duration) *Event {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return &ev
			}
		case <-deadline:
			return nil
		}
	}
}

func TestStartStopDeliversUtterance(t *testing.T) {
	src := &fakeSource{}
	eng, clock := newTestEngine(t, src, nil)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if eng.State() != StateRecording {
		t.Fatalf("expected recording state, got %v", eng.State())
	}

	// 10 frames of 100ms of speech.
	for i := 0; i < 10; i++ {
		src.feed(pcmWindow(8000, 4410))
		clock.Advance(100 * time.Millisecond)
	}
	eng.Stop()

	ev := waitForEvent(eng.Events(), EventUtterance, time.Second)
	if ev == nil {
		t.Fatal("no utterance delivered")
	}
	if ev.Utterance.Duration != time.Second {
		t.Errorf("expected 1s utterance, got %v", ev.Utterance.Duration)
	}
	if ev.Utterance.Token != 1 {
		t.Errorf("expected token 1, got %d", ev.Utterance.Token)
	}
	if len(ev.Utterance.WAV) != 44+10*8820 {
		t.Errorf("unexpected WAV size %d", len(ev.Utterance.WAV))
	}
	if eng.State() != StateIdle {
		t.Errorf("expected idle state after stop, got %v", eng.State())
	}
}

func TestDoubleStartAcquiresOneDevice(t *testing.T) {
	src := &fakeSource{}
	eng, _ := newTestEngine(t, src, nil)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := eng.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState from second start, got %v", err)
	}

	src.mu.Lock()
	acquired := src.acquired
	src.mu.Unlock()
	if acquired != 1 {
		t.Errorf("expected exactly one device acquisition, got %d", acquired)
	}

	eng.mu.Lock()
	token := eng.token
	eng.mu.Unlock()
	if token != 1 {
		t.Errorf("expected exactly one session token issued, got %d", token)
	}
}

func TestStartWhileAcquiringIsRejected(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	eng, _ := newTestEngine(t, src, nil)

	started := make(chan error, 1)
	go func() { started <- eng.Start(context.Background()) }()

	// Wait until the first start is parked in Acquire.
	deadline := time.After(time.Second)
	for eng.State() != StateAcquiring {
		select {
		case <-deadline:
			t.Fatal("engine never reached acquiring state")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := eng.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState while acquiring, got %v", err)
	}

	close(src.block)
	if err := <-started; err != nil {
		t.Fatalf("first start failed: %v", err)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.acquired != 1 {
		t.Errorf("expected one acquisition, got %d", src.acquired)
	}
}

func TestCancelDropsUtterance(t *testing.T) {
	src := &fakeSource{}
	eng, clock := newTestEngine(t, src, nil)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	src.feed(pcmWindow(8000, 4410))
	clock.Advance(100 * time.Millisecond)

	eng.Cancel()
	eng.Stop() // idempotent no-op after cancel

	if ev := waitForEvent(eng.Events(), EventUtterance, 200*time.Millisecond); ev != nil {
		t.Fatal("utterance delivered after cancel")
	}
	if eng.State() != StateIdle {
		t.Errorf("expected idle state, got %v", eng.State())
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.open != 0 {
		t.Errorf("device still open after cancel")
	}
}

func TestCancelDuringAcquire(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	eng, _ := newTestEngine(t, src, nil)

	started := make(chan error, 1)
	go func() { started <- eng.Start(context.Background()) }()

	deadline := time.After(time.Second)
	for eng.State() != StateAcquiring {
		select {
		case <-deadline:
			t.Fatal("engine never reached acquiring state")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	eng.Cancel()
	close(src.block)
	if err := <-started; err != nil {
		t.Fatalf("cancelled start should not error, got %v", err)
	}

	if eng.State() != StateIdle {
		t.Errorf("expected idle after cancelled acquire, got %v", eng.State())
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.open != 0 {
		t.Error("device leaked by cancelled acquire")
	}
}

func TestAcquireFailureReturnsToIdle(t *testing.T) {
	src := &fakeSource{err: ErrDeviceUnavailable}
	eng, _ := newTestEngine(t, src, nil)

	err := eng.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if eng.State() != StateIdle {
		t.Errorf("expected idle after failed acquire, got %v", eng.State())
	}
	if ev := waitForEvent(eng.Events(), EventError, time.Second); ev == nil {
		t.Error("expected an error event")
	}

	// The engine must be usable again.
	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("restart after failure errored: %v", err)
	}
}

func TestEmptyRecordingDiscarded(t *testing.T) {
	src := &fakeSource{}
	eng, _ := newTestEngine(t, src, nil)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	eng.Stop()

	if ev := waitForEvent(eng.Events(), EventUtterance, 200*time.Millisecond); ev != nil {
		t.Fatal("empty utterance should not be delivered")
	}
	if eng.State() != StateIdle {
		t.Errorf("expected idle state, got %v", eng.State())
	}
}

func TestSilenceAutoStop(t *testing.T) {
	src := &fakeSource{}
	eng, clock := newTestEngine(t, src, nil)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// 0.9s of speech at roughly -20dB, then quiet frames. The silence timer
	// starts at 0.9s and must fire 1.2s later, so the utterance covers ~2.2s.
	for ms := 0; ms < 2200; ms += 100 {
		if ms < 900 {
			src.feed(pcmWindow(3277, 4410))
		} else {
			src.feed(quietWindow(4410))
		}
		clock.Advance(100 * time.Millisecond)
	}

	if ev := waitForEvent(eng.Events(), EventSilence, time.Second); ev == nil {
		t.Fatal("silence event never emitted")
	}
	ev := waitForEvent(eng.Events(), EventUtterance, time.Second)
	if ev == nil {
		t.Fatal("auto-stop never delivered an utterance")
	}
	if ev.Utterance.Duration != 2200*time.Millisecond {
		t.Errorf("expected 2.2s utterance, got %v", ev.Utterance.Duration)
	}
}

func TestVADDisabledStillRecords(t *testing.T) {
	src := &fakeSource{}
	eng, _ := newTestEngine(t, src, func(cfg *Config) {
		cfg.DisableVAD = true
	})

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	for i := 0; i < 5; i++ {
		src.feed(quietWindow(4410))
	}
	eng.Stop()

	ev := waitForEvent(eng.Events(), EventUtterance, time.Second)
	if ev == nil {
		t.Fatal("recording without VAD should still deliver an utterance")
	}
	if ev.Utterance.Duration != 500*time.Millisecond {
		t.Errorf("expected 0.5s utterance, got %v", ev.Utterance.Duration)
	}
}

func TestMaxDurationHardStop(t *testing.T) {
	src := &fakeSource{}
	eng, _ := newTestEngine(t, src, func(cfg *Config) {
		cfg.MaxDuration = 50 * time.Millisecond
		cfg.DisableVAD = true
	})

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	src.feed(pcmWindow(8000, 4410))

	// The hard stop finalizes and delivers, unlike cancel.
	ev := waitForEvent(eng.Events(), EventUtterance, time.Second)
	if ev == nil {
		t.Fatal("max-duration stop should deliver the utterance")
	}
	if eng.State() != StateIdle {
		t.Errorf("expected idle after hard stop, got %v", eng.State())
	}
}

func TestAtMostOneDeviceAcrossSequences(t *testing.T) {
	src := &fakeSource{}
	eng, _ := newTestEngine(t, src, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		eng.Start(ctx)
		eng.Start(ctx) // rejected
		src.feed(pcmWindow(8000, 4410))
		if i%2 == 0 {
			eng.Stop()
		} else {
			eng.Cancel()
		}
		eng.Stop()   // no-op
		eng.Cancel() // no-op
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.maxOpen > 1 {
		t.Errorf("more than one device open at once: %d", src.maxOpen)
	}
	if src.open != 0 {
		t.Errorf("devices leaked: %d still open", src.open)
	}
}

func TestStaleFramesDropped(t *testing.T) {
	src := &fakeSource{}
	eng, _ := newTestEngine(t, src, nil)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	src.mu.Lock()
	oldData := src.onData
	src.mu.Unlock()

	eng.Cancel()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("second start errored: %v", err)
	}

	// Frames from the cancelled device must not leak into the new recording.
	oldData(pcmWindow(8000, 4410))
	src.feed(pcmWindow(8000, 4410))
	eng.Stop()

	ev := waitForEvent(eng.Events(), EventUtterance, time.Second)
	if ev == nil {
		t.Fatal("no utterance delivered")
	}
	if ev.Utterance.Duration != 100*time.Millisecond {
		t.Errorf("stale frames were recorded: duration %v", ev.Utterance.Duration)
	}
	// Token 1 was the cancelled recording; cancel burns a token to invalidate
	// its callbacks, so the second recording runs under token 3.
	if ev.Utterance.Token != 3 {
		t.Errorf("expected token 3, got %d", ev.Utterance.Token)
	}
}
