package capture

import (
	"testing"
	"time"
)

// pcmWindow builds a window of constant-amplitude 16-bit LE samples.
func pcmWindow(amplitude int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		buf[i*2] = byte(uint16(amplitude) & 0xff)
		buf[i*2+1] = byte(uint16(amplitude) >> 8)
	}
	return buf
}

func quietWindow(samples int) []byte {
	return make([]byte, samples*2)
}

func TestAnalyzerLevelClamping(t *testing.T) {
	a := NewAnalyzer(DefaultAnalyzerConfig())
	t0 := time.Unix(0, 0)
	a.Begin(t0)

	level, _ := a.Process(quietWindow(1024), t0)
	if level != MinLevelDB {
		t.Errorf("expected silence to clamp to %v dB, got %v", MinLevelDB, level)
	}

	a.Begin(t0)
	level, _ = a.Process(pcmWindow(32767, 1024), t0)
	if level > MaxLevelDB || level < -1 {
		t.Errorf("expected full-scale level near 0 dB, got %v", level)
	}
}

func TestAnalyzerGracePeriod(t *testing.T) {
	cfg := DefaultAnalyzerConfig()
	cfg.Grace = 250 * time.Millisecond
	cfg.SilenceAfter = 100 * time.Millisecond
	a := NewAnalyzer(cfg)

	t0 := time.Unix(0, 0)
	a.Begin(t0)

	// Quiet ticks every 50ms. Even though SilenceAfter is only 100ms, nothing
	// may fire until the grace window has elapsed.
	for ms := 0; ms <= 200; ms += 50 {
		if _, fired := a.Process(quietWindow(1024), t0.Add(time.Duration(ms)*time.Millisecond)); fired {
			t.Fatalf("silence fired at %dms, inside the grace window", ms)
		}
	}

	// First counted silence tick at 250ms; must fire once 100ms later.
	if _, fired := a.Process(quietWindow(1024), t0.Add(250*time.Millisecond)); fired {
		t.Fatal("silence fired on the tick that starts the timer")
	}
	if _, fired := a.Process(quietWindow(1024), t0.Add(350*time.Millisecond)); !fired {
		t.Fatal("expected silence to fire 100ms after the timer started")
	}
}

func TestAnalyzerFiresOnce(t *testing.T) {
	cfg := DefaultAnalyzerConfig()
	cfg.Grace = 0
	cfg.SilenceAfter = 100 * time.Millisecond
	a := NewAnalyzer(cfg)

	t0 := time.Unix(0, 0)
	a.Begin(t0)

	fires := 0
	for ms := 0; ms <= 1000; ms += 50 {
		if _, fired := a.Process(quietWindow(1024), t0.Add(time.Duration(ms)*time.Millisecond)); fired {
			fires++
		}
	}
	if fires != 1 {
		t.Errorf("expected exactly one silence signal, got %d", fires)
	}

	// Begin re-arms the one-shot.
	a.Begin(t0)
	if _, fired := a.Process(quietWindow(1024), t0.Add(200*time.Millisecond)); fired {
		t.Fatal("timer should restart after Begin")
	}
	if _, fired := a.Process(quietWindow(1024), t0.Add(400*time.Millisecond)); !fired {
		t.Error("expected silence to fire again after Begin")
	}
}

func TestAnalyzerLoudTickResetsTimer(t *testing.T) {
	cfg := DefaultAnalyzerConfig()
	cfg.Grace = 0
	cfg.SilenceAfter = 300 * time.Millisecond
	a := NewAnalyzer(cfg)

	t0 := time.Unix(0, 0)
	a.Begin(t0)

	a.Process(quietWindow(1024), t0)
	a.Process(quietWindow(1024), t0.Add(100*time.Millisecond))

	// Two full-scale ticks pull the smoothed level back above threshold.
	a.Process(pcmWindow(32767, 1024), t0.Add(150*time.Millisecond))
	level, _ := a.Process(pcmWindow(32767, 1024), t0.Add(200*time.Millisecond))
	if level < cfg.ThresholdDB {
		t.Fatalf("expected smoothed level above threshold after loud ticks, got %v", level)
	}

	// Silence resumes; the old timer must not carry over.
	if _, fired := a.Process(quietWindow(1024), t0.Add(300*time.Millisecond)); fired {
		t.Fatal("timer was not reset by the loud ticks")
	}
	if _, fired := a.Process(quietWindow(1024), t0.Add(450*time.Millisecond)); fired {
		t.Fatal("silence fired before the full duration elapsed")
	}
	if _, fired := a.Process(quietWindow(1024), t0.Add(650*time.Millisecond)); !fired {
		t.Error("expected silence to fire after a fresh full duration")
	}
}

func TestAnalyzerScenarioTiming(t *testing.T) {
	// 0.9s of speech at -20dB then silence below -45dB must fire ~1.2s after
	// silence onset with the default tuning.
	cfg := DefaultAnalyzerConfig()
	a := NewAnalyzer(cfg)

	t0 := time.Unix(0, 0)
	a.Begin(t0)

	// -20dB corresponds to amplitude ~3277.
	var firedAt time.Duration = -1
	for ms := 0; ms < 2500; ms += 100 {
		var window []byte
		if ms < 900 {
			window = pcmWindow(3277, 4410)
		} else {
			window = quietWindow(4410)
		}
		if _, fired := a.Process(window, t0.Add(time.Duration(ms)*time.Millisecond)); fired {
			firedAt = time.Duration(ms) * time.Millisecond
			break
		}
	}

	if firedAt < 0 {
		t.Fatal("silence never fired")
	}
	if firedAt < 2100*time.Millisecond || firedAt > 2200*time.Millisecond {
		t.Errorf("expected auto-stop around 2.1s, fired at %v", firedAt)
	}
}
