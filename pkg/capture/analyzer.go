package capture

import (
	"math"
	"time"
)

const (
	// MinLevelDB is the floor of the reported loudness range.
	MinLevelDB = -100.0
	// MaxLevelDB is the ceiling of the reported loudness range.
	MaxLevelDB = 0.0

	levelEpsilon = 1e-9
)

// AnalyzerConfig tunes the level meter and silence detector.
type AnalyzerConfig struct {
	// ThresholdDB is the loudness below which a tick counts as silence.
	ThresholdDB float64
	// SilenceAfter is how long loudness must stay below ThresholdDB before
	// the sustained-silence signal fires.
	SilenceAfter time.Duration
	// Grace is the leading window after Begin during which silence is never
	// counted, so a recording is not aborted on leading breath or room noise.
	Grace time.Duration
	// Smoothing is the weight of the previous level in the exponential
	// moving average, in [0, 1).
	Smoothing float64
}

// DefaultAnalyzerConfig returns the tuning used by the agent.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		ThresholdDB:  -45,
		SilenceAfter: 1200 * time.Millisecond,
		Grace:        250 * time.Millisecond,
		Smoothing:    0.6,
	}
}

// Analyzer computes a smoothed loudness level in dB from 16-bit PCM windows
// and signals sustained silence exactly once per recording. Callers supply
// explicit timestamps, which keeps the detector deterministic under test.
//
// The Analyzer is not safe for concurrent use; the Engine serializes access.
type Analyzer struct {
	cfg       AnalyzerConfig
	startedAt time.Time
	silenceAt time.Time // zero while loudness is above threshold
	fired     bool
	level     float64
	primed    bool
}

// NewAnalyzer creates a silence detector with the given tuning.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	if cfg.ThresholdDB == 0 {
		cfg.ThresholdDB = DefaultAnalyzerConfig().ThresholdDB
	}
	if cfg.SilenceAfter <= 0 {
		cfg.SilenceAfter = DefaultAnalyzerConfig().SilenceAfter
	}
	return &Analyzer{cfg: cfg, level: MinLevelDB}
}

// Begin marks the start of a recording. The grace window is anchored here and
// all one-shot state is reset.
func (a *Analyzer) Begin(now time.Time) {
	a.startedAt = now
	a.silenceAt = time.Time{}
	a.fired = false
	a.level = MinLevelDB
	a.primed = false
}

// Process analyzes one window of 16-bit little-endian PCM. It returns the
// smoothed loudness in dB, clamped to [-100, 0], and whether sustained
// silence was detected on this tick. The silence signal fires at most once
// between calls to Begin.
func (a *Analyzer) Process(window []byte, now time.Time) (levelDB float64, silenceSustained bool) {
	db := 20 * math.Log10(rms(window)+levelEpsilon)
	if db < MinLevelDB {
		db = MinLevelDB
	} else if db > MaxLevelDB {
		db = MaxLevelDB
	}

	if !a.primed {
		a.level = db
		a.primed = true
	} else {
		a.level = a.cfg.Smoothing*a.level + (1-a.cfg.Smoothing)*db
	}

	if a.level >= a.cfg.ThresholdDB {
		a.silenceAt = time.Time{}
		return a.level, false
	}

	// Leading silence inside the grace window never counts.
	if now.Sub(a.startedAt) < a.cfg.Grace {
		return a.level, false
	}

	if a.silenceAt.IsZero() {
		a.silenceAt = now
		return a.level, false
	}

	if !a.fired && now.Sub(a.silenceAt) >= a.cfg.SilenceAfter {
		a.fired = true
		return a.level, true
	}
	return a.level, false
}

// Level returns the last smoothed loudness value.
func (a *Analyzer) Level() float64 {
	return a.level
}

// rms computes the root mean square of a 16-bit little-endian PCM window,
// normalized to [0, 1].
func rms(window []byte) float64 {
	if len(window) < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < len(window)-1; i += 2 {
		sample := int16(window[i]) | (int16(window[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(window)/2))
}
