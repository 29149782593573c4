package capture

import (
	"time"
)

// State is the recording lifecycle state of the Engine.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

type EventType string

const (
	// EventLevel carries the smoothed loudness in dB for UI metering
	EventLevel EventType = "LEVEL"
	// EventSilence is emitted once per recording when sustained silence is detected
	EventSilence EventType = "SILENCE"
	// EventState signals a lifecycle transition
	EventState EventType = "STATE"
	// EventUtterance carries a finalized recording
	EventUtterance EventType = "UTTERANCE"
	// EventError carries a capture-side failure
	EventError EventType = "ERROR"
)

// Event is the tagged variant emitted by the Engine. Every event carries the
// session token it was issued under so consumers can discard stale results.
type Event struct {
	Type      EventType
	Token     uint64
	Level     float64 // dB, EventLevel only
	State     State   // EventState only
	Utterance *Utterance
	Err       error
}

// Utterance is one finalized, encoded recording produced by a single capture
// cycle. Immutable once created.
type Utterance struct {
	Token      uint64
	WAV        []byte
	Duration   time.Duration
	RecordedAt time.Time
}

// Empty reports whether the utterance carries no speech. Empty utterances are
// never delivered to the answer pipeline.
func (u *Utterance) Empty() bool {
	return u == nil || len(u.WAV) == 0 || u.Duration <= 0
}
