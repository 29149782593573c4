package capture

import "errors"

// Capture-side error taxonomy. All of these abort the current attempt and
// return the engine to Idle; none is fatal to the process.
var (
	// ErrDeviceUnavailable is returned when no capture device can be acquired
	ErrDeviceUnavailable = errors.New("no capture device available")

	// ErrPermissionDenied is returned when the platform refuses microphone access
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrUnsupportedContext is returned when the audio backend cannot be
	// initialized in the current environment
	ErrUnsupportedContext = errors.New("audio backend unsupported in this context")

	// ErrInvalidState is returned when Start is called while the engine is
	// not idle; callers may treat it as a no-op
	ErrInvalidState = errors.New("capture engine is busy")
)
