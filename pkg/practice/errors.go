package practice

import "errors"

var (
	// ErrRemoteCall wraps any network or protocol failure from the backend.
	// The session keeps its last valid state so the user can retry.
	ErrRemoteCall = errors.New("remote practice call failed")

	// ErrPipelineBusy is returned when an utterance arrives while another
	// answer pipeline is still in flight; the new utterance is dropped.
	ErrPipelineBusy = errors.New("answer pipeline already in flight")

	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("no active practice session")

	// ErrInvalidState is returned when the session state machine does not
	// accept the requested operation.
	ErrInvalidState = errors.New("operation not valid in current session state")

	// ErrRequestInFlight guards explicit user actions (next, score) against
	// re-entrancy while their remote call is outstanding.
	ErrRequestInFlight = errors.New("request already in flight")
)
