package thread

import "errors"

var (
	// ErrThreadNotFound is returned when a referenced thread does not exist.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrInvalidTransition is returned for lifecycle moves the state
	// machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidDecision is returned when the model output fails schema or
	// coverage validation.
	ErrInvalidDecision = errors.New("invalid clustering decision")
)
