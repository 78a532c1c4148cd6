package peer

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by transitions on a closed session
	ErrClosed = errors.New("session closed")

	// ErrInvalidTransition is returned when a transition is attempted
	// from the wrong state
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrNotReady is returned when a remote candidate is applied before
	// the remote description is set
	ErrNotReady = errors.New("remote description not set")
)

// NegotiationError reports a failed negotiation step for one viewer.
type NegotiationError struct {
	Viewer string
	Step   string
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed for %s at %s: %v", e.Viewer, e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
