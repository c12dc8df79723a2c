// Package rotator defines the capability contract shared by every motor
// driver that can position the two-axis antenna mount.
package rotator

import (
	"errors"
	"fmt"
)

// Driver moves the azimuth and elevation motors. Positions are absolute and
// expressed in motor steps.
//
// A Driver is owned by exactly one controller. Implementations must allow
// Stop to be called concurrently with any other method.
type Driver interface {
	// Connect acquires the transport. Calling Connect on a connected
	// driver returns an error wrapping ErrAlreadyConnected.
	Connect() error
	// Disconnect releases the transport. It is a no-op when disconnected.
	Disconnect() error
	// MoveToPosition issues an absolute move and returns once the command
	// has been accepted, without waiting for arrival.
	MoveToPosition(azimuthSteps, elevationSteps int64) error
	GetPosition() (azimuthSteps, elevationSteps int64, err error)
	Stop() error
	// IsMoving reports whether either axis is in motion.
	IsMoving() (bool, error)
}

var (
	// ErrCommunication is matched by every *CommunicationError.
	ErrCommunication    = errors.New("communication error")
	ErrNotConnected     = errors.New("driver not connected")
	ErrAlreadyConnected = errors.New("driver already connected")
)

// CommunicationError reports a transport, framing or protocol failure.
type CommunicationError struct {
	Op  string
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

func (e *CommunicationError) Is(target error) bool {
	return target == ErrCommunication
}

// CommError wraps err as a *CommunicationError for op. It returns nil when err
// is nil and leaves existing communication errors untouched.
func CommError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CommunicationError
	if errors.As(err, &ce) {
		return err
	}
	return &CommunicationError{Op: op, Err: err}
}
