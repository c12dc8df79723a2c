package antenna

import (
	"errors"
	"fmt"

	"github.com/w1xm/radiotelescope/rotator"
)

var (
	ErrValidation = errors.New("invalid value")
	ErrSafety     = errors.New("outside safety limits")
	ErrPosition   = errors.New("move failed")
	ErrAntenna    = errors.New("antenna error")

	ErrInErrorState   = errors.New("antenna is in error state; stop or initialize to recover")
	ErrNotInitialized = errors.New("antenna not initialized")
	ErrBusy           = errors.New("antenna is calibrating")
	ErrNoCalibration  = errors.New("no stored calibration")
	ErrNoStore        = errors.New("no calibration store configured")
)

// ValidationError reports a value outside the mechanical envelope.
type ValidationError struct {
	Axis     Axis
	Value    float64
	Min, Max float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %g outside [%g, %g]", e.Axis, e.Value, e.Min, e.Max)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SafetyError reports a target inside the mechanical envelope but outside
// the configured Limits.
type SafetyError struct {
	Axis     Axis
	Value    float64
	Min, Max float64
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("%s %g outside limits [%g, %g]", e.Axis, e.Value, e.Min, e.Max)
}

func (e *SafetyError) Is(target error) bool {
	return target == ErrSafety
}

// PositionError reports a move that passed validation but could not be
// started by the driver.
type PositionError struct {
	Target Position
	Err    error
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("moving to %v: %v", e.Target, e.Err)
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

func (e *PositionError) Is(target error) bool {
	return target == ErrPosition
}

// Error is the general antenna failure, used for lifecycle errors and
// rejected commands.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("antenna %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrAntenna
}

// PersistError reports that a calibration was applied in memory but could
// not be written to the store.
type PersistError struct {
	Instance string
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("calibration applied but not persisted for %q: %v", e.Instance, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Kind classifies err for clients: one of validation, safety, position,
// antenna, communication or internal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrSafety):
		return "safety"
	case errors.Is(err, ErrPosition):
		return "position"
	case errors.Is(err, ErrAntenna):
		return "antenna"
	case errors.Is(err, rotator.ErrCommunication):
		return "communication"
	}
	return "internal"
}
