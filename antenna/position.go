package antenna

import (
	"fmt"
	"math"
)

type Axis string

const (
	Azimuth   Axis = "azimuth"
	Elevation Axis = "elevation"
)

// Mechanical envelope of the mount, independent of configured Limits.
const (
	MinAzimuth   = 0
	MaxAzimuth   = 360
	MinElevation = 0
	MaxElevation = 90
)

// Position is a pointing direction in degrees.
type Position struct {
	Azimuth   float64
	Elevation float64
}

// NewPosition returns a Position, or a *ValidationError if either angle is
// outside the mechanical envelope.
func NewPosition(azimuth, elevation float64) (Position, error) {
	p := Position{Azimuth: azimuth, Elevation: elevation}
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	return p, nil
}

func (p Position) Validate() error {
	if !inRange(p.Azimuth, MinAzimuth, MaxAzimuth) {
		return &ValidationError{Axis: Azimuth, Value: p.Azimuth, Min: MinAzimuth, Max: MaxAzimuth}
	}
	if !inRange(p.Elevation, MinElevation, MaxElevation) {
		return &ValidationError{Axis: Elevation, Value: p.Elevation, Min: MinElevation, Max: MaxElevation}
	}
	return nil
}

// inRange is false for NaN.
func inRange(v, min, max float64) bool {
	return v >= min && v <= max
}

func (p Position) String() string {
	return fmt.Sprintf("az %.3f° el %.3f°", p.Azimuth, p.Elevation)
}

// wrapAzimuth normalizes an angle into [0, 360).
func wrapAzimuth(angle float64) float64 {
	angle = math.Mod(angle, 360)
	if angle < 0 {
		angle += 360
	}
	if angle >= 360 {
		angle -= 360
	}
	return angle
}

func clampElevation(angle float64) float64 {
	return math.Max(MinElevation, math.Min(MaxElevation, angle))
}
