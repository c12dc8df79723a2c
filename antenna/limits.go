package antenna

import "fmt"

// Limits is the configured safety envelope. It may be tighter than the
// mechanical envelope of Position.
type Limits struct {
	MinAzimuth   float64
	MaxAzimuth   float64
	MinElevation float64
	MaxElevation float64
	// Speeds are in degrees/second.
	MaxAzimuthSpeed   float64
	MaxElevationSpeed float64
}

func DefaultLimits() Limits {
	return Limits{
		MinAzimuth:        MinAzimuth,
		MaxAzimuth:        MaxAzimuth,
		MinElevation:      MinElevation,
		MaxElevation:      MaxElevation,
		MaxAzimuthSpeed:   5,
		MaxElevationSpeed: 3,
	}
}

func (l Limits) Validate() error {
	if l.MinAzimuth > l.MaxAzimuth {
		return fmt.Errorf("%w: azimuth limits [%g, %g] are inverted", ErrValidation, l.MinAzimuth, l.MaxAzimuth)
	}
	if l.MinElevation > l.MaxElevation {
		return fmt.Errorf("%w: elevation limits [%g, %g] are inverted", ErrValidation, l.MinElevation, l.MaxElevation)
	}
	if l.MaxAzimuthSpeed < 0 || l.MaxElevationSpeed < 0 {
		return fmt.Errorf("%w: negative speed limit", ErrValidation)
	}
	return nil
}

// Check returns a *SafetyError naming the first axis of p outside l.
func (l Limits) Check(p Position) error {
	if !inRange(p.Azimuth, l.MinAzimuth, l.MaxAzimuth) {
		return &SafetyError{Axis: Azimuth, Value: p.Azimuth, Min: l.MinAzimuth, Max: l.MaxAzimuth}
	}
	if !inRange(p.Elevation, l.MinElevation, l.MaxElevation) {
		return &SafetyError{Axis: Elevation, Value: p.Elevation, Min: l.MinElevation, Max: l.MaxElevation}
	}
	return nil
}

// checkEnvelope applies the mechanical envelope to a raw target.
func checkEnvelope(raw Position) error {
	return Limits{
		MinAzimuth:   MinAzimuth,
		MaxAzimuth:   MaxAzimuth,
		MinElevation: MinElevation,
		MaxElevation: MaxElevation,
	}.Check(raw)
}
