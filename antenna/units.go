package antenna

import (
	"fmt"
	"math"
)

// MotorConfig describes the drive train of both axes.
type MotorConfig struct {
	StepsPerRevolution int
	Microsteps         int
	GearRatioAzimuth   float64
	GearRatioElevation float64
}

func DefaultMotorConfig() MotorConfig {
	return MotorConfig{
		StepsPerRevolution: 200,
		Microsteps:         16,
		GearRatioAzimuth:   100,
		GearRatioElevation: 80,
	}
}

func (m MotorConfig) Validate() error {
	switch {
	case m.StepsPerRevolution <= 0:
		return fmt.Errorf("%w: steps per revolution %d must be positive", ErrValidation, m.StepsPerRevolution)
	case m.Microsteps <= 0:
		return fmt.Errorf("%w: microsteps %d must be positive", ErrValidation, m.Microsteps)
	case !(m.GearRatioAzimuth > 0):
		return fmt.Errorf("%w: azimuth gear ratio %g must be positive", ErrValidation, m.GearRatioAzimuth)
	case !(m.GearRatioElevation > 0):
		return fmt.Errorf("%w: elevation gear ratio %g must be positive", ErrValidation, m.GearRatioElevation)
	}
	return nil
}

func (m MotorConfig) StepsPerDegree(axis Axis) float64 {
	ratio := m.GearRatioAzimuth
	if axis == Elevation {
		ratio = m.GearRatioElevation
	}
	return float64(m.StepsPerRevolution) * float64(m.Microsteps) * ratio / 360
}

// DegreesToSteps rounds to the nearest step.
func (m MotorConfig) DegreesToSteps(axis Axis, degrees float64) int64 {
	return int64(math.Round(degrees * m.StepsPerDegree(axis)))
}

func (m MotorConfig) StepsToDegrees(axis Axis, steps int64) float64 {
	return float64(steps) / m.StepsPerDegree(axis)
}

// Resolution is the angle of one step on axis.
func (m MotorConfig) Resolution(axis Axis) float64 {
	return 1 / m.StepsPerDegree(axis)
}

func (m MotorConfig) toSteps(p Position) (int64, int64) {
	return m.DegreesToSteps(Azimuth, p.Azimuth), m.DegreesToSteps(Elevation, p.Elevation)
}

func (m MotorConfig) toPosition(azimuthSteps, elevationSteps int64) Position {
	return Position{
		Azimuth:   m.StepsToDegrees(Azimuth, azimuthSteps),
		Elevation: m.StepsToDegrees(Elevation, elevationSteps),
	}
}
