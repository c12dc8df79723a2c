package antenna

// Calibration maps raw mechanical coordinates to referenced ones:
// referenced = raw + offset.
type Calibration struct {
	AzimuthOffset   float64 `json:"azimuth_offset"`
	ElevationOffset float64 `json:"elevation_offset"`
}

func (c Calibration) Apply(raw Position) Position {
	return Position{
		Azimuth:   raw.Azimuth + c.AzimuthOffset,
		Elevation: raw.Elevation + c.ElevationOffset,
	}
}

func (c Calibration) Reverse(referenced Position) Position {
	return Position{
		Azimuth:   referenced.Azimuth - c.AzimuthOffset,
		Elevation: referenced.Elevation - c.ElevationOffset,
	}
}

// referenced applies c and wraps azimuth into [0, 360).
func (c Calibration) referenced(raw Position) Position {
	p := c.Apply(raw)
	p.Azimuth = wrapAzimuth(p.Azimuth)
	return p
}

// raw reverses c and wraps azimuth into [0, 360).
func (c Calibration) raw(referenced Position) Position {
	p := c.Reverse(referenced)
	p.Azimuth = wrapAzimuth(p.Azimuth)
	return p
}

// ReferenceAzimuth returns a copy of c whose azimuth offset makes
// rawAzimuth read as zero.
func (c Calibration) ReferenceAzimuth(rawAzimuth float64) Calibration {
	c.AzimuthOffset = wrapAzimuth(-rawAzimuth)
	return c
}

// CalibrationStore persists calibrations keyed by controller instance.
type CalibrationStore interface {
	// Load returns ErrNoCalibration when nothing has been saved for
	// instance.
	Load(instance string) (Calibration, error)
	Save(instance string, c Calibration) error
}
