package ephemeris

import "math"

// equhor converts between azimuth/altitude and hour-angle/declination.
// Phi is the observer's latitude
// Arguments are in radians
// Algorithm from https://metacpan.org/dist/Astro-Montenbruck/source/lib/Astro/Montenbruck/CoCo.pm
func equhor_rad(x, y, phi float64) (float64, float64) {
	sx, sy, sphi := math.Sin(x), math.Sin(y), math.Sin(phi)
	cx, cy, cphi := math.Cos(x), math.Cos(y), math.Cos(phi)

	sq := (sy * sphi) + (cy * cphi * cx)
	q := math.Asin(sq)

	cp := (sy - (sphi * sq)) / (cphi * math.Cos(q))
	// Rounding can push cp just outside [-1, 1] near the meridian.
	p := math.Acos(math.Max(-1, math.Min(1, cp)))
	if sx > 0 {
		p = 2*math.Pi - p
	}
	return p, q
}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

// equhor_deg is equhor_rad in degrees: hour angle and declination in,
// azimuth (from north, through east) and altitude out.
func equhor_deg(x, y, phi float64) (float64, float64) {
	x, y, phi = deg2rad(x), deg2rad(y), deg2rad(phi)
	p, q := equhor_rad(x, y, phi)
	return rad2deg(p), rad2deg(q)
}

func wrap360(angle float64) float64 {
	angle = math.Mod(angle, 360)
	if angle < 0 {
		angle += 360
	}
	return angle
}

// hourAngle returns the local hour angle of ra in degrees, given Greenwich
// mean sidereal time in radians.
func hourAngle(gmst, longitude, ra float64) float64 {
	return wrap360(rad2deg(gmst) + longitude - ra)
}
