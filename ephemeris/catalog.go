package ephemeris

// source is a fixed J2000 position in degrees.
type source struct {
	ra, dec float64
}

// catalog holds bright radio sources and a few reference stars.
var catalog = map[string]source{
	"cas a":     {350.850, 58.815},
	"cyg a":     {299.868, 40.734},
	"tau a":     {83.633, 22.015},
	"vir a":     {187.706, 12.391},
	"sgr a*":    {266.417, -29.008},
	"orion a":   {83.822, -5.391},
	"polaris":   {37.955, 89.264},
	"vega":      {279.235, 38.784},
	"deneb":     {310.358, 45.280},
	"andromeda": {10.685, 41.269},
}
