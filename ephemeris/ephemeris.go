// Package ephemeris resolves named sky objects to pointing directions for
// an observer on the ground.
package ephemeris

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/pebbe/novas"
	"github.com/w1xm/radiotelescope/antenna"
)

const kmPerAU = 149597870.7

var (
	ErrUnknownObject = errors.New("unknown object")
	ErrNotVisible    = errors.New("object is below the horizon")
)

type Observer struct {
	Name string
	// Latitude and Longitude are in degrees, east positive; Height is in
	// metres.
	Latitude  float64
	Longitude float64
	Height    float64
}

// Result describes where an object is. Angles are in degrees, Distance in
// km (zero when unknown).
type Result struct {
	Name           string
	Azimuth        float64
	Elevation      float64
	Distance       float64
	RightAscension float64
	Declination    float64
	Visible        bool
	Time           time.Time
}

// Position returns the antenna target for r, or ErrNotVisible.
func (r Result) Position() (antenna.Position, error) {
	if !r.Visible {
		return antenna.Position{}, fmt.Errorf("%s at elevation %.2f°: %w", r.Name, r.Elevation, ErrNotVisible)
	}
	return antenna.NewPosition(wrap360(r.Azimuth), r.Elevation)
}

type Calculator struct {
	observer   Observer
	place      *novas.Place
	satellites map[string]satellite.Satellite
	// Now is the clock used by Lookup.
	Now func() time.Time
}

// New returns a calculator for obs. tles maps satellite names to their two
// element lines.
func New(obs Observer, tles map[string][]string) (*Calculator, error) {
	c := &Calculator{
		observer:   obs,
		place:      novas.NewPlace(obs.Latitude, obs.Longitude, obs.Height, 10, 1010),
		satellites: make(map[string]satellite.Satellite),
		Now:        time.Now,
	}
	for name, lines := range tles {
		if len(lines) != 2 {
			return nil, fmt.Errorf("satellite %q: want 2 TLE lines, got %d", name, len(lines))
		}
		sat, err := parseTLE(lines[0], lines[1])
		if err != nil {
			return nil, fmt.Errorf("satellite %q: %w", name, err)
		}
		c.satellites[strings.ToLower(name)] = sat
	}
	return c, nil
}

func (c *Calculator) Observer() Observer {
	return c.observer
}

// Names lists every object Lookup understands.
func (c *Calculator) Names() []string {
	var names []string
	for name := range solarSystem {
		names = append(names, name)
	}
	for name := range catalog {
		names = append(names, name)
	}
	for name := range c.satellites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup computes the current position of the named object.
func (c *Calculator) Lookup(name string) (Result, error) {
	return c.LookupAt(name, c.Now())
}

// LookupAt computes the position of name at t. Sun and Moon are only
// available for the current time.
func (c *Calculator) LookupAt(name string, t time.Time) (Result, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	var r Result
	if body, ok := solarSystem[key]; ok {
		r = c.body(body())
		r.Time = c.Now()
	} else if s, ok := catalog[key]; ok {
		r = c.star(s, t)
		r.Time = t
	} else if sat, ok := c.satellites[key]; ok {
		r = c.orbit(sat, t)
		r.Time = t
	} else {
		return Result{}, fmt.Errorf("%q: %w", name, ErrUnknownObject)
	}
	r.Name = key
	r.Visible = r.Elevation > 0
	return r, nil
}

var solarSystem = map[string]func() *novas.Body{
	"sun":  novas.Sun,
	"moon": novas.Moon,
}

func (c *Calculator) body(b *novas.Body) Result {
	data := b.Topo(novas.Now(), c.place, novas.REFR_NORM)
	return Result{
		Azimuth:        data.Az,
		Elevation:      data.Alt,
		Distance:       data.Dis * kmPerAU,
		RightAscension: data.Ra * 15,
		Declination:    data.Dec,
	}
}

// julian splits t for go-satellite's calendar functions.
func julian(t time.Time) (year, month, day, hour, min, sec int) {
	t = t.UTC()
	y, m, d := t.Date()
	return y, int(m), d, t.Hour(), t.Minute(), t.Second()
}

func (c *Calculator) gmst(t time.Time) float64 {
	return satellite.ThetaG_JD(satellite.JDay(julian(t)))
}

func (c *Calculator) star(s source, t time.Time) Result {
	ha := hourAngle(c.gmst(t), c.observer.Longitude, s.ra)
	az, el := equhor_deg(ha, s.dec, c.observer.Latitude)
	return Result{
		Azimuth:        az,
		Elevation:      el,
		RightAscension: s.ra,
		Declination:    s.dec,
	}
}

func (c *Calculator) orbit(sat satellite.Satellite, t time.Time) Result {
	year, month, day, hour, min, sec := julian(t)
	pos, _ := satellite.Propagate(sat, year, month, day, hour, min, sec)
	obs := satellite.LatLong{
		Latitude:  deg2rad(c.observer.Latitude),
		Longitude: deg2rad(c.observer.Longitude),
	}
	look := satellite.ECIToLookAngles(pos, obs, c.observer.Height/1000, satellite.JDay(year, month, day, hour, min, sec))
	return Result{
		Azimuth:        rad2deg(look.Az),
		Elevation:      rad2deg(look.El),
		Distance:       look.Rg,
		RightAscension: wrap360(rad2deg(math.Atan2(pos.Y, pos.X))),
		Declination:    rad2deg(math.Atan2(pos.Z, math.Hypot(pos.X, pos.Y))),
	}
}
