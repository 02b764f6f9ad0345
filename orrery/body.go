package orrery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownBody is returned when a body name or id cannot be resolved.
var ErrUnknownBody = errors.New("unknown body")

// BodyID is a NAIF integer body identifier. Spacecraft use negative ids.
type BodyID int

// Root is the solar system barycenter, the root of every dependency tree.
const Root BodyID = 0

// Class is the classification derived from a BodyID's numeric range.
type Class uint8

const (
	// Unknown ids are valid but outside the ranges below.
	Unknown Class = iota
	// Barycenter is a massless reference point (ids 0 to 9).
	Barycenter
	// Ship is a spacecraft (negative ids).
	Ship
	// Star is the Sun (id 10).
	Star
	// Planet ids end in 99 (199 to 999).
	Planet
	// Satellite ids are natural satellites (101 to 998, not ending in 99).
	Satellite
	// Comet ids are 1000001 to 1999999.
	Comet
	// Asteroid ids start at 2000001.
	Asteroid
)

func (c Class) String() string {
	switch c {
	case Barycenter:
		return "barycenter"
	case Ship:
		return "ship"
	case Star:
		return "star"
	case Planet:
		return "planet"
	case Satellite:
		return "satellite"
	case Comet:
		return "comet"
	case Asteroid:
		return "asteroid"
	}
	return "unknown"
}

// Class returns the classification of id.
func (id BodyID) Class() Class {
	switch {
	case id < 0:
		return Ship
	case id <= 9:
		return Barycenter
	case id == 10:
		return Star
	case id > 100 && id < 1000:
		if id%100 == 99 {
			return Planet
		}
		return Satellite
	case id > 1000000 && id < 2000000:
		return Comet
	case id > 2000000:
		return Asteroid
	}
	return Unknown
}

// IsBarycenter is a shortcut for Class() == Barycenter.
func (id BodyID) IsBarycenter() bool {
	return id.Class() == Barycenter
}

func (id BodyID) String() string {
	if b, ok := catalog[id]; ok {
		return b.Name
	}
	return fmt.Sprintf("%s %d", id.Class(), int(id))
}

// Body holds the static constants of a body.
type Body struct {
	Name   string
	GM     float64 // km^3/s^2
	Radius float64 // km
}

// Info returns the constants of id. Bodies absent from the catalog have a
// generated name and zero GM and radius.
func Info(id BodyID) Body {
	if b, ok := catalog[id]; ok {
		return b
	}
	return Body{Name: id.String()}
}

// Resolve converts a body name (case insensitive) or a NAIF id to a BodyID.
func Resolve(name string) (BodyID, error) {
	name = strings.TrimSpace(name)
	if n, err := strconv.Atoi(name); err == nil {
		return BodyID(n), nil
	}
	if id, ok := byName[strings.ToLower(name)]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBody, name)
}

var byName map[string]BodyID

func init() {
	byName = make(map[string]BodyID, len(catalog))
	for id, b := range catalog {
		byName[strings.ToLower(b.Name)] = id
	}
}

/* Definitions (GM and mean radius from the DE440 constants). */

var catalog = map[BodyID]Body{
	0:   {"Solar System Barycenter", 0, 0},
	1:   {"Mercury Barycenter", 0, 0},
	2:   {"Venus Barycenter", 0, 0},
	3:   {"Earth-Moon Barycenter", 0, 0},
	4:   {"Mars Barycenter", 0, 0},
	5:   {"Jupiter Barycenter", 0, 0},
	6:   {"Saturn Barycenter", 0, 0},
	7:   {"Uranus Barycenter", 0, 0},
	8:   {"Neptune Barycenter", 0, 0},
	9:   {"Pluto Barycenter", 0, 0},
	10:  {"Sun", 1.32712440041279419e11, 695700},
	199: {"Mercury", 22031.868551, 2439.4},
	299: {"Venus", 324858.592, 6051.8},
	399: {"Earth", 398600.435507, 6378.1366},
	301: {"Moon", 4902.800118, 1737.4},
	499: {"Mars", 42828.375214, 3396.19},
	401: {"Phobos", 7.087546e-4, 11.08},
	402: {"Deimos", 9.615569e-5, 6.2},
	599: {"Jupiter", 126686531.9, 71492},
	501: {"Io", 5959.9155, 1821.49},
	502: {"Europa", 3202.7121, 1560.8},
	503: {"Ganymede", 9887.8328, 2631.2},
	504: {"Callisto", 7179.2834, 2410.3},
	699: {"Saturn", 37931206.234, 60268},
	606: {"Titan", 8978.1382, 2574.7},
	799: {"Uranus", 5793951.3, 25559},
	899: {"Neptune", 6835099.97, 24764},
	801: {"Triton", 1428.495, 1352.6},
	999: {"Pluto", 869.6138, 1188.3},
	901: {"Charon", 105.88, 606},
}
