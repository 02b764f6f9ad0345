package flightsim

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats/scalar"
)

const (
	eccentricityε = 5e-5                         // 0.00005
	angleε        = (5e-3 / 360) * (2 * math.Pi) // 0.005 degrees
)

// Orbit defines a two body orbit via its orbital elements, relative to a
// body of gravitational parameter μ.
type Orbit struct {
	a, e, i, Ω, ω, ν float64
	μ                float64
}

// Energyξ returns the specific mechanical energy ξ.
func (o Orbit) Energyξ() float64 {
	return -o.μ / (2 * o.a)
}

// SemiParameter returns the semi parameter p.
func (o Orbit) SemiParameter() float64 {
	return o.a * (1 - o.e*o.e)
}

// Apoapsis returns the apoapsis.
func (o Orbit) Apoapsis() float64 {
	return o.a * (1 + o.e)
}

// Periapsis returns the periapsis.
func (o Orbit) Periapsis() float64 {
	return o.a * (1 - o.e)
}

// Period returns the period of this orbit, zero if it is open.
func (o Orbit) Period() time.Duration {
	if o.a <= 0 {
		return 0
	}
	seconds := 2 * math.Pi * math.Sqrt(math.Pow(o.a, 3)/o.μ)
	return time.Duration(seconds * float64(time.Second))
}

// RV returns the radius and velocity vectors in the inertial frame of the
// central body.
func (o Orbit) RV() (R, V Vec3) {
	p := o.SemiParameter()
	// Support special orbits.
	ν := o.ν
	ω := o.ω
	Ω := o.Ω
	if o.e < eccentricityε {
		ω = 0
		if o.i < angleε {
			// Circular equatorial
			Ω = 0
			ν = math.Mod(o.ω+o.Ω+o.ν, 2*math.Pi)
		} else {
			// Circular inclined
			ν = math.Mod(o.ν+o.ω, 2*math.Pi)
		}
	} else if o.i < angleε {
		Ω = 0
		ω = math.Mod(o.ω+o.Ω, 2*math.Pi)
	}
	sinν, cosν := math.Sincos(ν)
	R = PQW2Inertial(o.i, ω, Ω, Vec3{p * cosν / (1 + o.e*cosν), p * sinν / (1 + o.e*cosν), 0})
	V = PQW2Inertial(o.i, ω, Ω, Vec3{-math.Sqrt(o.μ/p) * sinν, math.Sqrt(o.μ/p) * (o.e + cosν), 0})
	return R, V
}

// Elements returns a, e, i, Ω, ω, ν with angles in radians.
func (o Orbit) Elements() (a, e, i, Ω, ω, ν float64) {
	return o.a, o.e, o.i, o.Ω, o.ω, o.ν
}

func (o Orbit) String() string {
	a, e, i, Ω, ω, ν := o.Elements()
	return fmt.Sprintf("a=%.1f e=%.4f i=%.3f Ω=%.3f ω=%.3f ν=%.3f", a, e, Rad2deg(i), Rad2deg(Ω), Rad2deg(ω), Rad2deg(ν))
}

// NewOrbitFromOE creates an orbit from the orbital elements.
// Angles must be in degrees not radian.
func NewOrbitFromOE(a, e, i, Ω, ω, ν, μ float64) *Orbit {
	return &Orbit{a, e, Deg2rad(i), Deg2rad(Ω), Deg2rad(ω), Deg2rad(ν), μ}
}

// NewOrbitFromRV returns orbital elements from the R and V vectors.
func NewOrbitFromRV(R, V Vec3, μ float64) *Orbit {
	// From Vallado's RV2COE, page 113
	hVec := cross(R, V)
	n := cross(Vec3{0, 0, 1}, hVec)
	v := norm(V)
	r := norm(R)
	ξ := (v*v)/2 - μ/r
	a := -μ / (2 * ξ)
	var eVec Vec3
	for i := 0; i < 3; i++ {
		eVec[i] = ((v*v-μ/r)*R[i] - dot(R, V)*V[i]) / μ
	}
	e := norm(eVec)
	i := math.Acos(hVec[2] / norm(hVec))
	ω := math.Acos(dot(n, eVec) / (norm(n) * e))
	if math.IsNaN(ω) {
		ω = 0
	}
	if eVec[2] < 0 {
		ω = 2*math.Pi - ω
	}
	Ω := math.Acos(n[0] / norm(n))
	if math.IsNaN(Ω) {
		Ω = 0
	}
	if n[1] < 0 {
		Ω = 2*math.Pi - Ω
	}
	cosν := dot(eVec, R) / (e * r)
	if abscosν := math.Abs(cosν); abscosν > 1 && scalar.EqualWithinAbs(abscosν, 1, 1e-12) {
		cosν = sign(cosν)
	}
	ν := math.Acos(cosν)
	if math.IsNaN(ν) {
		ν = 0
	}
	if dot(R, V) < 0 {
		ν = 2*math.Pi - ν
	}
	// Fix rounding errors.
	i = math.Mod(i, 2*math.Pi)
	Ω = math.Mod(Ω, 2*math.Pi)
	ω = math.Mod(ω, 2*math.Pi)
	ν = math.Mod(ν, 2*math.Pi)
	return &Orbit{a, e, i, Ω, ω, ν, μ}
}

// SpecificEnergy returns v²/2 - μ/r.
func SpecificEnergy(R, V Vec3, μ float64) float64 {
	v := norm(V)
	return v*v/2 - μ/norm(R)
}

// CircularVelocity returns the speed of a circular orbit of radius r.
func CircularVelocity(r, μ float64) float64 {
	return math.Sqrt(μ / r)
}
