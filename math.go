package flightsim

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

const (
	deg2rad = math.Pi / 180
)

// Vec3 is a Cartesian vector, in km, km/s or km/s^2 depending on context.
type Vec3 [3]float64

// norm returns the norm of a given vector.
func norm(v Vec3) float64 {
	return floats.Norm(v[:], 2)
}

// unit returns the unit vector of a given vector, or the zero vector.
func unit(a Vec3) Vec3 {
	n := norm(a)
	if scalar.EqualWithinAbs(n, 0, 1e-12) {
		return Vec3{}
	}
	return scale(1/n, a)
}

// sign returns the sign of a given number.
func sign(v float64) float64 {
	if scalar.EqualWithinAbs(v, 0, 1e-12) {
		return 1
	}
	return v / math.Abs(v)
}

// dot performs the inner product.
func dot(a, b Vec3) float64 {
	return floats.Dot(a[:], b[:])
}

// cross performs the cross product.
func cross(a, b Vec3) Vec3 {
	return Vec3{a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0]} // Cross product R x V.
}

func add(a, b Vec3) Vec3 {
	floats.Add(a[:], b[:])
	return a
}

func sub(a, b Vec3) Vec3 {
	floats.Sub(a[:], b[:])
	return a
}

func scale(s float64, a Vec3) Vec3 {
	floats.Scale(s, a[:])
	return a
}

// angleBetween returns the angle between a and b in [0, π], computed as
// atan2(|a×b|, a·b) which stays accurate near 0 and π.
func angleBetween(a, b Vec3) float64 {
	return math.Atan2(norm(cross(a, b)), dot(a, b))
}

// Deg2rad converts degrees to radians, and enforced only positive numbers.
func Deg2rad(a float64) float64 {
	if a < 0 {
		a += 360
	}
	return math.Mod(a*deg2rad, 2*math.Pi)
}

// Rad2deg converts radians to degrees, and enforced only positive numbers.
func Rad2deg(a float64) float64 {
	if a < 0 {
		a += 2 * math.Pi
	}
	return math.Mod(a/deg2rad, 360)
}
