package flightsim

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// R3R1R3 performs a 3-1-3 Euler parameter rotation.
// From Schaub and Junkins.
func R3R1R3(θ1, θ2, θ3 float64) *mat.Dense {
	sθ1, cθ1 := math.Sincos(θ1)
	sθ2, cθ2 := math.Sincos(θ2)
	sθ3, cθ3 := math.Sincos(θ3)
	return mat.NewDense(3, 3, []float64{cθ3*cθ1 - sθ3*cθ2*sθ1, cθ3*sθ1 + sθ3*cθ2*cθ1, sθ3 * sθ2,
		-sθ3*cθ1 - cθ3*cθ2*sθ1, -sθ3*sθ1 + cθ3*cθ2*cθ1, cθ3 * sθ2,
		sθ2 * sθ1, -sθ2 * cθ1, cθ2})
}

// R1 rotation about the 1st axis.
func R1(x float64) *mat.Dense {
	s, c := math.Sincos(x)
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, c, s, 0, -s, c})
}

// R3 rotation about the 3rd axis.
func R3(x float64) *mat.Dense {
	s, c := math.Sincos(x)
	return mat.NewDense(3, 3, []float64{c, s, 0, -s, c, 0, 0, 0, 1})
}

// MxV33 multiplies a 3x3 matrix with a vector.
func MxV33(m mat.Matrix, v Vec3) Vec3 {
	var rVec mat.VecDense
	rVec.MulVec(m, mat.NewVecDense(3, v[:]))
	return Vec3{rVec.AtVec(0), rVec.AtVec(1), rVec.AtVec(2)}
}

// PQW2Inertial converts a vector from the perifocal frame to the frame the
// orbital elements are expressed in, i.e. R3(-Ω) R1(-i) R3(-ω).
func PQW2Inertial(i, ω, Ω float64, v Vec3) Vec3 {
	return MxV33(R3R1R3(Ω, i, ω).T(), v)
}

// frameDCM returns the matrix whose columns are x, y and z.
func frameDCM(x, y, z Vec3) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		x[0], y[0], z[0],
		x[1], y[1], z[1],
		x[2], y[2], z[2],
	})
}
