// Package integrator holds the fixed step integrators used to advance ship
// states.
package integrator

import (
	"github.com/ChristopherRabotin/ode"
)

// Integrable defines something which can be integrated, i.e. has a state vector.
// Implementations manage their own state based on the iteration, and Func
// must return a new slice on every call.
type Integrable = ode.Integrable

// Solver integrates an Integrable until it requests to stop.
// Solve returns the number of iterations performed and the last x.
type Solver interface {
	Solve() (uint64, float64, error)
}

// Known returns whether name is a registered integrator.
func Known(name string) bool {
	switch name {
	case "", "euler", "rk4":
		return true
	}
	return false
}

// New returns the solver registered under name ("euler" or "rk4") for inte,
// starting at x0 with a fixed step.
func New(name string, x0, stepSize float64, inte Integrable) (Solver, bool) {
	switch name {
	case "", "euler":
		return NewEuler(x0, stepSize, inte), true
	case "rk4":
		return ode.NewRK4(x0, stepSize, inte), true
	}
	return nil, false
}
