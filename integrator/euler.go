package integrator

import "errors"

// ErrOddState is returned when the state cannot be split in positions and
// velocities.
var ErrOddState = errors.New("semi-implicit Euler needs a [position, velocity] state")

// Euler is the semi-implicit (symplectic) Euler method for second order
// systems laid out as [position..., velocity...]: the velocity is updated
// from the acceleration first, then the position from the new velocity.
// Its energy error stays bounded on Kepler orbits.
type Euler struct {
	X0         float64    // The initial x0.
	StepSize   float64    // The step size.
	Integrator Integrable // What is to be integrated.
}

// NewEuler returns a new Euler integrator instance.
func NewEuler(x0, stepSize float64, inte Integrable) *Euler {
	if stepSize <= 0 {
		panic("config StepSize must be positive")
	}
	if inte == nil {
		panic("config Integrator may not be nil")
	}
	return &Euler{X0: x0, StepSize: stepSize, Integrator: inte}
}

// Solve implements Solver.
func (e *Euler) Solve() (uint64, float64, error) {
	iterNum := uint64(0)
	xi := e.X0
	for !e.Integrator.Stop(xi) {
		state := e.Integrator.GetState()
		if len(state)%2 != 0 {
			return iterNum, xi, ErrOddState
		}
		half := len(state) / 2
		newState := make([]float64, len(state))
		copy(newState, state)
		f := e.Integrator.Func(xi, state)
		for i := half; i < len(state); i++ {
			newState[i] += f[i] * e.StepSize
		}
		for i := 0; i < half; i++ {
			newState[i] += newState[half+i] * e.StepSize
		}
		xi += e.StepSize
		e.Integrator.SetState(xi, newState)
		iterNum++
	}
	return iterNum, xi, nil
}
