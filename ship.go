package flightsim

import (
	"math"

	kitlog "github.com/go-kit/kit/log"

	"github.com/ChristopherRabotin/flightsim/orrery"
)

// ShipState is the dynamic state of a ship, owned by the simulator.
type ShipState struct {
	R, V     Vec3    // barycentric position (km) and velocity (km/s)
	Attitude Vec3    // unit thrust direction
	Accel    float64 // commanded acceleration magnitude, km/s^2
	Fuel     float64 // remaining delta-v budget, km/s
}

// Ship is a simulated spacecraft and its flight plan.
type Ship struct {
	Name   string
	ID     orrery.BodyID
	MaxAcc float64 // km/s^2, zero for no limit
	State  ShipState
	Plan   *Plan

	commanding bool // false once the plan failed to set up
	fuelOut    bool
	collided   int // index of the body the ship is inside of, -1 if none
	logger     kitlog.Logger
}

// NewShip returns a ship with an empty plan. A zero fuel budget means unlimited.
func NewShip(name string, id orrery.BodyID, maxAcc, fuel float64, plan *Plan) *Ship {
	if fuel <= 0 {
		fuel = math.Inf(1)
	}
	if plan == nil {
		plan = &Plan{}
	}
	return &Ship{
		Name:       name,
		ID:         id,
		MaxAcc:     maxAcc,
		State:      ShipState{Attitude: Vec3{1, 0, 0}, Fuel: fuel},
		Plan:       plan,
		commanding: true,
		collided:   -1,
		logger:     kitlog.NewNopLogger(),
	}
}

// SetLogger sets the logger of this ship, tagged with its name.
func (s *Ship) SetLogger(logger kitlog.Logger) {
	s.logger = kitlog.With(logger, "ship", s.Name)
}

// Commanding returns whether the flight plan of this ship is active.
func (s *Ship) Commanding() bool {
	return s.commanding
}

// clampAccel limits a commanded acceleration to [0, MaxAcc], logging a
// warning when it had to.
func (s *Ship) clampAccel(acc float64) float64 {
	switch {
	case acc < 0:
		s.logger.Log("level", "warning", "subsys", "plan", "accel", acc, "err", "negative acceleration")
		return 0
	case s.MaxAcc > 0 && acc > s.MaxAcc:
		s.logger.Log("level", "warning", "subsys", "plan", "accel", acc, "max", s.MaxAcc, "err", ErrAccelExceedsMax)
		clampedAccel.Inc()
		return s.MaxAcc
	}
	return acc
}

// thrust returns the thrust acceleration vector for a step of dt seconds and
// draws the fuel for it.
func (s *Ship) thrust(dt float64) Vec3 {
	if s.State.Accel <= 0 {
		return Vec3{}
	}
	if s.State.Fuel <= 0 {
		if !s.fuelOut {
			s.fuelOut = true
			s.logger.Log("level", "critical", "subsys", "sim", "fuel", s.State.Fuel, "err", "out of fuel")
		}
		return Vec3{}
	}
	s.State.Fuel -= s.State.Accel * dt
	return scale(s.State.Accel, s.State.Attitude)
}

// relative returns the position and velocity of the ship relative to the
// body at idx.
func (s *Ship) relative(sys *orrery.Model, idx int) (R, V Vec3) {
	return sub(s.State.R, sys.Pos(idx)), sub(s.State.V, sys.Vel(idx))
}
