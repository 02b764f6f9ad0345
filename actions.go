package flightsim

import (
	"fmt"
	"math"

	"github.com/ChristopherRabotin/flightsim/orrery"
)

const (
	// phaseTolerance is the angle (radians) within which a Phase completes.
	phaseTolerance = 1e-3
	// parkTolerance is the delta-v (km/s) below which a Park completes.
	parkTolerance = 1e-3
)

// Tick is the simulation clock seen by actions.
type Tick struct {
	T  float64 // seconds past J2000
	Dt float64 // step size, seconds
}

// Command is the output of an action for one tick. Only the fields whose
// Set flag is true override the ship state.
type Command struct {
	Accel       float64
	SetAccel    bool
	Attitude    Vec3
	SetAttitude bool
	Event       EventKind
}

func accelCmd(acc float64) Command {
	return Command{Accel: acc, SetAccel: true}
}

// Action is one flight plan command. The set of actions is closed: every
// implementation lives in this file.
type Action interface {
	// Setup resolves the action's bodies once, when the simulation starts.
	Setup(s *Ship, sys *orrery.Model) error
	// Execute is called once per tick while the action is not done.
	Execute(s *Ship, sys *orrery.Model, now Tick) Command
	// Blocking actions stop the plan from advancing until they are done.
	Blocking() bool
	Done() bool
	String() string

	action()
}

// base carries the done flag shared by every action.
type base struct {
	done bool
}

func (b *base) Done() bool {
	return b.done
}

func (b *base) action() {}

// bodyRef is a body of the system named in a flight plan.
type bodyRef struct {
	Name string
	idx  int
}

func (r *bodyRef) resolve(sys *orrery.Model) error {
	id, err := orrery.Resolve(r.Name)
	if err != nil {
		return err
	}
	idx, ok := sys.IdxOf(id)
	if !ok {
		return fmt.Errorf("%w: %s (%d) is not part of the simulation", orrery.ErrUnknownBody, r.Name, int(id))
	}
	r.idx = idx
	return nil
}

/* Instant actions */

// SetAttitude points the thrust along a direction.
type SetAttitude struct {
	base
	Direction Vec3
}

// Setup implements the Action interface.
func (a *SetAttitude) Setup(*Ship, *orrery.Model) error {
	if norm(a.Direction) == 0 {
		return fmt.Errorf("%w: null attitude", ErrBadParams)
	}
	return nil
}

// Execute implements the Action interface.
func (a *SetAttitude) Execute(*Ship, *orrery.Model, Tick) Command {
	a.done = true
	return Command{Attitude: unit(a.Direction), SetAttitude: true}
}

// Blocking implements the Action interface.
func (a *SetAttitude) Blocking() bool { return false }

func (a *SetAttitude) String() string {
	return fmt.Sprintf("attitude %v", a.Direction)
}

// SetAccel sets the thrust acceleration, clamped to the ship maximum.
type SetAccel struct {
	base
	Value float64 // km/s^2
}

// Setup implements the Action interface.
func (a *SetAccel) Setup(*Ship, *orrery.Model) error { return nil }

// Execute implements the Action interface.
func (a *SetAccel) Execute(s *Ship, _ *orrery.Model, _ Tick) Command {
	a.done = true
	return accelCmd(s.clampAccel(a.Value))
}

// Blocking implements the Action interface.
func (a *SetAccel) Blocking() bool { return false }

func (a *SetAccel) String() string {
	return fmt.Sprintf("accel %g", a.Value)
}

/* Timed actions */

// Burn thrusts at a constant acceleration for a duration.
type Burn struct {
	base
	Acc      float64 // km/s^2
	Duration float64 // seconds

	started bool
	acc     float64
	end     float64
}

// Setup implements the Action interface.
func (a *Burn) Setup(*Ship, *orrery.Model) error {
	if a.Duration < 0 {
		return fmt.Errorf("%w: negative burn duration", ErrBadParams)
	}
	return nil
}

// Execute implements the Action interface.
func (a *Burn) Execute(s *Ship, _ *orrery.Model, now Tick) Command {
	if !a.started {
		a.started = true
		a.end = now.T + a.Duration
		a.acc = s.clampAccel(a.Acc)
		cmd := accelCmd(a.acc)
		cmd.Event = BurnStart
		return cmd
	}
	if now.T >= a.end {
		a.done = true
		cmd := accelCmd(0)
		cmd.Event = BurnEnd
		return cmd
	}
	return accelCmd(a.acc)
}

// Blocking implements the Action interface.
func (a *Burn) Blocking() bool { return false }

func (a *Burn) String() string {
	return fmt.Sprintf("burn %g for %gs", a.Acc, a.Duration)
}

// WaitTill holds the plan until a time.
type WaitTill struct {
	base
	Time float64 // seconds past J2000
}

// Setup implements the Action interface.
func (a *WaitTill) Setup(*Ship, *orrery.Model) error { return nil }

// Execute implements the Action interface.
func (a *WaitTill) Execute(_ *Ship, _ *orrery.Model, now Tick) Command {
	if now.T >= a.Time {
		a.done = true
		return Command{Event: WaitDone}
	}
	return Command{}
}

// Blocking implements the Action interface.
func (a *WaitTill) Blocking() bool { return true }

func (a *WaitTill) String() string {
	return fmt.Sprintf("wait until %.1f", a.Time)
}

/* Relative actions */

// orbitalFrame returns X along the relative velocity, Y along R×X (the
// orbit normal) and Z = X×Y, in the orbital plane.
func orbitalFrame(R, V Vec3) (X, Y, Z Vec3) {
	X = unit(V)
	Y = unit(cross(R, X))
	Z = unit(cross(X, Y))
	return
}

// Orient points the thrust relative to the orbital frame of the ship around
// a body: yaw turns from the velocity direction within the orbital plane,
// pitch then leaves the plane toward the orbit normal.
type Orient struct {
	base
	Target     bodyRef
	Yaw, Pitch float64 // degrees
}

// Setup implements the Action interface.
func (a *Orient) Setup(_ *Ship, sys *orrery.Model) error {
	return a.Target.resolve(sys)
}

// Execute implements the Action interface.
func (a *Orient) Execute(s *Ship, sys *orrery.Model, _ Tick) Command {
	R, V := s.relative(sys, a.Target.idx)
	X, Y, Z := orbitalFrame(R, V)
	sy, cy := math.Sincos(a.Yaw * deg2rad)
	sp, cp := math.Sincos(a.Pitch * deg2rad)
	// Yaw is a rotation about the orbit normal Y, from X toward Z in the
	// orbital plane, not about Z. Pitch tilts toward +Y.
	local := Vec3{cp * cy, sp, cp * sy}
	a.done = true
	return Command{Attitude: unit(MxV33(frameDCM(X, Y, Z), local)), SetAttitude: true, Event: Oriented}
}

// Blocking implements the Action interface.
func (a *Orient) Blocking() bool { return true }

func (a *Orient) String() string {
	return fmt.Sprintf("orient wrt %s yaw %g pitch %g", a.Target.Name, a.Yaw, a.Pitch)
}

// Phase holds the plan until the angle between the target's radius vector
// and the ship's radius vector, both taken from the target's center, reaches
// the requested value.
type Phase struct {
	base
	Target bodyRef
	Angle  float64 // degrees

	center int
}

// Setup implements the Action interface.
func (a *Phase) Setup(_ *Ship, sys *orrery.Model) error {
	if err := a.Target.resolve(sys); err != nil {
		return err
	}
	if a.center = sys.CenterOf(a.Target.idx); a.center < 0 {
		return fmt.Errorf("%w: cannot phase with the solar system barycenter", ErrBadParams)
	}
	return nil
}

// current returns the phase angle, in radians.
func (a *Phase) current(s *Ship, sys *orrery.Model) float64 {
	c := sys.Pos(a.center)
	R0 := sub(sys.Pos(a.Target.idx), c)
	R1 := sub(s.State.R, c)
	return angleBetween(R0, R1)
}

// Execute implements the Action interface.
func (a *Phase) Execute(s *Ship, sys *orrery.Model, _ Tick) Command {
	if math.Abs(a.current(s, sys)-a.Angle*deg2rad) < phaseTolerance {
		a.done = true
		return Command{Event: Phased}
	}
	return Command{}
}

// Blocking implements the Action interface.
func (a *Phase) Blocking() bool { return true }

func (a *Phase) String() string {
	return fmt.Sprintf("phase %g deg with %s", a.Angle, a.Target.Name)
}

// Park circularizes the orbit around a body once within its capture radius.
// The commanded acceleration is |Δv| / (0.5 dt²) where dt is the time since
// the previous active tick.
type Park struct {
	base
	Target bodyRef
	Radius float64 // capture radius, km

	active bool
	last   float64
}

// Setup implements the Action interface.
func (a *Park) Setup(_ *Ship, sys *orrery.Model) error {
	if a.Radius <= 0 {
		return fmt.Errorf("%w: capture radius must be positive", ErrBadParams)
	}
	return a.Target.resolve(sys)
}

// Execute implements the Action interface.
func (a *Park) Execute(s *Ship, sys *orrery.Model, now Tick) Command {
	R, V := s.relative(sys, a.Target.idx)
	r := norm(R)
	if !a.active && r > a.Radius {
		return Command{}
	}
	var event EventKind
	dt := now.Dt
	if !a.active {
		a.active = true
		event = Captured
	} else if now.T > a.last {
		dt = now.T - a.last
	}
	a.last = now.T

	N := unit(cross(R, V))
	if norm(N) == 0 {
		// Radial motion: any normal will do.
		N = unit(cross(R, Vec3{0, 0, 1}))
	}
	dir := unit(cross(N, R))
	ΔV := sub(scale(CircularVelocity(r, sys.GM(a.Target.idx)), dir), V)
	Δv := norm(ΔV)
	if Δv < parkTolerance {
		a.done = true
		cmd := accelCmd(0)
		cmd.Event = Parked
		return cmd
	}
	cmd := accelCmd(s.clampAccel(Δv / (0.5 * dt * dt)))
	cmd.Attitude, cmd.SetAttitude = unit(ΔV), true
	if event != NoEvent {
		cmd.Event = event
	}
	return cmd
}

// Blocking implements the Action interface.
func (a *Park) Blocking() bool { return true }

func (a *Park) String() string {
	return fmt.Sprintf("park around %s within %g km", a.Target.Name, a.Radius)
}

/* Setup only actions */

// InitialOrbit places the ship on a circular prograde orbit around a body.
type InitialOrbit struct {
	base
	Body        bodyRef
	Altitude    float64 // km above the mean radius
	Inclination float64 // degrees
	Anomaly     float64 // degrees
}

// Setup implements the Action interface.
func (a *InitialOrbit) Setup(s *Ship, sys *orrery.Model) error {
	if err := a.Body.resolve(sys); err != nil {
		return err
	}
	gm := sys.GM(a.Body.idx)
	if gm <= 0 {
		return fmt.Errorf("%w: %s has no gravitational parameter", ErrBadParams, a.Body.Name)
	}
	r := sys.Radius(a.Body.idx) + a.Altitude
	if r <= 0 {
		return fmt.Errorf("%w: orbit radius %g km", ErrBadParams, r)
	}
	R, V := NewOrbitFromOE(r, 0, a.Inclination, 0, 0, a.Anomaly, gm).RV()
	s.State.R = add(sys.Pos(a.Body.idx), R)
	s.State.V = add(sys.Vel(a.Body.idx), V)
	s.State.Attitude = unit(V)
	a.done = true
	return nil
}

// Execute is never called: the action is done once set up.
func (a *InitialOrbit) Execute(*Ship, *orrery.Model, Tick) Command { return Command{} }

// Blocking implements the Action interface.
func (a *InitialOrbit) Blocking() bool { return false }

func (a *InitialOrbit) String() string {
	return fmt.Sprintf("orbit %s at %g km", a.Body.Name, a.Altitude)
}

// InitialState places the ship at a state relative to a body.
type InitialState struct {
	base
	Body bodyRef
	R, V Vec3
}

// Setup implements the Action interface.
func (a *InitialState) Setup(s *Ship, sys *orrery.Model) error {
	if err := a.Body.resolve(sys); err != nil {
		return err
	}
	s.State.R = add(sys.Pos(a.Body.idx), a.R)
	s.State.V = add(sys.Vel(a.Body.idx), a.V)
	if norm(a.V) > 0 {
		s.State.Attitude = unit(a.V)
	}
	a.done = true
	return nil
}

// Execute is never called: the action is done once set up.
func (a *InitialState) Execute(*Ship, *orrery.Model, Tick) Command { return Command{} }

// Blocking implements the Action interface.
func (a *InitialState) Blocking() bool { return false }

func (a *InitialState) String() string {
	return fmt.Sprintf("state wrt %s R=%v V=%v", a.Body.Name, a.R, a.V)
}
