package flightsim

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ChristopherRabotin/flightsim/orrery"
)

// CommandToken is one flight plan line: a command scheduled at a time, with
// an optional duration and its raw parameters.
type CommandToken struct {
	At     float64 // seconds past J2000
	For    float64 // seconds
	Name   string
	Params []string
}

// KernelToken references an ephemeris kernel and the bodies it is expected to serve.
type KernelToken struct {
	Bodies []orrery.BodyID
	Path   string
}

// ParseCommand returns the action described by a command token.
func ParseCommand(tok CommandToken) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(tok.Name))
	p := tok.Params
	switch name {
	case "attitude", "setattitude":
		v, err := floatParams(name, p, 3)
		if err != nil {
			return nil, err
		}
		return &SetAttitude{Direction: Vec3{v[0], v[1], v[2]}}, nil

	case "accel", "setaccel":
		v, err := floatParams(name, p, 1)
		if err != nil {
			return nil, err
		}
		return &SetAccel{Value: v[0]}, nil

	case "burn":
		v, err := floatParams(name, p, 1)
		if err != nil {
			return nil, err
		}
		dur := tok.For
		if len(v) > 1 {
			dur = v[1]
		}
		if dur <= 0 {
			return nil, paramsErr(name, "missing duration")
		}
		return &Burn{Acc: v[0], Duration: dur}, nil

	case "orient":
		if len(p) != 3 {
			return nil, paramsErr(name, "expected body, yaw and pitch, got %d parameters", len(p))
		}
		v, err := floatParams(name, p[1:], 2)
		if err != nil {
			return nil, err
		}
		return &Orient{Target: bodyRef{Name: p[0]}, Yaw: v[0], Pitch: v[1]}, nil

	case "phase":
		if len(p) != 2 {
			return nil, paramsErr(name, "expected body and angle, got %d parameters", len(p))
		}
		if strings.EqualFold(p[1], "opposite") {
			return &Phase{Target: bodyRef{Name: p[0]}, Angle: 180}, nil
		}
		v, err := floatParams(name, p[1:], 1)
		if err != nil {
			return nil, err
		}
		return &Phase{Target: bodyRef{Name: p[0]}, Angle: v[0]}, nil

	case "wait", "waittill":
		if len(p) == 0 {
			if tok.For <= 0 {
				return nil, paramsErr(name, "missing time or duration")
			}
			return &WaitTill{Time: tok.At + tok.For}, nil
		}
		v, err := floatParams(name, p, 1)
		if err != nil {
			return nil, err
		}
		return &WaitTill{Time: v[0]}, nil

	case "park":
		if len(p) != 2 {
			return nil, paramsErr(name, "expected body and capture radius, got %d parameters", len(p))
		}
		v, err := floatParams(name, p[1:], 1)
		if err != nil {
			return nil, err
		}
		return &Park{Target: bodyRef{Name: p[0]}, Radius: v[0]}, nil

	case "orbit", "initialorbit":
		if len(p) < 2 || len(p) > 4 {
			return nil, paramsErr(name, "expected body, altitude and optional inclination and anomaly, got %d parameters", len(p))
		}
		v, err := floatParams(name, p[1:], 1)
		if err != nil {
			return nil, err
		}
		a := &InitialOrbit{Body: bodyRef{Name: p[0]}, Altitude: v[0]}
		if len(v) > 1 {
			a.Inclination = v[1]
		}
		if len(v) > 2 {
			a.Anomaly = v[2]
		}
		return a, nil

	case "state", "initialstate":
		if len(p) != 7 {
			return nil, paramsErr(name, "expected body and six state components, got %d parameters", len(p))
		}
		v, err := floatParams(name, p[1:], 6)
		if err != nil {
			return nil, err
		}
		return &InitialState{Body: bodyRef{Name: p[0]}, R: Vec3{v[0], v[1], v[2]}, V: Vec3{v[3], v[4], v[5]}}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, tok.Name)
}

// floatParams parses at least min float parameters.
func floatParams(cmd string, params []string, min int) ([]float64, error) {
	if len(params) < min {
		return nil, paramsErr(cmd, "expected %d numeric parameters, got %d", min, len(params))
	}
	vals := make([]float64, len(params))
	for i, s := range params {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, paramsErr(cmd, "parameter %d: %s", i, err)
		}
		vals[i] = v
	}
	return vals, nil
}

// Scheduled is an action of a plan with the time it becomes eligible.
type Scheduled struct {
	At     float64
	Action Action
}

// Plan is the time ordered list of actions of a ship.
type Plan struct {
	Actions []Scheduled
}

// NewPlan parses the tokens of a flight plan.
func NewPlan(tokens []CommandToken) (*Plan, error) {
	p := &Plan{}
	for i, tok := range tokens {
		a, err := ParseCommand(tok)
		if err != nil {
			return nil, fmt.Errorf("plan line %d: %w", i+1, err)
		}
		p.Add(tok.At, a)
	}
	return p, nil
}

// Add schedules an action. Actions at the same time keep their insertion order.
func (p *Plan) Add(at float64, a Action) {
	p.Actions = append(p.Actions, Scheduled{at, a})
	sort.SliceStable(p.Actions, func(i, j int) bool {
		return p.Actions[i].At < p.Actions[j].At
	})
}

// Targets returns the bodies named by the plan which can be resolved.
func (p *Plan) Targets() []orrery.BodyID {
	var ids []orrery.BodyID
	for _, s := range p.Actions {
		var ref *bodyRef
		switch a := s.Action.(type) {
		case *Orient:
			ref = &a.Target
		case *Phase:
			ref = &a.Target
		case *Park:
			ref = &a.Target
		case *InitialOrbit:
			ref = &a.Body
		case *InitialState:
			ref = &a.Body
		}
		if ref == nil {
			continue
		}
		if id, err := orrery.Resolve(ref.Name); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Done returns whether every action of the plan is done.
func (p *Plan) Done() bool {
	for _, s := range p.Actions {
		if !s.Action.Done() {
			return false
		}
	}
	return true
}

// setup sets up every action of the ship's plan, stopping at the first failure.
func (s *Ship) setup(sys *orrery.Model) error {
	for _, sc := range s.Plan.Actions {
		if err := sc.Action.Setup(s, sys); err != nil {
			s.commanding = false
			return &ActionSetupError{Ship: s.Name, Action: sc.Action.String(), Err: err}
		}
	}
	return nil
}

// command runs the ship's plan for one tick and applies the resulting
// commands to the ship state. It returns the events of this tick.
func (s *Ship) command(sys *orrery.Model, now Tick) []EventKind {
	if !s.commanding {
		return nil
	}
	var events []EventKind
	for _, sc := range s.Plan.Actions {
		if sc.At > now.T {
			break
		}
		a := sc.Action
		if a.Done() {
			continue
		}
		cmd := a.Execute(s, sys, now)
		if cmd.SetAccel {
			s.State.Accel = cmd.Accel
		}
		if cmd.SetAttitude {
			s.State.Attitude = cmd.Attitude
		}
		if cmd.Event != NoEvent {
			events = append(events, cmd.Event)
			s.logger.Log("level", "notice", "subsys", "plan", "t", now.T, "event", cmd.Event, "action", a)
		}
		if a.Blocking() && !a.Done() {
			break
		}
	}
	return events
}
