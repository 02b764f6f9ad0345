package flightsim

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/ChristopherRabotin/flightsim/history"
	"github.com/ChristopherRabotin/flightsim/orrery"
)

func newTestSimulator(t *testing.T, cfg Config) *Simulator {
	t.Helper()
	sim, err := NewSimulator(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sim.Close() })
	sim.AddKernel(earthKernel(t))
	return sim
}

// geoScenario has one ship on a geostationary orbit around the Earth.
func geoScenario(t *testing.T, end float64, extra ...CommandToken) *Scenario {
	t.Helper()
	tokens := append([]CommandToken{{At: 0, Name: "orbit", Params: []string{"earth", "35786"}}}, extra...)
	plan, err := NewPlan(tokens)
	if err != nil {
		t.Fatal(err)
	}
	return &Scenario{
		Name:    "geo",
		Start:   0,
		End:     end,
		Step:    60,
		Kernels: []KernelToken{{Path: "earth"}},
		Ships:   []*Ship{NewShip("geo", -1, 0, 0, plan)},
	}
}

func earthIdx(t *testing.T, sim *Simulator) int {
	return mustIdx(t, sim.Orrery(), 399)
}

func TestEnergyConservation(t *testing.T) {
	// Semi-implicit Euler keeps the energy but lets the radius oscillate.
	radiusTol := map[string]float64{"euler": 5e-3, "rk4": 1e-6}
	for _, name := range []string{"euler", "rk4"} {
		cfg := DefaultConfig()
		cfg.Integrator = name
		sim := newTestSimulator(t, cfg)
		if err := sim.Load(geoScenario(t, 60000)); err != nil {
			t.Fatal(err)
		}
		ship := sim.Ships()[0]
		r := earthRadius + 35786
		e0 := -earthGM / (2 * r)
		if !scalar.EqualWithinRel(SpecificEnergy(ship.State.R, ship.State.V, earthGM), e0, 1e-12) {
			t.Fatal("initial orbit is not circular")
		}
		if err := sim.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		if sim.Time() != 60000 || sim.State() != Waiting {
			t.Fatalf("%s: stopped at %f in state %s", name, sim.Time(), sim.State())
		}
		R, V := ship.relative(sim.Orrery(), earthIdx(t, sim))
		if e1 := SpecificEnergy(R, V, earthGM); !scalar.EqualWithinRel(e1, e0, 1e-3) {
			t.Fatalf("%s: energy drifted from %f to %f", name, e0, e1)
		}
		if !scalar.EqualWithinRel(norm(R), r, radiusTol[name]) {
			t.Fatalf("%s: radius drifted from %f to %f", name, r, norm(R))
		}
		// The ship went through about 70% of a revolution.
		if angleBetween(R, Vec3{r, 0, 0}) < 0.6 {
			t.Fatalf("%s: the ship barely moved: %v", name, R)
		}
	}
}

func TestBurnEvents(t *testing.T) {
	sim := newTestSimulator(t, DefaultConfig())
	sc := geoScenario(t, 3600, CommandToken{At: 600, For: 120, Name: "burn", Params: []string{"0.001"}})
	if err := sim.Load(sc); err != nil {
		t.Fatal(err)
	}
	ship := sim.Ships()[0]
	v0 := norm(ship.State.V)
	if err := sim.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	evs := sim.Events()
	if len(evs) != 2 || evs[0].Kind != BurnStart || evs[1].Kind != BurnEnd {
		t.Fatalf("unexpected events %v", evs)
	}
	if evs[0].T != 600 || evs[1].T != 720 || evs[0].Ship != "geo" {
		t.Fatalf("unexpected event times %v", evs)
	}
	if ship.State.Accel != 0 {
		t.Fatal("the burn did not end")
	}
	// Two minutes at 1 m/s^2 along the velocity add about 0.12 km/s.
	R, V := ship.relative(sim.Orrery(), earthIdx(t, sim))
	if dv := norm(V) - v0; dv < 0.05 || dv > 0.13 {
		t.Fatalf("unexpected Δv %f", dv)
	}
	if SpecificEnergy(R, V, earthGM) <= -earthGM/(2*(earthRadius+35786)) {
		t.Fatal("a prograde burn must raise the orbit energy")
	}
}

func TestSetupFailureKeepsGravity(t *testing.T) {
	sim := newTestSimulator(t, DefaultConfig())
	sc := geoScenario(t, 600)
	plan, _ := NewPlan([]CommandToken{
		{At: 0, Name: "state", Params: []string{"earth", "10000", "0", "0", "0", "6", "0"}},
		{At: 0, Name: "orient", Params: []string{"vulcan", "0", "0"}},
		{At: 0, Name: "accel", Params: []string{"0.01"}},
	})
	lost := NewShip("lost", -2, 0, 0, plan)
	sc.Ships = append(sc.Ships, lost)
	if err := sim.Load(sc); err != nil {
		t.Fatal(err)
	}
	if lost.Commanding() || !sim.Ships()[0].Commanding() {
		t.Fatal("only the ship with the unresolvable target must be disabled")
	}
	R0 := lost.State.R
	if err := sim.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lost.State.Accel != 0 {
		t.Fatal("a disabled plan must not command the ship")
	}
	if R0 == lost.State.R || lost.State.V == (Vec3{0, 6, 0}) {
		t.Fatal("the disabled ship must still be propagated")
	}
	// Radial gravity only, no thrust: the angular momentum is conserved.
	h0 := 10000 * 6.0
	if h := norm(cross(lost.State.R, lost.State.V)); !scalar.EqualWithinRel(h, h0, 1e-9) {
		t.Fatalf("angular momentum %f != %f", h, h0)
	}
}

// targetShip is on a geostationary orbit, then points at target.
func targetShip(t *testing.T, name string, id orrery.BodyID, target string) *Ship {
	t.Helper()
	plan, err := NewPlan([]CommandToken{
		{At: 0, Name: "orbit", Params: []string{"earth", "35786"}},
		{At: 0, Name: "orient", Params: []string{target, "0", "0"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewShip(name, id, 0, 0, plan)
}

func TestUncoveredTargetDisablesPlan(t *testing.T) {
	sim := newTestSimulator(t, DefaultConfig())
	sc := geoScenario(t, 600)
	mars := targetShip(t, "mars", -2, "mars")
	unknown := targetShip(t, "unknown", -3, "12345")
	moon := targetShip(t, "moon", -4, "moon")
	sc.Ships = append(sc.Ships, mars, unknown, moon)
	if err := sim.Load(sc); err != nil {
		t.Fatalf("an uncovered plan target must not fail the load: %v", err)
	}
	if mars.Commanding() || unknown.Commanding() {
		t.Fatal("the plans pointing at uncovered bodies must be disabled")
	}
	if !sim.Ships()[0].Commanding() || !moon.Commanding() {
		t.Fatal("the plans with covered targets must be kept")
	}
	if _, ok := sim.Orrery().IdxOf(301); !ok {
		t.Fatal("a covered plan target must be in the orrery")
	}
	if _, ok := sim.Orrery().IdxOf(499); ok {
		t.Fatal("mars is not covered by the kernel")
	}
	if err := sim.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sim.Time() != 600 {
		t.Fatalf("stopped at %f", sim.Time())
	}
}

func TestLoadErrors(t *testing.T) {
	sim := newTestSimulator(t, DefaultConfig())
	if err := sim.Run(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("run without a scenario: %v", err)
	}
	if err := sim.Restart(geoScenario(t, 600)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("restart while waiting: %v", err)
	}
	sc := geoScenario(t, 600)
	sc.Bodies = []orrery.BodyID{499}
	if err := sim.Load(sc); !errors.Is(err, orrery.ErrBodyNotCovered) {
		t.Fatalf("expected a coverage error, got %v", err)
	}
	if sim.State() != Waiting {
		t.Fatalf("failed load must leave the simulator waiting, not %s", sim.State())
	}
	sc = geoScenario(t, 20*day)
	if err := sim.Load(sc); !errors.Is(err, orrery.ErrBodyNotCovered) {
		t.Fatalf("a scenario past the kernel coverage must fail: %v", err)
	}
	sc = geoScenario(t, 0)
	if err := sim.Load(sc); !errors.Is(err, ErrScenario) {
		t.Fatalf("an empty scenario must fail: %v", err)
	}
	sc = geoScenario(t, 600)
	sc.Ships = append(sc.Ships, NewShip("twin", -3, 0, 0, nil), NewShip("clone", -3, 0, 0, nil))
	if err := sim.Load(sc); !errors.Is(err, ErrScenario) || !strings.Contains(err.Error(), "clone") {
		t.Fatalf("ships sharing an id must be refused: %v", err)
	}
	sc = geoScenario(t, 600)
	sc.Ships = append(sc.Ships, NewShip("second", 0, 0, 0, nil), NewShip("squatter", -2, 0, 0, nil))
	if err := sim.Load(sc); !errors.Is(err, ErrScenario) {
		t.Fatalf("an explicit id must not collide with an assigned one: %v", err)
	}
	if sim.State() != Waiting {
		t.Fatalf("failed load must leave the simulator waiting, not %s", sim.State())
	}
	if err := sim.Load(geoScenario(t, 600)); err != nil {
		t.Fatal(err)
	}
	if err := sim.Load(geoScenario(t, 600)); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("double load: %v", err)
	}
	if _, err := NewSimulator(Config{OutputPath: "/nonexistent/flightsim", Integrator: "euler"}, nil); !errors.Is(err, ErrOutputDir) {
		t.Fatalf("missing output directory: %v", err)
	}
	if _, err := NewSimulator(Config{Integrator: "leapfrog"}, nil); err == nil {
		t.Fatal("unknown integrators must be refused")
	}
}

func TestCancelled(t *testing.T) {
	sim := newTestSimulator(t, DefaultConfig())
	if err := sim.Load(geoScenario(t, 6000)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sim.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if sim.Time() != 0 || sim.State() != Waiting {
		t.Fatalf("a cancelled run must stop at the first tick boundary, stopped at %f", sim.Time())
	}
}

func TestRestartReusesOrrery(t *testing.T) {
	sim := newTestSimulator(t, DefaultConfig())
	if err := sim.Load(geoScenario(t, 6000)); err != nil {
		t.Fatal(err)
	}
	sys := sim.Orrery()
	serial := sim.History().Serial()
	second := geoScenario(t, 3000)
	second.Start = 600
	sim.pending.Do(func(p **Scenario) { *p = second })
	sim.restart.Store(true)
	if err := sim.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sim.Orrery() != sys {
		t.Fatal("the orrery must be reused for a contained time range")
	}
	if sim.History().Serial() != serial+1 {
		t.Fatal("a restart must bump the history serial")
	}
	if sim.Time() != 3000 || sim.Ships()[0] != second.Ships[0] {
		t.Fatalf("the second scenario did not run: t=%f", sim.Time())
	}
	_, samples, err := sim.History().Snapshot(1)
	if err != nil || samples[0].T != 600 {
		t.Fatalf("history of the second run: %v %v", samples, err)
	}

	// A wider range or new bodies need a new orrery.
	if err := sim.Load(geoScenario(t, 5*day)); err != nil {
		t.Fatal(err)
	}
	rebuilt := sim.Orrery()
	if rebuilt == sys {
		t.Fatal("the orrery must be rebuilt for a wider time range")
	}
	withMoon := geoScenario(t, 6000)
	withMoon.Bodies = []orrery.BodyID{301}
	sim.state.Store(int32(Waiting))
	if err := sim.Load(withMoon); err != nil {
		t.Fatal(err)
	}
	if sim.Orrery() == rebuilt {
		t.Fatal("the orrery must be rebuilt for new bodies")
	}
}

func TestParallelShipsMatchSerial(t *testing.T) {
	run := func(workers int) []ShipState {
		cfg := DefaultConfig()
		cfg.Workers = workers
		sim := newTestSimulator(t, cfg)
		sc := geoScenario(t, 3000)
		for i, alt := range []string{"400", "1000", "20000"} {
			plan, err := NewPlan([]CommandToken{
				{At: 0, Name: "orbit", Params: []string{"earth", alt, "30"}},
				{At: 600, For: 300, Name: "burn", Params: []string{"0.0005"}},
			})
			if err != nil {
				t.Fatal(err)
			}
			sc.Ships = append(sc.Ships, NewShip("ship", orrery.BodyID(-10-i), 0, 0, plan))
		}
		if err := sim.Load(sc); err != nil {
			t.Fatal(err)
		}
		if err := sim.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		var states []ShipState
		for _, s := range sim.Ships() {
			states = append(states, s.State)
		}
		if n := len(sim.Events()); n != 6 {
			t.Fatalf("%d workers: %d events", workers, n)
		}
		return states
	}
	serial, parallel := run(1), run(4)
	for i := range serial {
		if serial[i] != parallel[i] {
			t.Fatalf("ship %d differs: %+v != %+v", i, serial[i], parallel[i])
		}
	}
}

func TestSimulatorWritesTrajectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputPath = t.TempDir()
	cfg.FlushRecords = 16
	sim := newTestSimulator(t, cfg)
	if _, err := NewSimulator(cfg, nil); !errors.Is(err, history.ErrLocked) {
		t.Fatalf("a second simulator on the same directory must fail: %v", err)
	}
	if err := sim.Load(geoScenario(t, 86400)); err != nil {
		t.Fatal(err)
	}
	if err := sim.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	trajs, err := history.ReadDir(cfg.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	ship, earth := trajs[-1], trajs[399]
	if len(earth) == 0 || len(ship) < 10 {
		t.Fatalf("earth %d samples, ship %d samples", len(earth), len(ship))
	}
	if last := ship[len(ship)-1]; last.T != 86400 {
		t.Fatalf("the trajectory must end on the last tick, not %f", last.T)
	}
	idx, ok := sim.History().IdxOf(-1)
	if !ok || sim.History().Count(idx) != len(ship) {
		t.Fatal("files and memory disagree")
	}
	if _, ok := trajs[0]; ok {
		t.Fatal("barycenters are not recorded")
	}
}

func TestStatusLogsOrbit(t *testing.T) {
	var buf bytes.Buffer
	sim, err := NewSimulator(DefaultConfig(), kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(&buf)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sim.Close() })
	sim.AddKernel(earthKernel(t))
	if err := sim.Load(geoScenario(t, 600)); err != nil {
		t.Fatal(err)
	}
	if err := sim.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, exp := range []string{"body=Earth", `orbit="a=42164.1 e=0.0000`, "period=", "rp="} {
		if !strings.Contains(out, exp) {
			t.Fatalf("expected %q in the status logs:\n%s", exp, out)
		}
	}
}

// runLong starts a geostationary scenario of one second steps in the
// background and waits for its first minute.
func runLong(t *testing.T, sim *Simulator) <-chan error {
	t.Helper()
	sc := geoScenario(t, 9*day)
	sc.Step = 1
	if err := sim.Load(sc); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- sim.Run(context.Background()) }()
	for sim.Time() < 60 {
		select {
		case err := <-done:
			t.Fatalf("the run ended early: %v", err)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	return done
}

func TestFailedRestartFinalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputPath = t.TempDir()
	cfg.FlushRecords = 1 << 20
	sim := newTestSimulator(t, cfg)
	done := runLong(t, sim)
	if err := sim.Restart(geoScenario(t, 0)); err != nil {
		t.Fatal(err)
	}
	if err := <-done; !errors.Is(err, ErrScenario) {
		t.Fatalf("expected the restart to fail, got %v", err)
	}
	if sim.State() != Waiting {
		t.Fatalf("a failed restart must leave the simulator waiting, not %s", sim.State())
	}
	trajs, err := history.ReadDir(cfg.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	ship := trajs[-1]
	if len(ship) == 0 || ship[len(ship)-1].T < 60 {
		t.Fatalf("the interrupted trajectory must be on disk, got %d samples", len(ship))
	}
}

func TestStopDropsRestart(t *testing.T) {
	sim := newTestSimulator(t, DefaultConfig())
	done := runLong(t, sim)
	sim.Stop()
	// The restart may land before or after the loop exits, and is dropped
	// either way.
	if err := sim.Restart(geoScenario(t, 600)); err != nil && !errors.Is(err, ErrNotRunning) {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if sim.restart.Load() {
		t.Fatal("a stopped run must not leave a restart pending")
	}
	if err := sim.Restart(geoScenario(t, 600)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("restart after the run: %v", err)
	}
	if err := sim.Load(geoScenario(t, 600)); err != nil {
		t.Fatal(err)
	}
	if err := sim.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sim.Time() != 600 {
		t.Fatalf("the next run stopped at %f", sim.Time())
	}
	if err := sim.Restart(nil); !errors.Is(err, ErrScenario) {
		t.Fatalf("restart without a scenario: %v", err)
	}
}
