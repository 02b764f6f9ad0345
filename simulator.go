package flightsim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	kitlog "github.com/go-kit/kit/log"

	"github.com/ChristopherRabotin/flightsim/history"
	"github.com/ChristopherRabotin/flightsim/integrator"
	"github.com/ChristopherRabotin/flightsim/orrery"
	"github.com/ChristopherRabotin/flightsim/spk"
)

// SimState is the life cycle state of a Simulator.
type SimState int32

const (
	// Waiting for a scenario.
	Waiting SimState = iota
	// Loading a scenario, or loaded and ready to run.
	Loading
	// Running the tick loop.
	Running
)

func (s SimState) String() string {
	switch s {
	case Waiting:
		return "WAITING"
	case Loading:
		return "LOADING"
	case Running:
		return "RUNNING"
	}
	return fmt.Sprintf("SimState(%d)", int32(s))
}

// Simulator advances ships under the gravity of the orrery bodies and
// executes their flight plans, one fixed step tick at a time.
type Simulator struct {
	cfg     Config
	logger  kitlog.Logger
	hist    *history.History
	state   atomic.Int32
	stopReq atomic.Bool
	restart atomic.Bool
	pending Synced[*Scenario]
	runMu   sync.Mutex // orders Restart with the end of Run
	simTime atomic.Uint64 // float64 bits

	kernels   map[string]*spk.KernelFile
	kernelSet []string // sorted kernel paths of the cached orrery
	sys       *orrery.Model

	scenario    *Scenario
	ships       []*Ship
	gravitating []int
	start, end  float64
	dt, t       float64
	tick        uint64

	// per tick buffers
	state6  []float64
	thrusts []Vec3
	shipEvs [][]EventKind

	ctx       context.Context
	tickStart time.Time

	evMu   sync.Mutex
	events []Event
}

// NewSimulator returns a waiting simulator writing its trajectories to
// cfg.OutputPath, or keeping them in memory only if it is empty.
func NewSimulator(cfg Config, logger kitlog.Logger) (*Simulator, error) {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	if !integrator.Known(cfg.Integrator) {
		return nil, fmt.Errorf("unknown integrator %q", cfg.Integrator)
	}
	if cfg.OutputPath != "" {
		info, err := os.Stat(cfg.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrOutputDir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrOutputDir, cfg.OutputPath)
		}
	}
	hist, err := history.New(history.Options{
		Ratio:        cfg.HistoryRatio,
		Linear:       cfg.HistoryLinear,
		Dir:          cfg.OutputPath,
		FlushRecords: cfg.FlushRecords,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return &Simulator{
		cfg:     cfg,
		logger:  kitlog.With(logger, "subsys", "sim"),
		hist:    hist,
		kernels: make(map[string]*spk.KernelFile),
	}, nil
}

// AddKernel makes an already opened kernel available to scenarios, under
// its path.
func (s *Simulator) AddKernel(kf *spk.KernelFile) {
	s.kernels[kf.Path()] = kf
}

// State returns the current life cycle state.
func (s *Simulator) State() SimState {
	return SimState(s.state.Load())
}

// Time returns the current simulation time in seconds past J2000.
func (s *Simulator) Time() float64 {
	return math.Float64frombits(s.simTime.Load())
}

// History returns the trajectory store, safe for concurrent readers.
func (s *Simulator) History() *history.History {
	return s.hist
}

// Ships returns the ships of the loaded scenario. Not safe while running.
func (s *Simulator) Ships() []*Ship {
	return s.ships
}

// Orrery returns the bodies model of the loaded scenario. Not safe while running.
func (s *Simulator) Orrery() *orrery.Model {
	return s.sys
}

// Events returns a copy of the events emitted since the last load.
func (s *Simulator) Events() []Event {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	return append([]Event(nil), s.events...)
}

// Load prepares a scenario. The simulator must be waiting.
func (s *Simulator) Load(sc *Scenario) error {
	if !s.state.CompareAndSwap(int32(Waiting), int32(Loading)) {
		return fmt.Errorf("%w: %s", ErrNotWaiting, s.State())
	}
	if err := s.load(sc); err != nil {
		s.state.Store(int32(Waiting))
		return err
	}
	return nil
}

// Stop requests the tick loop to stop at the next tick boundary.
func (s *Simulator) Stop() {
	s.stopReq.Store(true)
}

// Restart requests the running simulation to load sc at the next tick
// boundary and to carry on with it.
func (s *Simulator) Restart(sc *Scenario) error {
	if sc == nil {
		return fmt.Errorf("%w: no scenario to restart with", ErrScenario)
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.State() != Running {
		return fmt.Errorf("%w: %s", ErrNotRunning, s.State())
	}
	s.pending.Do(func(p **Scenario) {
		*p = sc
	})
	s.restart.Store(true)
	return nil
}

// Run executes the loaded scenario until its end, a call to Stop or the
// cancellation of ctx. The simulator is waiting again when Run returns.
func (s *Simulator) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Loading), int32(Running)) {
		return fmt.Errorf("%w: %s", ErrNotLoaded, s.State())
	}
	s.ctx = ctx
	s.stopReq.Store(false)
	wall := time.Now()
	err := s.loop(ctx)
	defer s.runMu.Unlock()
	defer s.state.Store(int32(Waiting))
	s.updateMetrics()
	s.logStatus()
	s.logger.Log("level", "notice", "status", "finished", "scenario", s.scenario.Name, "ticks", s.tick, "stopped", s.stopReq.Load() || ctx.Err() != nil, "wall", time.Since(wall))
	if ferr := s.hist.Finalize(); err == nil {
		err = ferr
	}
	return err
}

// loop runs ticks and applies the requested restarts. It returns with runMu
// held, so that a Restart either is seen here or finds the simulator waiting.
func (s *Simulator) loop(ctx context.Context) error {
	for {
		s.logStatus()
		solver, _ := integrator.New(s.cfg.Integrator, s.t, s.dt, (*ticker)(s))
		_, _, err := solver.Solve()
		s.runMu.Lock()
		if err != nil {
			return err
		}
		restart := s.restart.Swap(false)
		var sc *Scenario
		s.pending.Do(func(p **Scenario) {
			sc, *p = *p, nil
		})
		if !restart || sc == nil || s.stopReq.Load() || ctx.Err() != nil {
			return nil
		}
		s.state.Store(int32(Loading))
		s.runMu.Unlock()
		if err := s.load(sc); err != nil {
			s.logger.Log("level", "critical", "status", "restart failed", "err", err)
			s.runMu.Lock()
			return err
		}
		s.state.Store(int32(Running))
	}
}

// Close finalizes the trajectories and releases the output directory.
func (s *Simulator) Close() error {
	return s.hist.Close()
}

func (s *Simulator) load(sc *Scenario) error {
	if sc.End <= sc.Start {
		return fmt.Errorf("%w: scenario %q ends before it starts", ErrScenario, sc.Name)
	}
	dt := sc.Step
	if dt <= 0 {
		dt = s.cfg.Step.Seconds()
	}
	if dt <= 0 {
		return fmt.Errorf("%w: step must be positive", ErrScenario)
	}
	s.logger.Log("level", "info", "status", "loading", "scenario", sc.Name, "start", sc.Start, "end", sc.End, "step", dt)

	seen := make(map[orrery.BodyID]string, len(sc.Ships))
	for i, sh := range sc.Ships {
		if sh.ID >= 0 {
			sh.ID = orrery.BodyID(-1 - i)
		}
		if other, dup := seen[sh.ID]; dup {
			return fmt.Errorf("%w: ships %q and %q share the id %d", ErrScenario, other, sh.Name, int(sh.ID))
		}
		seen[sh.ID] = sh.Name
	}

	required := append([]orrery.BodyID(nil), sc.Bodies...)
	paths := make([]string, 0, len(sc.Kernels))
	for _, k := range sc.Kernels {
		required = append(required, k.Bodies...)
		paths = append(paths, s.kernelPath(k.Path))
	}
	var targets []orrery.BodyID
	for _, sh := range sc.Ships {
		targets = append(targets, sh.Plan.Targets()...)
	}
	sys, err := s.orrery(required, targets, paths, sc.Start, sc.End)
	if err != nil {
		return err
	}
	s.sys = sys
	s.gravitating = sys.Gravitating()
	s.scenario = sc
	s.ships = sc.Ships
	s.start, s.end, s.dt, s.t, s.tick = sc.Start, sc.End, dt, sc.Start, 0
	s.simTime.Store(math.Float64bits(s.t))
	s.stopReq.Store(false)

	sys.VelocityAt(s.t, s.velocityDt())
	ids := make([]int, 0, len(s.gravitating)+len(s.ships))
	for _, idx := range s.gravitating {
		ids = append(ids, int(sys.ID(idx)))
	}
	for _, sh := range s.ships {
		sh.SetLogger(s.logger)
		if err := sh.setup(sys); err != nil {
			sh.logger.Log("level", "warning", "subsys", "plan", "status", "plan disabled", "err", err)
		}
		ids = append(ids, int(sh.ID))
	}
	n := 6 * len(s.ships)
	s.state6 = make([]float64, n)
	s.thrusts = make([]Vec3, len(s.ships))
	s.shipEvs = make([][]EventKind, len(s.ships))
	s.evMu.Lock()
	s.events = nil
	s.evMu.Unlock()
	if _, err := s.hist.Reset(ids); err != nil {
		s.logger.Log("level", "error", "subsys", "history", "err", err)
	}
	return nil
}

func (s *Simulator) kernelPath(p string) string {
	if _, ok := s.kernels[p]; ok || filepath.IsAbs(p) || s.cfg.KernelPath == "" {
		return p
	}
	return filepath.Join(s.cfg.KernelPath, p)
}

// orrery returns the cached model if it serves the request with the same
// kernels, or builds a new one. Plan targets are optional: those no kernel
// covers are left out, and the plans referring to them are disabled on setup.
func (s *Simulator) orrery(required, targets []orrery.BodyID, paths []string, begin, end float64) (*orrery.Model, error) {
	requested := append(slices.Clip(required), targets...)
	set := append([]string(nil), paths...)
	sort.Strings(set)
	if s.sys != nil && equalStrings(set, s.kernelSet) && s.sys.Serves(requested, begin, end) {
		loadsTotal.WithLabelValues("reused").Inc()
		s.logger.Log("level", "info", "subsys", "orrery", "status", "reused", "bodies", s.sys.Len())
		return s.sys, nil
	}
	var missing []string
	for _, p := range paths {
		if _, ok := s.kernels[p]; !ok {
			missing = append(missing, p)
		}
	}
	for _, kf := range orrery.OpenKernels(missing, s.logger) {
		s.kernels[kf.Path()] = kf
	}
	kernels := make([]*spk.KernelFile, 0, len(paths))
	for _, p := range paths {
		if kf, ok := s.kernels[p]; ok {
			kernels = append(kernels, kf)
		}
	}
	sys, err := orrery.Build(requested, kernels, begin, end, s.logger)
	var bnc *orrery.BodyNotCoveredError
	if errors.As(err, &bnc) && len(targets) > 0 {
		var kept []orrery.BodyID
		for _, id := range targets {
			if !slices.Contains(bnc.IDs, id) {
				kept = append(kept, id)
			}
		}
		s.logger.Log("level", "warning", "subsys", "orrery", "status", "plan targets skipped", "err", err)
		sys, err = orrery.Build(append(slices.Clip(required), kept...), kernels, begin, end, s.logger)
		if errors.As(err, &bnc) && len(kept) > 0 {
			sys, err = orrery.Build(required, kernels, begin, end, s.logger)
		}
	}
	if err != nil {
		return nil, err
	}
	s.kernelSet = set
	loadsTotal.WithLabelValues("built").Inc()
	return sys, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Simulator) velocityDt() float64 {
	if vdt := s.cfg.VelocityDt.Seconds(); vdt > 0 {
		return vdt
	}
	return 1
}

// forEachShip calls f for every ship index, spread over the configured
// number of workers.
func (s *Simulator) forEachShip(f func(i int)) {
	n := len(s.ships)
	if s.cfg.Workers <= 1 || n < 2 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}
	var wg sync.WaitGroup
	chunk := (n + s.cfg.Workers - 1) / s.cfg.Workers
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				f(i)
			}
		}(lo, hi)
	}
	wg.Wait()
}

// gravity returns the acceleration at p due to every gravitating body.
func (s *Simulator) gravity(p Vec3) (acc Vec3) {
	for _, idx := range s.gravitating {
		r := sub(s.sys.Pos(idx), p)
		d := norm(r)
		if d == 0 {
			continue
		}
		acc = add(acc, scale(s.sys.GM(idx)/(d*d*d), r))
	}
	return
}

// record appends the current positions of every body and ship to the history.
func (s *Simulator) record() {
	for k, idx := range s.gravitating {
		s.hist.Append(k, s.t, s.sys.Pos(idx))
	}
	off := len(s.gravitating)
	for i, sh := range s.ships {
		s.hist.Append(off+i, s.t, sh.State.R)
	}
}

// checkCollisions logs when a ship enters a body, and when it is out again
// past a 10% dead zone.
func (s *Simulator) checkCollisions(sh *Ship) {
	if sh.collided >= 0 {
		if norm(sub(sh.State.R, s.sys.Pos(sh.collided))) > 1.1*s.sys.Radius(sh.collided) {
			sh.logger.Log("level", "critical", "subsys", "sim", "revived", s.sys.Name(sh.collided), "t", s.t)
			sh.collided = -1
		}
		return
	}
	for _, idx := range s.gravitating {
		if r := norm(sub(sh.State.R, s.sys.Pos(idx))); r < s.sys.Radius(idx) {
			sh.collided = idx
			sh.logger.Log("level", "critical", "subsys", "sim", "collided", s.sys.Name(idx), "t", s.t, "r", r, "radius", s.sys.Radius(idx))
			return
		}
	}
}

// beginTick evaluates the bodies at the current time, records every state,
// then runs the flight plans and prepares the thrust of the coming step.
func (s *Simulator) beginTick() {
	s.tickStart = time.Now()
	s.sys.VelocityAt(s.t, s.velocityDt())
	s.record()
	now := Tick{T: s.t, Dt: s.dt}
	s.forEachShip(func(i int) {
		sh := s.ships[i]
		s.checkCollisions(sh)
		s.shipEvs[i] = sh.command(s.sys, now)
		s.thrusts[i] = sh.thrust(s.dt)
	})
	for i, evs := range s.shipEvs {
		for _, k := range evs {
			s.emit(Event{T: s.t, Ship: s.ships[i].Name, Kind: k})
		}
		s.shipEvs[i] = nil
	}
}

func (s *Simulator) emit(ev Event) {
	eventsTotal.WithLabelValues(ev.Kind.String()).Inc()
	s.evMu.Lock()
	s.events = append(s.events, ev)
	s.evMu.Unlock()
}

func (s *Simulator) updateMetrics() {
	kept, dropped, written := s.hist.Stats()
	historySamples.WithLabelValues("kept").Set(float64(kept))
	historySamples.WithLabelValues("dropped").Set(float64(dropped))
	historySamples.WithLabelValues("written").Set(float64(written))
}

// logStatus logs the progress of the simulation, and the osculating orbit of
// every ship about the body pulling on it the hardest.
func (s *Simulator) logStatus() {
	kept, dropped, _ := s.hist.Stats()
	s.logger.Log("level", "info", "t", s.t, "tick", s.tick, "kept", kept, "dropped", dropped)
	for _, sh := range s.ships {
		kv := []interface{}{"level", "info", "subsys", "sim", "t", s.t, "accel", sh.State.Accel, "fuel", sh.State.Fuel}
		if idx := s.primary(sh); idx >= 0 {
			R, V := sh.relative(s.sys, idx)
			o := NewOrbitFromRV(R, V, s.sys.GM(idx))
			kv = append(kv, "body", s.sys.Name(idx), "r", norm(R), "v", norm(V), "orbit", o,
				"ξ", o.Energyξ(), "rp", o.Periapsis(), "ra", o.Apoapsis(), "period", o.Period())
		}
		sh.logger.Log(kv...)
	}
}

// primary returns the gravitating body of largest acceleration on sh, or -1.
func (s *Simulator) primary(sh *Ship) int {
	best, most := -1, 0.0
	for _, idx := range s.gravitating {
		r := norm(sub(sh.State.R, s.sys.Pos(idx)))
		if r == 0 {
			continue
		}
		if acc := s.sys.GM(idx) / (r * r); acc > most {
			best, most = idx, acc
		}
	}
	return best
}

// ticker drives one run of the tick loop through the integrator. Ship
// states are laid out as [positions..., velocities...].
type ticker Simulator

// Stop implements the integrator.Integrable interface. It is called at the
// start of every tick.
func (tk *ticker) Stop(t float64) bool {
	s := (*Simulator)(tk)
	if s.stopReq.Load() || s.ctx.Err() != nil || s.restart.Load() {
		return true
	}
	if s.t >= s.end {
		s.sys.VelocityAt(s.t, s.velocityDt())
		s.record()
		return true
	}
	s.beginTick()
	return false
}

// GetState implements the integrator.Integrable interface.
func (tk *ticker) GetState() []float64 {
	s := (*Simulator)(tk)
	half := 3 * len(s.ships)
	for i, sh := range s.ships {
		copy(s.state6[3*i:], sh.State.R[:])
		copy(s.state6[half+3*i:], sh.State.V[:])
	}
	return s.state6
}

// SetState implements the integrator.Integrable interface. The time is
// recomputed from the tick count so that it does not accumulate rounding.
func (tk *ticker) SetState(t float64, st []float64) {
	s := (*Simulator)(tk)
	half := 3 * len(s.ships)
	for k, sh := range s.ships {
		copy(sh.State.R[:], st[3*k:3*k+3])
		copy(sh.State.V[:], st[half+3*k:half+3*k+3])
	}
	s.tick++
	s.t = s.start + float64(s.tick)*s.dt
	s.simTime.Store(math.Float64bits(s.t))
	ticksTotal.Inc()
	simTimeSeconds.Set(s.t)
	tickDurationSeconds.Observe(time.Since(s.tickStart).Seconds())
	if every := s.cfg.ProgressEvery; every > 0 && s.tick%every == 0 {
		s.updateMetrics()
		s.logStatus()
	}
}

// Func implements the integrator.Integrable interface. Bodies stay at their
// positions of the start of the tick over the whole step.
func (tk *ticker) Func(t float64, st []float64) []float64 {
	s := (*Simulator)(tk)
	half := 3 * len(s.ships)
	deriv := make([]float64, len(st))
	s.forEachShip(func(i int) {
		var p Vec3
		copy(p[:], st[3*i:3*i+3])
		a := add(s.gravity(p), s.thrusts[i])
		copy(deriv[3*i:3*i+3], st[half+3*i:half+3*i+3])
		copy(deriv[half+3*i:half+3*i+3], a[:])
	})
	return deriv
}
