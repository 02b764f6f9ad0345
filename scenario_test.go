package flightsim

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/floats/scalar"
)

const leoScenario = `
[scenario]
name = "leo"
start = "2000-01-01 12:00:00"
end = "+1d"
step = "30s"
bodies = ["earth", 301]

[[kernel]]
bodies = [10, "Earth"]
path = "de438s.bsp"

[[ship]]
name = "iss"
id = -5
max_acc = 0.001
fuel = 50
plan = [
  { cmd = "orbit", params = ["earth", 400, 51.6] },
  { at = "+10m", cmd = "burn", for = "2m", params = [0.0005] },
  { at = "+1h", cmd = "phase", params = ["moon", "opposite"] },
]

[[ship]]
`

func TestJ2000(t *testing.T) {
	epoch := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	if s := TimeToJ2000(epoch); !scalar.EqualWithinAbs(s, 0, 1e-3) {
		t.Fatalf("J2000 epoch is %f s past J2000", s)
	}
	if jd := J2000ToJD(86400); jd != 2451546 {
		t.Fatalf("JD %f", jd)
	}
	later := epoch.Add(36*time.Hour + 30*time.Minute)
	if d := J2000ToTime(TimeToJ2000(later)).Sub(later); d > time.Millisecond || d < -time.Millisecond {
		t.Fatalf("round trip off by %s", d)
	}
}

func TestParseScenario(t *testing.T) {
	sc, err := ParseScenario(strings.NewReader(leoScenario))
	if err != nil {
		t.Fatal(err)
	}
	if sc.Name != "leo" || !scalar.EqualWithinAbs(sc.Start, 0, 1e-3) || !scalar.EqualWithinAbs(sc.End, day, 1e-3) || sc.Step != 30 {
		t.Fatalf("unexpected scenario %+v", sc)
	}
	if len(sc.Bodies) != 2 || sc.Bodies[0] != 399 || sc.Bodies[1] != 301 {
		t.Fatalf("bodies %v", sc.Bodies)
	}
	if len(sc.Kernels) != 1 || sc.Kernels[0].Path != "de438s.bsp" || len(sc.Kernels[0].Bodies) != 2 || sc.Kernels[0].Bodies[1] != 399 {
		t.Fatalf("kernels %+v", sc.Kernels)
	}
	if len(sc.Ships) != 2 {
		t.Fatalf("expected two ships, got %d", len(sc.Ships))
	}
	iss := sc.Ships[0]
	if iss.Name != "iss" || iss.ID != -5 || iss.MaxAcc != 0.001 || iss.State.Fuel != 50 {
		t.Fatalf("ship %+v", iss)
	}
	if sc.Ships[1].Name != "ship2" || len(sc.Ships[1].Plan.Actions) != 0 {
		t.Fatalf("default ship %+v", sc.Ships[1])
	}
	acts := iss.Plan.Actions
	if len(acts) != 3 {
		t.Fatalf("plan %v", acts)
	}
	for i, at := range []float64{0, 600, 3600} {
		if !scalar.EqualWithinAbs(acts[i].At, at, 1e-3) {
			t.Fatalf("action %d at %f, expected %f", i, acts[i].At, at)
		}
	}
	burn, ok := acts[1].Action.(*Burn)
	if !ok || burn.Acc != 0.0005 || burn.Duration != 120 {
		t.Fatalf("burn %v", acts[1].Action)
	}
	if o := acts[0].Action.(*InitialOrbit); o.Altitude != 400 || o.Inclination != 51.6 {
		t.Fatalf("orbit %v", o)
	}
	targets := iss.Plan.Targets()
	if len(targets) != 2 || targets[0] != 399 || targets[1] != 301 {
		t.Fatalf("targets %v", targets)
	}
}

func TestScenarioTimes(t *testing.T) {
	for _, tc := range []struct {
		start, end string
		begin, ext float64
	}{
		{"2451545.5", "2451546", 43200, 86400},
		{`"2451545.5"`, `"+2h"`, 43200, 50400},
		{"2000-01-01T12:00:00Z", `"+1.5d"`, 0, 129600},
		{`"2000-01-02"`, `"2000-01-02T06:00:00Z"`, 43200, 64800},
	} {
		doc := "[scenario]\nstart = " + tc.start + "\nend = " + tc.end + "\n"
		sc, err := ParseScenario(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("%s: %s", tc.start, err)
		}
		if !scalar.EqualWithinAbs(sc.Start, tc.begin, 1e-3) || !scalar.EqualWithinAbs(sc.End, tc.ext, 1e-3) {
			t.Fatalf("%s %s: got [%f, %f]", tc.start, tc.end, sc.Start, sc.End)
		}
		if sc.Step != 0 || len(sc.Ships) != 0 {
			t.Fatalf("%s: unexpected defaults %+v", tc.start, sc)
		}
	}
}

func TestWaitTillTimes(t *testing.T) {
	for _, tc := range []struct {
		param string
		till  float64
	}{
		{`"2000-01-02 12:00:00"`, 86400},
		{"2451546.0", 86400},
		{"2451546", 86400},
		{`"2000-01-02T12:00:00Z"`, 86400},
		{`"+1h"`, 600 + 3600},
	} {
		doc := "[scenario]\nstart = 2451545\nend = 2451547\n[[ship]]\nplan = [{ at = \"+10m\", cmd = \"waittill\", params = [" + tc.param + "] }]\n"
		sc, err := ParseScenario(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("%s: %s", tc.param, err)
		}
		wait, ok := sc.Ships[0].Plan.Actions[0].Action.(*WaitTill)
		if !ok {
			t.Fatalf("%s: expected a WaitTill, got %v", tc.param, sc.Ships[0].Plan.Actions[0].Action)
		}
		if !scalar.EqualWithinAbs(wait.Time, tc.till, 1e-3) {
			t.Fatalf("%s: waits till %f, expected %f", tc.param, wait.Time, tc.till)
		}
	}
	doc := "[scenario]\nstart = 2451545\nend = 2451547\n[[ship]]\nplan = [{ cmd = \"wait\", params = [\"soon\"] }]\n"
	if _, err := ParseScenario(strings.NewReader(doc)); !errors.Is(err, ErrScenario) {
		t.Fatalf("an invalid wait time must be refused: %v", err)
	}
}

func TestScenarioErrors(t *testing.T) {
	for _, tc := range []struct {
		doc string
		err error
	}{
		{"[scenario]\nstart = 2451545\n", ErrScenario},
		{"[scenario]\nstart = \"yesterday\"\nend = 2451546\n", ErrScenario},
		{"[scenario]\nstart = 2451545\nend = 2451546\nbodies = [\"vulcan\"]\n", ErrScenario},
		{"[scenario]\nstart = 2451545\nend = 2451546\nstep = \"fast\"\n", ErrScenario},
		{"[scenario]\nstart = 2451545\nend = 2451546\n[[kernel]]\nbodies = [399]\n", ErrScenario},
		{"[scenario]\nstart = 2451545\nend = 2451546\n[[ship]]\nplan = [{ cmd = \"warp\", params = [9] }]\n", ErrUnknownCommand},
		{"[scenario]\nstart = 2451545\nend = 2451546\n[[ship]]\nplan = [{ cmd = \"burn\", at = \"+x\", params = [1] }]\n", ErrScenario},
		{"[scenario\n", ErrScenario},
	} {
		if _, err := ParseScenario(strings.NewReader(tc.doc)); !errors.Is(err, tc.err) {
			t.Fatalf("%q: expected %v, got %v", tc.doc, tc.err, err)
		}
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leo.toml")
	if err := os.WriteFile(path, []byte(leoScenario), 0644); err != nil {
		t.Fatal(err)
	}
	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Name != "leo" || len(sc.Ships) != 2 {
		t.Fatalf("unexpected scenario %+v", sc)
	}
	if _, err := LoadScenario(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, ErrScenario) {
		t.Fatalf("missing file: %v", err)
	}
}
