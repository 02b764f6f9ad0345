package flightsim

import (
	"fmt"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/ChristopherRabotin/flightsim/orrery"
	"github.com/ChristopherRabotin/flightsim/spk"
	"github.com/ChristopherRabotin/flightsim/spk/spktest"
)

const (
	earthGM     = 398600.435507
	earthRadius = 6378.1366
	day         = 86400.0
)

func vectorsEqual(a, b Vec3) bool {
	for i := range a {
		if !scalar.EqualWithinRel(a[i], b[i], 1e-3) {
			return false
		}
	}
	return true
}

func vectorsWithin(a, b Vec3, tol float64) bool {
	for i := range a {
		if !scalar.EqualWithinAbs(a[i], b[i], tol) {
			return false
		}
	}
	return true
}

// anglesEqual returns whether two angles in radians are equal.
func anglesEqual(a, b float64) (bool, error) {
	diff := math.Mod(math.Abs(a-b), 2*math.Pi)
	if diff > math.Pi {
		diff = 2*math.Pi - diff
	}
	if diff < angleε {
		return true, nil
	}
	return false, fmt.Errorf("difference of %3.10f degrees", math.Abs(Rad2deg(diff)))
}

func testKernel(t *testing.T, name string, segs ...spktest.Segment) *spk.KernelFile {
	t.Helper()
	r, err := (&spktest.Builder{Name: name, Segments: segs}).Reader()
	if err != nil {
		t.Fatal(err)
	}
	kf, err := spk.NewKernelFile(r, name)
	if err != nil {
		t.Fatal(err)
	}
	return kf
}

// earthKernel holds the Earth at rest on the solar system barycenter and
// the Moon at rest 384400 km away along +X.
func earthKernel(t *testing.T) *spk.KernelFile {
	return testKernel(t, "earth",
		spktest.Fixed(399, 0, [3]float64{}, 0, 10*day, 1),
		spktest.Fixed(301, 399, [3]float64{384400, 0, 0}, 0, 10*day, 1),
	)
}

// earthSystem returns the model of earthKernel at t=0, velocities included.
func earthSystem(t *testing.T) *orrery.Model {
	t.Helper()
	sys, err := orrery.Build([]orrery.BodyID{301}, []*spk.KernelFile{earthKernel(t)}, 0, 10*day, nil)
	if err != nil {
		t.Fatal(err)
	}
	sys.VelocityAt(0, 1)
	return sys
}

func mustIdx(t *testing.T, sys *orrery.Model, id orrery.BodyID) int {
	t.Helper()
	idx, ok := sys.IdxOf(id)
	if !ok {
		t.Fatalf("%s missing from the model", id)
	}
	return idx
}
