package spk_test

import (
	"encoding/binary"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChristopherRabotin/flightsim/spk"
	"github.com/ChristopherRabotin/flightsim/spk/spktest"
	"gonum.org/v1/gonum/floats/scalar"
)

var j2000 = time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

func sec(y int, m time.Month, d int) float64 {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Sub(j2000).Seconds()
}

func writeKernel(t *testing.T, b *spktest.Builder) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.bsp")
	if err := b.WriteFile(path); err != nil {
		t.Fatalf("could not write kernel: %s", err)
	}
	return path
}

func earthKernel() *spktest.Builder {
	begin, end := sec(1949, 12, 14), sec(2099, 12, 31)
	return &spktest.Builder{
		Name:     "DE-TEST",
		Comments: []string{"synthetic ephemeris", "for unit tests only"},
		Segments: []spktest.Segment{
			spktest.Linear(3, 0, [3]float64{1.4e8, 2e7, 1e6}, [3]float64{-4, 29, 0.1}, begin, end, 64),
			spktest.Fixed(399, 3, [3]float64{4600, 0, 0}, begin, end, 8),
		},
	}
}

func TestLoadHeaderAndSummaries(t *testing.T) {
	kf, err := spk.Load(writeKernel(t, earthKernel()))
	if err != nil {
		t.Fatalf("load failed: %s", err)
	}
	defer kf.Close()
	h := kf.Header()
	if h.ND != 2 || h.NI != 6 || h.Name != "DE-TEST" {
		t.Fatalf("unexpected header %+v", h)
	}
	if c := kf.Comments(); len(c) != 2 || c[1] != "for unit tests only" {
		t.Fatalf("unexpected comments %q", c)
	}
	sums := kf.Summaries()
	if len(sums) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(sums))
	}
	if sums[0].Target != 3 || sums[1].Target != 399 || sums[1].Center != 3 {
		t.Fatalf("unexpected summaries %v", sums)
	}
	if sums[0].DataType != spk.TypeChebyshevPosition {
		t.Fatalf("unexpected data type %d", sums[0].DataType)
	}
}

func TestLoadRejectsDamagedHeaders(t *testing.T) {
	damagedFTP := append([]byte(nil), spk.FTPString...)
	damagedFTP[7] = '\n' // what a text-mode transfer does to \r
	for _, tc := range []struct {
		name string
		b    *spktest.Builder
	}{
		{"ftp", &spktest.Builder{FTP: damagedFTP}},
		{"ndni", &spktest.Builder{ND: 3, NI: 6}},
		{"arch", &spktest.Builder{ArchTag: "DAF/PCK"}},
	} {
		kb := earthKernel()
		kb.FTP, kb.ND, kb.NI, kb.ArchTag = tc.b.FTP, tc.b.ND, tc.b.NI, tc.b.ArchTag
		_, err := spk.Load(writeKernel(t, kb))
		if !errors.Is(err, spk.ErrFileFormat) {
			t.Fatalf("%s: expected a file format error, got %v", tc.name, err)
		}
		var ffe *spk.FileFormatError
		if !errors.As(err, &ffe) || ffe.Path == "" {
			t.Fatalf("%s: error does not carry the path: %v", tc.name, err)
		}
	}
}

func TestSummaryChain(t *testing.T) {
	b := earthKernel()
	b.Segments = append(b.Segments, spktest.Fixed(301, 3, [3]float64{-380000, 0, 0}, 0, 86400, 2))
	b.PerRecord = 1
	kf, err := spk.NewKernelFile(mustReader(t, b), "chain")
	if err != nil {
		t.Fatal(err)
	}
	for _, target := range []int{3, 399, 301} {
		if len(kf.Segments(target)) != 1 {
			t.Fatalf("target %d missing from the chained summaries", target)
		}
	}
}

func TestEphemerisCoverage(t *testing.T) {
	kf, err := spk.NewKernelFile(mustReader(t, earthKernel()), "earth")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := kf.LoadEphemeris(399, sec(2000, 1, 1), sec(2010, 1, 1)); err != nil {
		t.Fatalf("2000-2010 should be covered: %s", err)
	}
	if _, err := kf.LoadEphemeris(399, sec(2100, 1, 1), sec(2110, 1, 1)); !errors.Is(err, spk.ErrTimeRangeOutOfBounds) {
		t.Fatalf("2100-2110 should be out of bounds, got %v", err)
	}
	sum := kf.Segments(399)[0]
	for _, tc := range []struct {
		begin, end float64
		ok         bool
	}{
		{sum.Begin, sum.End, true},
		{sum.Begin - 1, sum.End, false},
		{sum.Begin, sum.End + 1, false},
		{sum.Begin + 10, sum.Begin + 20, true},
		{sum.Begin + 20, sum.Begin + 10, false},
	} {
		_, err := kf.LoadEphemeris(399, tc.begin, tc.end)
		if (err == nil) != tc.ok {
			t.Fatalf("[%f, %f]: ok=%v, err=%v", tc.begin, tc.end, tc.ok, err)
		}
		if err != nil && !errors.Is(err, spk.ErrTimeRangeOutOfBounds) {
			t.Fatalf("unexpected error kind %v", err)
		}
	}
	if _, err := kf.LoadEphemeris(499, sum.Begin, sum.End); !errors.Is(err, spk.ErrNoSegment) {
		t.Fatalf("expected ErrNoSegment, got %v", err)
	}
}

func TestEphemerisEvaluation(t *testing.T) {
	pos := [3]float64{1.4e8, 2e7, 1e6}
	vel := [3]float64{-4, 29, 0.1}
	kf, err := spk.NewKernelFile(mustReader(t, earthKernel()), "earth")
	if err != nil {
		t.Fatal(err)
	}
	begin, end := sec(2000, 1, 1), sec(2001, 1, 1)
	eph, err := kf.LoadEphemeris(3, begin, end)
	if err != nil {
		t.Fatal(err)
	}
	if eph.Begin > begin || eph.End() < end {
		t.Fatalf("ephemeris [%f, %f] does not span the request", eph.Begin, eph.End())
	}
	for _, at := range []float64{begin, begin + 12345.6, (begin + end) / 2, end} {
		got := eph.Position(at)
		for k := 0; k < 3; k++ {
			exp := pos[k] + vel[k]*at
			if !scalar.EqualWithinAbs(got[k], exp, 1e-3) {
				t.Fatalf("axis %d at %f: %f != %f", k, at, got[k], exp)
			}
		}
	}
}

func TestTypeIIIVelocitySkipped(t *testing.T) {
	seg := spktest.Linear(499, 4, [3]float64{10, 20, 30}, [3]float64{1, 2, 3}, 0, 1000, 4)
	seg.Type = spk.TypeChebyshevState
	for i := range seg.Records {
		seg.Records[i].VX = []float64{99, 99}
		seg.Records[i].VY = []float64{-99, -99}
		seg.Records[i].VZ = []float64{42, 42}
	}
	kf, err := spk.NewKernelFile(mustReader(t, &spktest.Builder{Segments: []spktest.Segment{seg}}), "mars")
	if err != nil {
		t.Fatal(err)
	}
	eph, err := kf.LoadEphemeris(499, 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(eph.Elements) != 4 {
		t.Fatalf("expected 4 elements, got %d", len(eph.Elements))
	}
	got := eph.Position(600)
	exp := [3]float64{610, 1220, 1830}
	for k := range exp {
		if !scalar.EqualWithinAbs(got[k], exp[k], 1e-9) {
			t.Fatalf("axis %d: %f != %f", k, got[k], exp[k])
		}
	}
}

func TestUnsupportedDataType(t *testing.T) {
	seg := spktest.Fixed(2000433, 10, [3]float64{1, 2, 3}, 0, 100, 1)
	seg.Type = 21
	kf, err := spk.NewKernelFile(mustReader(t, &spktest.Builder{Segments: []spktest.Segment{seg}}), "eros")
	if err != nil {
		t.Fatal(err)
	}
	_, err = kf.LoadEphemeris(2000433, 0, 100)
	var ute *spk.UnsupportedDataTypeError
	if !errors.Is(err, spk.ErrUnsupportedDataType) || !errors.As(err, &ute) || ute.DataType != 21 {
		t.Fatalf("expected an unsupported data type error, got %v", err)
	}
}

func TestBigEndianKernel(t *testing.T) {
	b := earthKernel()
	b.Order = binary.BigEndian
	kf, err := spk.NewKernelFile(mustReader(t, b), "big")
	if err != nil {
		t.Fatal(err)
	}
	eph, err := kf.LoadEphemeris(399, 0, 3600)
	if err != nil {
		t.Fatal(err)
	}
	if p := eph.Position(1800); p != [3]float64{4600, 0, 0} {
		t.Fatalf("unexpected position %v", p)
	}
}

func TestChebyshev(t *testing.T) {
	el := spk.Element{Mid: 100, Half: 50, X: []float64{7.25}, Y: []float64{-3}, Z: []float64{0}}
	if p := el.Eval(100); p != [3]float64{7.25, -3, 0} {
		t.Fatalf("degree 0 series must return its coefficient, got %v", p)
	}
	// T_2(x) = 2x^2 - 1, T_3(x) = 4x^3 - 3x
	for _, x := range []float64{-1, -0.3, 0, 0.5, 1} {
		got := spk.Chebyshev(x, []float64{1, 2, 3, 4})
		exp := 1 + 2*x + 3*(2*x*x-1) + 4*(4*x*x*x-3*x)
		if !scalar.EqualWithinAbs(got, exp, 1e-12) {
			t.Fatalf("x=%f: %f != %f", x, got, exp)
		}
	}
	if spk.Chebyshev(0.3, nil) != 0 {
		t.Fatal("empty series must be zero")
	}
}

func mustReader(t *testing.T, b *spktest.Builder) io.ReaderAt {
	t.Helper()
	r, err := b.Reader()
	if err != nil {
		t.Fatal(err)
	}
	return r
}
