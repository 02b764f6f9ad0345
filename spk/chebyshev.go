package spk

import "math"

// Element is one Chebyshev interpolation interval.
type Element struct {
	Mid, Half float64 // midpoint and half-width, in seconds
	X, Y, Z   []float64
}

// Eval returns the position at t, which should lie in [Mid-Half, Mid+Half].
func (el *Element) Eval(t float64) [3]float64 {
	x := (t - el.Mid) / el.Half
	return [3]float64{Chebyshev(x, el.X), Chebyshev(x, el.Y), Chebyshev(x, el.Z)}
}

// Chebyshev evaluates sum(c_n T_n(x)) with T_0 = 1, T_1 = x and
// T_n = 2x T_{n-1} - T_{n-2}.
func Chebyshev(x float64, coef []float64) float64 {
	switch len(coef) {
	case 0:
		return 0
	case 1:
		return coef[0]
	}
	tPrev, tCur := 1.0, x
	sum := coef[0] + coef[1]*x
	twoX := 2 * x
	for _, c := range coef[2:] {
		tPrev, tCur = tCur, twoX*tCur-tPrev
		sum += c * tCur
	}
	return sum
}

// Ephemeris is the ordered list of elements of one (target, center) pair
// over a contiguous time span.
type Ephemeris struct {
	Target, Center int
	Begin          float64 // start of the first element's interval
	Interval       float64
	Elements       []Element
}

// End returns the end of the last element's interval.
func (e *Ephemeris) End() float64 {
	return e.Begin + float64(len(e.Elements))*e.Interval
}

// Index returns the element index for t, by linear time indexing.
// Times outside the span map to the first or last element.
func (e *Ephemeris) Index(t float64) int {
	return clampIndex(int(math.Floor((t-e.Begin)/e.Interval)), len(e.Elements))
}

// Position returns the position of Target relative to Center at t, in km.
func (e *Ephemeris) Position(t float64) [3]float64 {
	if len(e.Elements) == 0 {
		return [3]float64{}
	}
	return e.Elements[e.Index(t)].Eval(t)
}
