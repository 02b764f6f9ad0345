package history

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Downsampler is a fractal downsampler: it keeps a point when the path
// walked since the last kept point is curved enough (cumulative length over
// chord length above Ratio) or when it deviates from the straight line by
// more than Linear km. It is deterministic and not retroactive.
type Downsampler struct {
	Ratio  float64
	Linear float64

	started    bool
	last, prev [3]float64
	cumulative float64
}

// NewDownsampler returns a Downsampler with the provided thresholds.
func NewDownsampler(ratio, linear float64) *Downsampler {
	return &Downsampler{Ratio: ratio, Linear: linear}
}

// Feed returns whether p must be kept. The first point is always kept.
func (d *Downsampler) Feed(p [3]float64) bool {
	if !d.started {
		d.started = true
		d.accept(p)
		return true
	}
	d.cumulative += floats.Distance(d.prev[:], p[:], 2)
	d.prev = p
	chord := floats.Distance(d.last[:], p[:], 2)
	var keep bool
	switch {
	case chord > 0:
		keep = d.cumulative/chord > d.Ratio
	default:
		// Back at the last kept point after moving away from it.
		keep = d.cumulative > 0
	}
	if math.Abs(d.cumulative-chord) > d.Linear {
		keep = true
	}
	if keep {
		d.accept(p)
	}
	return keep
}

// Reset forgets every fed point.
func (d *Downsampler) Reset() {
	*d = Downsampler{Ratio: d.Ratio, Linear: d.Linear}
}

func (d *Downsampler) accept(p [3]float64) {
	d.last = p
	d.prev = p
	d.cumulative = 0
}
