package history

import (
	"sort"
	"sync/atomic"
)

const chunkLen = 1024

type chunk [chunkLen]Sample

// recent is the rolling buffer of the last three appended samples, oldest
// first. Only the first n entries are valid.
type recent struct {
	s [3]Sample
	n int
}

// Trajectory is the downsampled, append-only sample sequence of one body.
//
// A single writer calls Append and Finalize. Any number of readers may call
// the other methods concurrently without locking: samples live in fixed
// size chunks which are never moved, and the sample count is published only
// after the samples it covers are written.
type Trajectory struct {
	ID int

	ds     *Downsampler
	sink   func(id int, s Sample)
	chunks atomic.Pointer[[]*chunk]
	count  atomic.Int64
	last   atomic.Pointer[recent]

	pending    Sample
	hasPending bool
}

func newTrajectory(id int, ratio, linear float64, sink func(int, Sample)) *Trajectory {
	tr := &Trajectory{ID: id, ds: NewDownsampler(ratio, linear), sink: sink}
	dir := make([]*chunk, 0, 4)
	tr.chunks.Store(&dir)
	tr.last.Store(&recent{})
	return tr
}

// Append feeds one position. Times must be increasing. It returns whether
// the downsampler kept the sample.
func (tr *Trajectory) Append(t float64, pos [3]float64) bool {
	s := Sample{T: t, Pos: pos}
	prev := tr.last.Load()
	next := &recent{n: prev.n}
	if next.n < 3 {
		next.s = prev.s
		next.s[next.n] = s
		next.n++
	} else {
		next.s = [3]Sample{prev.s[1], prev.s[2], s}
	}
	tr.last.Store(next)

	if !tr.ds.Feed(pos) {
		tr.pending, tr.hasPending = s, true
		return false
	}
	tr.hasPending = false
	tr.store(s)
	return true
}

// Finalize stores the last appended sample if the downsampler dropped it,
// so that the trajectory always ends on its endpoint.
func (tr *Trajectory) Finalize() {
	if tr.hasPending {
		tr.hasPending = false
		tr.store(tr.pending)
	}
}

func (tr *Trajectory) store(s Sample) {
	n := int(tr.count.Load())
	dir := *tr.chunks.Load()
	if n/chunkLen >= len(dir) {
		grown := make([]*chunk, len(dir), len(dir)*2+1)
		copy(grown, dir)
		grown = append(grown, new(chunk))
		tr.chunks.Store(&grown)
		dir = grown
	}
	dir[n/chunkLen][n%chunkLen] = s
	tr.count.Store(int64(n + 1))
	if tr.sink != nil {
		tr.sink(tr.ID, s)
	}
}

// Count returns the number of published samples.
func (tr *Trajectory) Count() int {
	return int(tr.count.Load())
}

// At returns the i-th published sample. i must be below a value previously
// returned by Count.
func (tr *Trajectory) At(i int) Sample {
	dir := *tr.chunks.Load()
	return dir[i/chunkLen][i%chunkLen]
}

// Samples returns a copy of every published sample.
func (tr *Trajectory) Samples() []Sample {
	n := tr.Count()
	dir := *tr.chunks.Load()
	out := make([]Sample, 0, n)
	for i := 0; i < n; i += chunkLen {
		end := n - i
		if end > chunkLen {
			end = chunkLen
		}
		out = append(out, dir[i/chunkLen][:end]...)
	}
	return out
}

// PositionAt interpolates linearly between the published samples around t.
// Times outside the published span return false.
func (tr *Trajectory) PositionAt(t float64) ([3]float64, bool) {
	n := tr.Count()
	if n == 0 {
		return [3]float64{}, false
	}
	i := sort.Search(n, func(i int) bool { return tr.At(i).T >= t })
	switch {
	case i == n:
		return [3]float64{}, false
	case tr.At(i).T == t:
		return tr.At(i).Pos, true
	case i == 0:
		return [3]float64{}, false
	}
	a, b := tr.At(i-1), tr.At(i)
	f := (t - a.T) / (b.T - a.T)
	var p [3]float64
	for k := range p {
		p[k] = a.Pos[k] + f*(b.Pos[k]-a.Pos[k])
	}
	return p, true
}

// Recent returns the last (up to three) appended samples, oldest first,
// whether or not they were kept.
func (tr *Trajectory) Recent() []Sample {
	r := tr.last.Load()
	return append([]Sample(nil), r.s[:r.n]...)
}

// Velocity estimates the velocity from the last two appended samples, in km/s.
func (tr *Trajectory) Velocity() ([3]float64, bool) {
	r := tr.last.Load()
	if r.n < 2 {
		return [3]float64{}, false
	}
	return diff(r.s[r.n-2], r.s[r.n-1]), true
}

// Acceleration estimates the acceleration from the last three appended
// samples, in km/s^2.
func (tr *Trajectory) Acceleration() ([3]float64, bool) {
	r := tr.last.Load()
	if r.n < 3 {
		return [3]float64{}, false
	}
	v0, v1 := diff(r.s[0], r.s[1]), diff(r.s[1], r.s[2])
	dt := (r.s[2].T - r.s[0].T) / 2
	var a [3]float64
	for k := range a {
		a[k] = (v1[k] - v0[k]) / dt
	}
	return a, true
}

func diff(a, b Sample) [3]float64 {
	dt := b.T - a.T
	var v [3]float64
	for k := range v {
		v[k] = (b.Pos[k] - a.Pos[k]) / dt
	}
	return v
}
