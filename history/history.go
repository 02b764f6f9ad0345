// Package history keeps the downsampled trajectory of every simulated body
// and hands it to concurrent readers without blocking the simulation.
//
// The simulation appends from a single goroutine. Readers (a display, a
// live feed) poll Serial: when it changes, the simulation was restarted and
// every cached sample must be dropped. Within one serial, samples below
// Count are immutable.
package history

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	kitlog "github.com/go-kit/kit/log"
)

// LockFile is the advisory lock file created in the output directory.
const LockFile = ".flightsim.lock"

var (
	// ErrLocked is returned when another process writes to the output directory.
	ErrLocked = errors.New("output directory locked by another process")
	// ErrUnknownBody is returned for an index outside of the current generation.
	ErrUnknownBody = errors.New("no trajectory for body")
)

// Options configures a History.
type Options struct {
	Ratio        float64 // curvature threshold, e.g. 1.0005
	Linear       float64 // straight line deviation threshold in km
	Dir          string  // output directory, empty to keep samples in memory only
	FlushRecords int     // samples per flusher buffer
	Logger       kitlog.Logger
}

type generation struct {
	serial uint64
	tracks []*Trajectory
	index  map[int]int
}

// History holds one Trajectory per body for the current generation.
type History struct {
	opts    Options
	logger  kitlog.Logger
	lock    *DirLock
	flusher atomic.Pointer[Flusher]
	gen     atomic.Pointer[generation]
	serial  atomic.Uint64

	kept, dropped atomic.Uint64
}

// New returns an empty History. When opts.Dir is set it must exist and is
// locked until Close.
func New(opts Options) (*History, error) {
	if opts.Logger == nil {
		opts.Logger = kitlog.NewNopLogger()
	}
	if opts.Ratio <= 1 {
		opts.Ratio = 1.0005
	}
	if opts.Linear <= 0 {
		opts.Linear = 100
	}
	h := &History{opts: opts, logger: kitlog.With(opts.Logger, "subsys", "history")}
	if opts.Dir != "" {
		info, err := os.Stat(opts.Dir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", opts.Dir)
		}
		if h.lock, err = LockDir(opts.Dir); err != nil {
			return nil, err
		}
	}
	h.gen.Store(&generation{index: map[int]int{}})
	return h, nil
}

// Reset finalizes the current generation and starts a new one tracking ids,
// in this order. Trajectory files of the previous run are overwritten.
// It returns the new serial.
func (h *History) Reset(ids []int) (uint64, error) {
	var err error
	if f := h.flusher.Swap(nil); f != nil {
		h.finalize()
		err = f.Close()
	}
	var sink func(int, Sample)
	if h.opts.Dir != "" {
		f := NewFlusher(h.opts.Dir, h.opts.FlushRecords, h.logger)
		h.flusher.Store(f)
		sink = f.Write
	}
	serial := h.serial.Add(1)
	g := &generation{serial: serial, tracks: make([]*Trajectory, len(ids)), index: make(map[int]int, len(ids))}
	for i, id := range ids {
		g.tracks[i] = newTrajectory(id, h.opts.Ratio, h.opts.Linear, sink)
		g.index[id] = i
	}
	h.gen.Store(g)
	h.logger.Log("level", "info", "serial", serial, "bodies", len(ids))
	return serial, err
}

// Append records the position of the body at idx (the order given to Reset).
func (h *History) Append(idx int, t float64, pos [3]float64) {
	if h.gen.Load().tracks[idx].Append(t, pos) {
		h.kept.Add(1)
	} else {
		h.dropped.Add(1)
	}
}

// Sync forces every sample kept so far to disk.
func (h *History) Sync() error {
	f := h.flusher.Load()
	if f == nil {
		return nil
	}
	return f.Sync()
}

// Finalize records the endpoint of every trajectory and syncs.
func (h *History) Finalize() error {
	h.finalize()
	return h.Sync()
}

func (h *History) finalize() {
	for _, tr := range h.gen.Load().tracks {
		tr.Finalize()
	}
}

// Close finalizes the trajectories, stops the flusher and releases the lock.
func (h *History) Close() error {
	var errs []error
	if f := h.flusher.Swap(nil); f != nil {
		h.finalize()
		errs = append(errs, f.Close())
	}
	errs = append(errs, h.lock.Unlock())
	return errors.Join(errs...)
}

// Serial returns the current generation number. It changes on every Reset.
func (h *History) Serial() uint64 {
	return h.serial.Load()
}

// IDs returns the body ids of the current generation, by index.
func (h *History) IDs() []int {
	g := h.gen.Load()
	ids := make([]int, len(g.tracks))
	for i, tr := range g.tracks {
		ids[i] = tr.ID
	}
	return ids
}

// IdxOf returns the index of body id in the current generation.
func (h *History) IdxOf(id int) (int, bool) {
	i, ok := h.gen.Load().index[id]
	return i, ok
}

// Trajectory returns the trajectory at idx along with the serial it belongs to.
func (h *History) Trajectory(idx int) (*Trajectory, uint64, error) {
	g := h.gen.Load()
	if idx < 0 || idx >= len(g.tracks) {
		return nil, g.serial, fmt.Errorf("%w: index %d", ErrUnknownBody, idx)
	}
	return g.tracks[idx], g.serial, nil
}

// Count returns the number of published samples of the body at idx.
func (h *History) Count(idx int) int {
	tr, _, err := h.Trajectory(idx)
	if err != nil {
		return 0
	}
	return tr.Count()
}

// Snapshot returns a copy of the published samples at idx and their serial.
func (h *History) Snapshot(idx int) (uint64, []Sample, error) {
	tr, serial, err := h.Trajectory(idx)
	if err != nil {
		return serial, nil, err
	}
	return serial, tr.Samples(), nil
}

// PositionAt interpolates the trajectory at idx at time t.
func (h *History) PositionAt(idx int, t float64) ([3]float64, bool) {
	tr, _, err := h.Trajectory(idx)
	if err != nil {
		return [3]float64{}, false
	}
	return tr.PositionAt(t)
}

// Stats returns the number of kept and dropped samples since New, and the
// number of samples written to disk by the current flusher.
func (h *History) Stats() (kept, dropped, written uint64) {
	if f := h.flusher.Load(); f != nil {
		written = f.Written()
	}
	return h.kept.Load(), h.dropped.Load(), written
}
