// Package orrery builds the tree of celestial bodies needed by a simulation
// and evaluates their absolute (solar system barycentric) positions.
package orrery

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	kitlog "github.com/go-kit/kit/log"

	"github.com/ChristopherRabotin/flightsim/spk"
)

// ErrBodyNotCovered is matched by every BodyNotCoveredError.
var ErrBodyNotCovered = errors.New("body not covered by any kernel")

// BodyNotCoveredError lists the bodies for which no loaded kernel provides a
// segment over the requested interval.
type BodyNotCoveredError struct {
	IDs        []BodyID
	Begin, End float64
}

func (e *BodyNotCoveredError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = fmt.Sprintf("%s (%d)", id, int(id))
	}
	return fmt.Sprintf("%s over [%.1f, %.1f]: %s", ErrBodyNotCovered, e.Begin, e.End, strings.Join(ids, ", "))
}

// Is allows errors.Is(err, ErrBodyNotCovered).
func (e *BodyNotCoveredError) Is(target error) bool {
	return target == ErrBodyNotCovered
}

type node struct {
	id       BodyID
	info     Body
	center   int // arena index of the center, -1 for the root
	children []int
	kernel   *spk.KernelFile
	summary  spk.Summary
	eph      *spk.Ephemeris
}

// Model is the dependency tree of bodies. Nodes are stored in an arena in
// evaluation order: the center of a body always has a smaller index than the
// body itself, and index 0 is the solar system barycenter.
//
// A Model is not safe for concurrent use: PositionAt and VelocityAt update
// the cached state read by Pos and Vel.
type Model struct {
	nodes      []node
	index      map[BodyID]int
	begin, end float64
	pos, vel   [][3]float64
	scratch    [][3]float64
	t          float64
}

// OpenKernels loads every kernel in paths. Kernels which fail to load are
// logged and skipped.
func OpenKernels(paths []string, logger kitlog.Logger) []*spk.KernelFile {
	kernels := make([]*spk.KernelFile, 0, len(paths))
	for _, path := range paths {
		kf, err := spk.Load(path)
		if err != nil {
			logger.Log("level", "error", "subsys", "spk", "kernel", path, "err", err)
			continue
		}
		logger.Log("level", "info", "subsys", "spk", "kernel", path, "segments", len(kf.Summaries()))
		kernels = append(kernels, kf)
	}
	return kernels
}

// Build computes the closure of requested under the "is centered on"
// relation, assigns to each body the first segment (in kernel order) covering
// [begin, end], loads the ephemerides and orders the bodies so that centers
// come before the bodies orbiting them.
func Build(requested []BodyID, kernels []*spk.KernelFile, begin, end float64, logger kitlog.Logger) (*Model, error) {
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	var arena []node
	index := make(map[BodyID]int)
	add := func(id BodyID) {
		if _, ok := index[id]; ok {
			return
		}
		index[id] = len(arena)
		arena = append(arena, node{id: id, info: Info(id), center: -1})
	}
	add(Root)
	for _, id := range requested {
		add(id)
	}

	warned := make(map[spk.Summary]bool)
	for changed := true; changed; {
		changed = false
		for _, kf := range kernels {
			for _, s := range kf.Summaries() {
				idx, ok := index[BodyID(s.Target)]
				if !ok || idx == 0 || arena[idx].kernel != nil {
					continue
				}
				if !s.Covers(begin, end) {
					continue
				}
				if s.DataType != spk.TypeChebyshevPosition && s.DataType != spk.TypeChebyshevState {
					if warned[s] {
						continue
					}
					warned[s] = true
					logger.Log("level", "warning", "subsys", "orrery", "kernel", kf.Path(), "segment", s, "err", spk.ErrUnsupportedDataType)
					continue
				}
				arena[idx].kernel = kf
				arena[idx].summary = s
				add(BodyID(s.Center))
				changed = true
			}
		}
	}

	var missing []BodyID
	for i := 1; i < len(arena); i++ {
		if arena[i].kernel == nil {
			missing = append(missing, arena[i].id)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return nil, &BodyNotCoveredError{IDs: missing, Begin: begin, End: end}
	}

	for i := 1; i < len(arena); i++ {
		c := index[BodyID(arena[i].summary.Center)]
		arena[i].center = c
		arena[c].children = append(arena[c].children, i)
	}

	order := make([]int, 0, len(arena))
	queue := []int{0}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		children := arena[i].children
		sort.Slice(children, func(a, b int) bool { return arena[children[a]].id < arena[children[b]].id })
		queue = append(queue, children...)
	}
	if len(order) != len(arena) {
		return nil, fmt.Errorf("orrery: %d bodies do not descend from the solar system barycenter", len(arena)-len(order))
	}

	// Rebuild the arena in evaluation order.
	remap := make([]int, len(arena))
	for newIdx, oldIdx := range order {
		remap[oldIdx] = newIdx
	}
	m := &Model{
		nodes:   make([]node, len(arena)),
		index:   make(map[BodyID]int, len(arena)),
		begin:   begin,
		end:     end,
		pos:     make([][3]float64, len(arena)),
		vel:     make([][3]float64, len(arena)),
		scratch: make([][3]float64, len(arena)),
	}
	for newIdx, oldIdx := range order {
		n := arena[oldIdx]
		if n.center >= 0 {
			n.center = remap[n.center]
		}
		children := make([]int, len(n.children))
		for k, c := range n.children {
			children[k] = remap[c]
		}
		n.children = children
		m.nodes[newIdx] = n
		m.index[n.id] = newIdx
	}

	for i := 1; i < len(m.nodes); i++ {
		n := &m.nodes[i]
		eph, err := n.kernel.LoadSegment(n.summary, begin, end)
		if err != nil {
			return nil, fmt.Errorf("orrery: loading %s: %w", n.id, err)
		}
		n.eph = eph
		logger.Log("level", "debug", "subsys", "orrery", "body", n.id, "center", m.nodes[n.center].id, "kernel", n.kernel.Path(), "elements", len(eph.Elements))
	}
	logger.Log("level", "info", "subsys", "orrery", "bodies", len(m.nodes), "begin", begin, "end", end)
	return m, nil
}

// Len returns the number of bodies, including the root.
func (m *Model) Len() int {
	return len(m.nodes)
}

// IdxOf returns the arena index of id.
func (m *Model) IdxOf(id BodyID) (int, bool) {
	i, ok := m.index[id]
	return i, ok
}

// ID returns the body id at idx.
func (m *Model) ID(idx int) BodyID {
	return m.nodes[idx].id
}

// Name returns the display name of the body at idx.
func (m *Model) Name(idx int) string {
	return m.nodes[idx].info.Name
}

// GM returns the gravitational parameter of the body at idx, in km^3/s^2.
func (m *Model) GM(idx int) float64 {
	return m.nodes[idx].info.GM
}

// Radius returns the mean radius of the body at idx, in km.
func (m *Model) Radius(idx int) float64 {
	return m.nodes[idx].info.Radius
}

// CenterOf returns the index of the center of the body at idx, or -1 for the root.
func (m *Model) CenterOf(idx int) int {
	return m.nodes[idx].center
}

// Children returns the indices of the bodies centered on idx.
func (m *Model) Children(idx int) []int {
	return m.nodes[idx].children
}

// Bodies returns all body ids in evaluation order.
func (m *Model) Bodies() []BodyID {
	ids := make([]BodyID, len(m.nodes))
	for i, n := range m.nodes {
		ids[i] = n.id
	}
	return ids
}

// Gravitating returns the indices of the non-barycenter bodies.
func (m *Model) Gravitating() []int {
	var out []int
	for i, n := range m.nodes {
		if !n.id.IsBarycenter() {
			out = append(out, i)
		}
	}
	return out
}

// Span returns the interval the model was built for.
func (m *Model) Span() (begin, end float64) {
	return m.begin, m.end
}

// Serves returns whether the model covers [begin, end] and contains every
// body in ids. Such a model can be reused instead of rebuilt.
func (m *Model) Serves(ids []BodyID, begin, end float64) bool {
	if begin < m.begin || end > m.end {
		return false
	}
	for _, id := range ids {
		if _, ok := m.index[id]; !ok {
			return false
		}
	}
	return true
}

// Kernels returns the paths of the kernels providing at least one segment.
func (m *Model) Kernels() []string {
	seen := make(map[string]bool)
	var paths []string
	for _, n := range m.nodes[1:] {
		if p := n.kernel.Path(); !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	return paths
}

func (m *Model) evalInto(dst [][3]float64, t float64) {
	dst[0] = [3]float64{}
	for i := 1; i < len(m.nodes); i++ {
		rel := m.nodes[i].eph.Position(t)
		c := dst[m.nodes[i].center]
		dst[i] = [3]float64{c[0] + rel[0], c[1] + rel[1], c[2] + rel[2]}
	}
}

// PositionAt updates the absolute position of every body to time t.
func (m *Model) PositionAt(t float64) {
	m.evalInto(m.pos, t)
	m.t = t
}

// VelocityAt updates positions to t and velocities by forward finite
// difference over dt seconds.
func (m *Model) VelocityAt(t, dt float64) {
	m.evalInto(m.scratch, t+dt)
	m.PositionAt(t)
	for i := range m.vel {
		for k := 0; k < 3; k++ {
			m.vel[i][k] = (m.scratch[i][k] - m.pos[i][k]) / dt
		}
	}
}

// Time returns the time of the last PositionAt or VelocityAt call.
func (m *Model) Time() float64 {
	return m.t
}

// Pos returns the absolute position of the body at idx, in km.
func (m *Model) Pos(idx int) [3]float64 {
	return m.pos[idx]
}

// Vel returns the absolute velocity of the body at idx, in km/s, as of the
// last VelocityAt call.
func (m *Model) Vel(idx int) [3]float64 {
	return m.vel[idx]
}
