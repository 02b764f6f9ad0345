package spk

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	// TypeChebyshevPosition is SPK data type II: position coefficients only.
	TypeChebyshevPosition = 2
	// TypeChebyshevState is SPK data type III: position and velocity coefficients.
	TypeChebyshevState = 3

	footerWords = 4
)

// Summary is the per segment metadata of a kernel.
type Summary struct {
	Target, Center     int
	Begin, End         float64 // TDB seconds past J2000
	Frame              int
	DataType           int
	StartAddr, EndAddr int // 1-based double word addresses
}

// Covers returns whether [begin, end] lies within the segment.
func (s Summary) Covers(begin, end float64) bool {
	return begin <= end && s.Begin <= begin && s.End >= end
}

func (s Summary) String() string {
	return fmt.Sprintf("%d wrt %d [%.1f, %.1f] type %d", s.Target, s.Center, s.Begin, s.End, s.DataType)
}

// Footer is the trailing directory of a Chebyshev segment.
type Footer struct {
	Init     float64 // start of the first record
	Interval float64 // length of each record's interval, in seconds
	RecSize  int     // words per record
	Count    int     // number of records
}

// LoadEphemeris decodes the Chebyshev records of target needed to cover
// [begin, end]. The interval is never clamped: a segment which does not
// cover it yields ErrTimeRangeOutOfBounds.
func (kf *KernelFile) LoadEphemeris(target int, begin, end float64) (*Ephemeris, error) {
	s, err := kf.Covering(target, begin, end)
	if err != nil {
		return nil, err
	}
	return kf.LoadSegment(s, begin, end)
}

// LoadSegment is LoadEphemeris for an already selected summary.
func (kf *KernelFile) LoadSegment(s Summary, begin, end float64) (*Ephemeris, error) {
	if !s.Covers(begin, end) {
		return nil, fmt.Errorf("%s: %s does not cover [%f, %f]: %w", kf.path, s, begin, end, ErrTimeRangeOutOfBounds)
	}
	var components int
	switch s.DataType {
	case TypeChebyshevPosition:
		components = 3
	case TypeChebyshevState:
		components = 6
	default:
		return nil, &UnsupportedDataTypeError{Target: s.Target, DataType: s.DataType}
	}
	ft, err := kf.footer(s)
	if err != nil {
		return nil, err
	}
	if ft.Interval <= 0 || ft.Count <= 0 || (ft.RecSize-2)%components != 0 {
		return nil, formatErr(kf.path, "segment %s has an invalid footer %+v", s, ft)
	}
	ncoef := (ft.RecSize - 2) / components

	first := int(math.Floor((begin - ft.Init) / ft.Interval))
	last := int(math.Floor((end - ft.Init) / ft.Interval))
	first = clampIndex(first, ft.Count)
	last = clampIndex(last, ft.Count)

	eph := &Ephemeris{
		Target:   s.Target,
		Center:   s.Center,
		Begin:    ft.Init + float64(first)*ft.Interval,
		Interval: ft.Interval,
		Elements: make([]Element, 0, last-first+1),
	}

	base := wordOffset(s.StartAddr) + int64(first)*int64(ft.RecSize)*WordLen
	size := int64(last-first+1) * int64(ft.RecSize) * WordLen
	rd := io.NewSectionReader(kf.r, base, size)
	head := make([]float64, 2)
	for i := first; i <= last; i++ {
		if err := binary.Read(rd, kf.order, head); err != nil {
			return nil, formatErr(kf.path, "record %d of %s: %s", i, s, err)
		}
		coef := make([]float64, 3*ncoef)
		if err := binary.Read(rd, kf.order, coef); err != nil {
			return nil, formatErr(kf.path, "record %d of %s: %s", i, s, err)
		}
		if components == 6 {
			// Velocity coefficients are not used: velocities come from finite differences.
			if _, err := rd.Seek(int64(3*ncoef)*WordLen, io.SeekCurrent); err != nil {
				return nil, formatErr(kf.path, "record %d of %s: %s", i, s, err)
			}
		}
		eph.Elements = append(eph.Elements, Element{
			Mid:  head[0],
			Half: head[1],
			X:    coef[0:ncoef:ncoef],
			Y:    coef[ncoef : 2*ncoef : 2*ncoef],
			Z:    coef[2*ncoef:],
		})
	}
	return eph, nil
}

func (kf *KernelFile) footer(s Summary) (Footer, error) {
	if s.EndAddr-footerWords+1 < s.StartAddr {
		return Footer{}, formatErr(kf.path, "segment %s is too short", s)
	}
	buf := make([]byte, footerWords*WordLen)
	if _, err := kf.r.ReadAt(buf, wordOffset(s.EndAddr-footerWords+1)); err != nil {
		return Footer{}, formatErr(kf.path, "footer of %s: %s", s, err)
	}
	return Footer{
		Init:     kf.word(buf, 0),
		Interval: kf.word(buf, 1),
		RecSize:  int(kf.word(buf, 2)),
		Count:    int(kf.word(buf, 3)),
	}, nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
