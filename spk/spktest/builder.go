// Package spktest writes synthetic SPK kernels for tests.
package spktest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/ChristopherRabotin/flightsim/spk"
)

// Record is one Chebyshev record. VX/VY/VZ are only written for type III segments.
type Record struct {
	Mid, Half  float64
	X, Y, Z    []float64
	VX, VY, VZ []float64
}

// Segment is a Chebyshev segment. Begin and End default to the span of the
// records when both are zero.
type Segment struct {
	Target, Center int
	Frame          int
	Type           int
	Init, Interval float64
	Begin, End     float64
	Records        []Record
}

// Builder assembles a kernel. Zero values produce a valid little-endian file.
type Builder struct {
	Order      binary.ByteOrder
	Name       string
	Comments   []string
	Segments   []Segment
	PerRecord  int // summaries per summary record (default: as many as fit)
	ArchTag    string
	ND, NI     int
	FTP        []byte
	DataOffset int // extra words between summaries and data, for address checks
}

const maxPerRecord = (spk.RecordLen/spk.WordLen - 3) / 5

// Bytes returns the kernel image.
func (b *Builder) Bytes() ([]byte, error) {
	order := b.Order
	if order == nil {
		order = binary.LittleEndian
	}
	perRecord := b.PerRecord
	if perRecord <= 0 || perRecord > maxPerRecord {
		perRecord = maxPerRecord
	}
	for i, s := range b.Segments {
		if len(s.Records) == 0 {
			return nil, fmt.Errorf("segment %d has no records", i)
		}
	}

	commentRecs := 0
	var comment []byte
	if len(b.Comments) > 0 {
		for i, line := range b.Comments {
			if i > 0 {
				comment = append(comment, 0)
			}
			comment = append(comment, line...)
		}
		comment = append(comment, 4)
		commentRecs = (len(comment) + spk.CommentRecordLen - 1) / spk.CommentRecordLen
	}
	summaryRecs := (len(b.Segments) + perRecord - 1) / perRecord
	if summaryRecs == 0 {
		summaryRecs = 1
	}
	forward := 2 + commentRecs
	// Each summary record is followed by its name record.
	dataRecord := forward + 2*summaryRecs
	nextAddr := (dataRecord-1)*(spk.RecordLen/spk.WordLen) + 1 + b.DataOffset

	type placed struct {
		sum  spk.Summary
		data []float64
	}
	segs := make([]placed, len(b.Segments))
	for i, s := range b.Segments {
		data, err := segmentWords(s)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		begin, end := s.Begin, s.End
		if begin == 0 && end == 0 {
			begin = s.Init
			end = s.Init + s.Interval*float64(len(s.Records))
		}
		segs[i] = placed{
			sum: spk.Summary{
				Target: s.Target, Center: s.Center, Begin: begin, End: end,
				Frame: s.Frame, DataType: s.Type,
				StartAddr: nextAddr, EndAddr: nextAddr + len(data) - 1,
			},
			data: data,
		}
		nextAddr += len(data)
	}

	totalWords := nextAddr - 1
	size := (totalWords*spk.WordLen + spk.RecordLen - 1) / spk.RecordLen * spk.RecordLen
	if min := (dataRecord - 1) * spk.RecordLen; size < min {
		size = min
	}
	img := make([]byte, size)

	// File record.
	arch := b.ArchTag
	if arch == "" {
		arch = spk.ArchTag
	}
	nd, ni := b.ND, b.NI
	if nd == 0 && ni == 0 {
		nd, ni = spk.SummaryDoubles, spk.SummaryInts
	}
	copy(img[0:8], fmt.Sprintf("%-8s", arch))
	order.PutUint32(img[8:12], uint32(int32(nd)))
	order.PutUint32(img[12:16], uint32(int32(ni)))
	copy(img[16:76], fmt.Sprintf("%-60s", b.Name))
	order.PutUint32(img[76:80], uint32(int32(forward)))
	order.PutUint32(img[80:84], uint32(int32(forward+2*(summaryRecs-1))))
	order.PutUint32(img[84:88], uint32(int32(nextAddr)))
	if order == binary.BigEndian {
		copy(img[88:96], spk.FormatBig)
	} else {
		copy(img[88:96], spk.FormatLittle)
	}
	ftp := b.FTP
	if ftp == nil {
		ftp = spk.FTPString
	}
	copy(img[699:699+len(ftp)], ftp)

	// Comment area.
	for i := 0; i < commentRecs; i++ {
		chunk := comment[i*spk.CommentRecordLen:]
		if len(chunk) > spk.CommentRecordLen {
			chunk = chunk[:spk.CommentRecordLen]
		}
		copy(img[(1+i)*spk.RecordLen:], chunk)
	}

	// Summary chain.
	for r := 0; r < summaryRecs; r++ {
		recNo := forward + 2*r
		rec := img[(recNo-1)*spk.RecordLen : recNo*spk.RecordLen]
		next, prev := 0, 0
		if r < summaryRecs-1 {
			next = recNo + 2
		}
		if r > 0 {
			prev = recNo - 2
		}
		lo := r * perRecord
		hi := lo + perRecord
		if hi > len(segs) {
			hi = len(segs)
		}
		putWord(order, rec, 0, float64(next))
		putWord(order, rec, 1, float64(prev))
		putWord(order, rec, 2, float64(hi-lo))
		for i, p := range segs[lo:hi] {
			off := (3 + i*5) * spk.WordLen
			putWord(order, rec[off:], 0, p.sum.Begin)
			putWord(order, rec[off:], 1, p.sum.End)
			ints := []int{p.sum.Target, p.sum.Center, p.sum.Frame, p.sum.DataType, p.sum.StartAddr, p.sum.EndAddr}
			for k, v := range ints {
				order.PutUint32(rec[off+16+4*k:], uint32(int32(v)))
			}
		}
		name := img[recNo*spk.RecordLen : (recNo+1)*spk.RecordLen]
		for i := range name {
			name[i] = ' '
		}
	}

	// Data.
	for _, p := range segs {
		for k, w := range p.data {
			off := (p.sum.StartAddr - 1 + k) * spk.WordLen
			order.PutUint64(img[off:], math.Float64bits(w))
		}
	}
	return img, nil
}

// WriteFile writes the kernel image to path.
func (b *Builder) WriteFile(path string) error {
	img, err := b.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, img, 0o644)
}

// Reader returns the kernel image as a bytes.Reader.
func (b *Builder) Reader() (*bytes.Reader, error) {
	img, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(img), nil
}

func segmentWords(s Segment) ([]float64, error) {
	ncoef := len(s.Records[0].X)
	components := 3
	if s.Type == spk.TypeChebyshevState {
		components = 6
	}
	rsize := 2 + components*ncoef
	data := make([]float64, 0, rsize*len(s.Records)+4)
	for i, r := range s.Records {
		if len(r.X) != ncoef || len(r.Y) != ncoef || len(r.Z) != ncoef {
			return nil, fmt.Errorf("record %d: coefficient count differs from %d", i, ncoef)
		}
		data = append(data, r.Mid, r.Half)
		data = append(data, r.X...)
		data = append(data, r.Y...)
		data = append(data, r.Z...)
		if components == 6 {
			for _, v := range [][]float64{r.VX, r.VY, r.VZ} {
				if v == nil {
					v = make([]float64, ncoef)
				}
				if len(v) != ncoef {
					return nil, fmt.Errorf("record %d: velocity coefficient count differs from %d", i, ncoef)
				}
				data = append(data, v...)
			}
		}
	}
	data = append(data, s.Init, s.Interval, float64(rsize), float64(len(s.Records)))
	return data, nil
}

func putWord(order binary.ByteOrder, b []byte, i int, v float64) {
	order.PutUint64(b[i*spk.WordLen:], math.Float64bits(v))
}

// Fixed returns a type II segment holding target at a constant position
// relative to center over [begin, end], split into n records.
func Fixed(target, center int, pos [3]float64, begin, end float64, n int) Segment {
	return Linear(target, center, pos, [3]float64{}, begin, end, n)
}

// Linear returns a type II segment moving target along pos + vel*t over
// [begin, end], t in seconds past J2000, using degree one records.
func Linear(target, center int, pos, vel [3]float64, begin, end float64, n int) Segment {
	if n < 1 {
		n = 1
	}
	interval := (end - begin) / float64(n)
	seg := Segment{Target: target, Center: center, Frame: 1, Type: spk.TypeChebyshevPosition, Init: begin, Interval: interval}
	for i := 0; i < n; i++ {
		half := interval / 2
		mid := begin + float64(i)*interval + half
		rec := Record{Mid: mid, Half: half}
		coef := func(k int) []float64 {
			return []float64{pos[k] + vel[k]*mid, vel[k] * half}
		}
		rec.X, rec.Y, rec.Z = coef(0), coef(1), coef(2)
		seg.Records = append(seg.Records, rec)
	}
	return seg
}
