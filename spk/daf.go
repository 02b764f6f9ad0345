// Package spk reads NASA/JPL SPK ephemeris kernels stored in the DAF
// (Double precision Array File) container and evaluates their Chebyshev
// position segments.
//
// All times are TDB seconds past the J2000 epoch and all positions are in km,
// which is what the kernels store natively.
package spk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
)

const (
	// RecordLen is the size of every DAF physical record.
	RecordLen = 1024
	// WordLen is the size of a DAF double precision word.
	WordLen = 8
	// CommentRecordLen is the number of characters used in each comment record.
	CommentRecordLen = 1000

	// ArchTag is the only architecture/identification word accepted.
	ArchTag = "DAF/SPK "
	// FormatLittle and FormatBig are the binary format tags of the header.
	FormatLittle = "LTL-IEEE"
	FormatBig    = "BIG-IEEE"

	// SummaryDoubles (ND) and SummaryInts (NI) are fixed for SPK files.
	SummaryDoubles = 2
	SummaryInts    = 6

	ftpOffset     = 699
	commentSep    = '\x00'
	commentEnd    = '\x04'
	summaryHeader = 3 // next, prev and count words
)

// FTPString is the integrity string every kernel header carries. A kernel
// transferred in text mode will not match it.
var FTPString = []byte("FTPSTR:\r:\n:\r\n:\r\x00:\x81:\x10\xce:ENDFTP")

// summaryWords is the size of one packed summary in double words.
const summaryWords = SummaryDoubles + (SummaryInts+1)/2

// Header is the decoded file record.
type Header struct {
	ArchTag  string
	ND, NI   int
	Name     string
	Forward  int // first summary record
	Backward int // last summary record
	Free     int // first free word address
	Format   string
}

// KernelFile is an opened kernel with its summary index.
// It is safe for concurrent LoadEphemeris calls.
type KernelFile struct {
	path      string
	r         io.ReaderAt
	closer    io.Closer
	order     binary.ByteOrder
	header    Header
	comments  []string
	summaries map[int][]Summary
}

// Load opens and indexes the kernel at path. Any header or integrity mismatch
// is returned as a *FileFormatError and the file is closed.
func Load(path string) (*KernelFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	kf, err := NewKernelFile(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	kf.closer = f
	return kf, nil
}

// NewKernelFile indexes a kernel from any io.ReaderAt. The name is only used in errors.
func NewKernelFile(r io.ReaderAt, name string) (*KernelFile, error) {
	kf := &KernelFile{path: name, r: r, summaries: make(map[int][]Summary)}
	if err := kf.readHeader(); err != nil {
		return nil, err
	}
	if err := kf.readComments(); err != nil {
		return nil, err
	}
	if err := kf.readSummaries(); err != nil {
		return nil, err
	}
	return kf, nil
}

// Close releases the underlying file, if any.
func (kf *KernelFile) Close() error {
	if kf.closer == nil {
		return nil
	}
	return kf.closer.Close()
}

// Path returns the path (or name) the kernel was loaded from.
func (kf *KernelFile) Path() string {
	return kf.path
}

// Header returns the decoded file record.
func (kf *KernelFile) Header() Header {
	return kf.header
}

// Comments returns the comment area, one entry per line.
func (kf *KernelFile) Comments() []string {
	return kf.comments
}

// Summaries returns every segment summary ordered by target then start time.
func (kf *KernelFile) Summaries() []Summary {
	var all []Summary
	for _, segs := range kf.summaries {
		all = append(all, segs...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Target != all[j].Target {
			return all[i].Target < all[j].Target
		}
		return all[i].Begin < all[j].Begin
	})
	return all
}

// Segments returns the summaries of a target, in file order.
func (kf *KernelFile) Segments(target int) []Summary {
	return kf.summaries[target]
}

// Covering returns the first summary of target which covers [begin, end].
// The error is ErrNoSegment if the target is absent and ErrTimeRangeOutOfBounds
// if it is present but no segment covers the interval.
func (kf *KernelFile) Covering(target int, begin, end float64) (Summary, error) {
	segs, ok := kf.summaries[target]
	if !ok {
		return Summary{}, fmt.Errorf("%s: target %d: %w", kf.path, target, ErrNoSegment)
	}
	for _, s := range segs {
		if s.Covers(begin, end) {
			return s, nil
		}
	}
	return Summary{}, fmt.Errorf("%s: target %d [%f, %f]: %w", kf.path, target, begin, end, ErrTimeRangeOutOfBounds)
}

func (kf *KernelFile) readHeader() error {
	rec := make([]byte, RecordLen)
	if _, err := kf.r.ReadAt(rec, 0); err != nil {
		return formatErr(kf.path, "short file record: %s", err)
	}
	h := Header{ArchTag: string(rec[0:8]), Format: string(rec[88:96])}
	if h.ArchTag != ArchTag {
		return formatErr(kf.path, "architecture tag %q is not %q", h.ArchTag, ArchTag)
	}
	switch h.Format {
	case FormatLittle:
		kf.order = binary.LittleEndian
	case FormatBig:
		kf.order = binary.BigEndian
	default:
		return formatErr(kf.path, "unknown binary format %q", h.Format)
	}
	h.ND = int(int32(kf.order.Uint32(rec[8:12])))
	h.NI = int(int32(kf.order.Uint32(rec[12:16])))
	if h.ND != SummaryDoubles || h.NI != SummaryInts {
		return formatErr(kf.path, "ND/NI is %d/%d instead of %d/%d", h.ND, h.NI, SummaryDoubles, SummaryInts)
	}
	h.Name = strings.TrimRight(string(rec[16:76]), " \x00")
	h.Forward = int(int32(kf.order.Uint32(rec[76:80])))
	h.Backward = int(int32(kf.order.Uint32(rec[80:84])))
	h.Free = int(int32(kf.order.Uint32(rec[84:88])))
	if !bytes.Equal(rec[ftpOffset:ftpOffset+len(FTPString)], FTPString) {
		return formatErr(kf.path, "FTP integrity string mismatch (file damaged by a text-mode transfer?)")
	}
	if h.Forward < 2 {
		return formatErr(kf.path, "first summary record %d is invalid", h.Forward)
	}
	kf.header = h
	return nil
}

func (kf *KernelFile) readComments() error {
	var text []byte
	rec := make([]byte, CommentRecordLen)
	for n := 2; n < kf.header.Forward; n++ {
		if _, err := kf.r.ReadAt(rec, recordOffset(n)); err != nil {
			return formatErr(kf.path, "comment record %d: %s", n, err)
		}
		if end := bytes.IndexByte(rec, commentEnd); end >= 0 {
			text = append(text, rec[:end]...)
			break
		}
		text = append(text, rec...)
	}
	if len(text) == 0 {
		return nil
	}
	kf.comments = strings.Split(string(text), string(commentSep))
	return nil
}

func (kf *KernelFile) readSummaries() error {
	rec := make([]byte, RecordLen)
	visited := make(map[int]bool)
	for next := kf.header.Forward; next != 0; {
		if visited[next] {
			return formatErr(kf.path, "summary chain loops on record %d", next)
		}
		visited[next] = true
		if _, err := kf.r.ReadAt(rec, recordOffset(next)); err != nil {
			return formatErr(kf.path, "summary record %d: %s", next, err)
		}
		nextF := kf.word(rec, 0)
		count := int(kf.word(rec, 2))
		if count < 0 || summaryHeader+count*summaryWords > RecordLen/WordLen {
			return formatErr(kf.path, "summary record %d claims %d summaries", next, count)
		}
		for i := 0; i < count; i++ {
			start := (summaryHeader + i*summaryWords) * WordLen
			s := kf.decodeSummary(rec[start : start+summaryWords*WordLen])
			if s.Begin > s.End {
				return formatErr(kf.path, "summary of target %d begins after it ends", s.Target)
			}
			kf.summaries[s.Target] = append(kf.summaries[s.Target], s)
		}
		next = int(nextF)
	}
	return nil
}

func (kf *KernelFile) decodeSummary(b []byte) Summary {
	ints := b[SummaryDoubles*WordLen:]
	geti := func(i int) int {
		return int(int32(kf.order.Uint32(ints[i*4 : i*4+4])))
	}
	return Summary{
		Begin:     kf.word(b, 0),
		End:       kf.word(b, 1),
		Target:    geti(0),
		Center:    geti(1),
		Frame:     geti(2),
		DataType:  geti(3),
		StartAddr: geti(4),
		EndAddr:   geti(5),
	}
}

func (kf *KernelFile) word(b []byte, i int) float64 {
	return math.Float64frombits(kf.order.Uint64(b[i*WordLen : i*WordLen+WordLen]))
}

// recordOffset returns the byte offset of the 1-based record n.
func recordOffset(n int) int64 {
	return int64(n-1) * RecordLen
}

// wordOffset returns the byte offset of the 1-based double word address.
func wordOffset(addr int) int64 {
	return int64(addr-1) * WordLen
}
