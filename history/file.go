package history

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FileExt is the extension of trajectory files, one per body.
const FileExt = ".traj"

const (
	burstHeaderLen = 8  // id int32, count uint32
	recordLen      = 32 // t, x, y, z float64
)

// ErrCorrupted is returned when a trajectory file ends in the middle of a burst.
var ErrCorrupted = errors.New("corrupted trajectory file")

// Sample is a retained (time, position) pair.
type Sample struct {
	T   float64    // seconds past J2000
	Pos [3]float64 // km, solar system barycentric
}

// FileName returns the name of the trajectory file of body id.
func FileName(id int) string {
	return strconv.Itoa(id) + FileExt
}

// WriteBurst appends one burst (header then records) to w, little endian.
func WriteBurst(w io.Writer, id int, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	buf := make([]byte, burstHeaderLen+recordLen*len(samples))
	binary.LittleEndian.PutUint32(buf[0:], uint32(int32(id)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(samples)))
	off := burstHeaderLen
	for _, s := range samples {
		for _, v := range [4]float64{s.T, s.Pos[0], s.Pos[1], s.Pos[2]} {
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
			off += 8
		}
	}
	_, err := w.Write(buf)
	return err
}

// ReadBursts reads every burst of r, in order. Bursts of all ids are
// returned concatenated; the id of the first burst is returned as well.
func ReadBursts(r io.Reader) (int, []Sample, error) {
	br := bufio.NewReader(r)
	var (
		id      int
		samples []Sample
		head    [burstHeaderLen]byte
		rec     [recordLen]byte
	)
	for burst := 0; ; burst++ {
		if _, err := io.ReadFull(br, head[:]); err != nil {
			if err == io.EOF {
				return id, samples, nil
			}
			return id, samples, fmt.Errorf("%w: burst %d header: %s", ErrCorrupted, burst, err)
		}
		bid := int(int32(binary.LittleEndian.Uint32(head[0:])))
		if burst == 0 {
			id = bid
		} else if bid != id {
			return id, samples, fmt.Errorf("%w: burst %d is for body %d, not %d", ErrCorrupted, burst, bid, id)
		}
		n := binary.LittleEndian.Uint32(head[4:])
		for i := uint32(0); i < n; i++ {
			if _, err := io.ReadFull(br, rec[:]); err != nil {
				return id, samples, fmt.Errorf("%w: burst %d record %d: %s", ErrCorrupted, burst, i, err)
			}
			var s Sample
			s.T = math.Float64frombits(binary.LittleEndian.Uint64(rec[0:]))
			for k := 0; k < 3; k++ {
				s.Pos[k] = math.Float64frombits(binary.LittleEndian.Uint64(rec[8+8*k:]))
			}
			samples = append(samples, s)
		}
	}
}

// ReadFile reads the trajectory file at path.
func ReadFile(path string) (int, []Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	return ReadBursts(f)
}

// ReadDir reads every trajectory file of dir, keyed by body id.
func ReadDir(dir string) (map[int][]Sample, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+FileExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make(map[int][]Sample, len(paths))
	for _, path := range paths {
		if _, err := strconv.Atoi(strings.TrimSuffix(filepath.Base(path), FileExt)); err != nil {
			continue
		}
		id, samples, err := ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out[id] = append(out[id], samples...)
	}
	return out, nil
}
