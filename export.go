package flightsim

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ChristopherRabotin/flightsim/history"
	"github.com/ChristopherRabotin/flightsim/orrery"
)

// CgCatalog is a Cosmographia catalog.
type CgCatalog struct {
	Version string     `json:"version"`
	Name    string     `json:"name"`
	Items   []*CgItems `json:"items"`
	Require []string   `json:"require,omitempty"`
}

func (c *CgCatalog) String() string {
	return c.Name + "(" + c.Version + ")"
}

// CgItems is one object of a Cosmographia catalog.
type CgItems struct {
	Class           string            `json:"class"`
	Name            string            `json:"name"`
	StartTime       string            `json:"startTime"`
	EndTime         string            `json:"endTime"`
	Center          string            `json:"center"`
	TrajectoryFrame string            `json:"trajectoryFrame"`
	Trajectory      *CgTrajectory     `json:"trajectory,omitempty"`
	Label           *CgLabel          `json:"label,omitempty"`
	TrajectoryPlot  *CgTrajectoryPlot `json:"trajectoryPlot,omitempty"`
}

// CgTrajectory references the states of an item.
type CgTrajectory struct {
	Type   string `json:"type,omitempty"`
	Source string `json:"source,omitempty"`
}

// Validate validates a CgTrajectory.
func (t *CgTrajectory) Validate() error {
	if t.Type != "InterpolatedStates" || !strings.HasSuffix(t.Source, "xyzv") {
		return errors.New("only InterpolatedStates are currently supported in Cosmographia trajectory types")
	}
	return nil
}

func (t *CgTrajectory) String() string {
	return t.Source + " as " + t.Type
}

// CgLabel definition.
type CgLabel struct {
	Color    []float64 `json:"color,omitempty"`
	FadeSize int       `json:"fadeSize,omitempty"`
	ShowText bool      `json:"showText,omitempty"`
}

// CgTrajectoryPlot definition.
type CgTrajectoryPlot struct {
	Color       []float64 `json:"color,omitempty"`
	LineWidth   int       `json:"lineWidth,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	Lead        string    `json:"lead,omitempty"`
	Fade        int       `json:"fade,omitempty"`
	SampleCount int       `json:"sampleCount,omitempty"`
}

// CgInterpolatedState is one record of an xyzv file.
type CgInterpolatedState struct {
	JD       float64
	Position Vec3
	Velocity Vec3
}

// FromText initializes from a record of seven fields.
func (i *CgInterpolatedState) FromText(record []string) error {
	if len(record) != 7 {
		return fmt.Errorf("expected 7 fields, got %d", len(record))
	}
	var vals [7]float64
	for k, s := range record {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		vals[k] = v
	}
	i.JD = vals[0]
	i.Position = Vec3{vals[1], vals[2], vals[3]}
	i.Velocity = Vec3{vals[4], vals[5], vals[6]}
	return nil
}

// ToText converts to text for written output.
func (i *CgInterpolatedState) ToText() string {
	return fmt.Sprintf("%f %f %f %f %f %f %f", i.JD, i.Position[0], i.Position[1], i.Position[2], i.Velocity[0], i.Velocity[1], i.Velocity[2])
}

// ParseInterpolatedStates reads the records of an xyzv file.
func ParseInterpolatedStates(r io.Reader) ([]*CgInterpolatedState, error) {
	var states []*CgInterpolatedState
	cr := csv.NewReader(r)
	cr.Comma = ' '
	cr.Comment = '#'
	for {
		record, err := cr.Read()
		if err == io.EOF {
			return states, nil
		}
		if err != nil {
			return nil, err
		}
		state := CgInterpolatedState{}
		if err := state.FromText(record); err != nil {
			return nil, err
		}
		states = append(states, &state)
	}
}

// interpolatedStates converts trajectory samples to xyzv records. Velocities
// are finite differences between consecutive samples.
func interpolatedStates(samples []history.Sample) []CgInterpolatedState {
	states := make([]CgInterpolatedState, len(samples))
	for i, s := range samples {
		states[i] = CgInterpolatedState{JD: J2000ToJD(s.T), Position: s.Pos}
		var a, b history.Sample
		switch {
		case len(samples) < 2:
			continue
		case i+1 < len(samples):
			a, b = s, samples[i+1]
		default:
			a, b = samples[i-1], s
		}
		if dt := b.T - a.T; dt > 0 {
			states[i].Velocity = scale(1/dt, sub(b.Pos, a.Pos))
		}
	}
	return states
}

func writeInterpolatedFile(path, name string, samples []history.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, `# Creation date (UTC): %s
# Object: %s
# Records are <jd> <x> <y> <z> <vel x> <vel y> <vel z>
#   Time is a TDB Julian date
#   Position in km
#   Velocity in km/sec
`, time.Now().UTC(), name)
	for _, st := range interpolatedStates(samples) {
		w.WriteString(st.ToText() + "\n")
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ExportCosmographia writes one xyzv file per trajectory and the catalog
// referencing them to dir. It returns the path of the catalog.
func ExportCosmographia(dir, name string, trajs map[int][]history.Sample) (string, error) {
	ids := make([]int, 0, len(trajs))
	for id := range trajs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	color := []float64{0.6, 1, 1}
	c := CgCatalog{Version: "1.0", Name: name}
	for _, id := range ids {
		samples := trajs[id]
		if len(samples) == 0 {
			continue
		}
		body := orrery.BodyID(id)
		source := fmt.Sprintf("%s-%d.xyzv", name, id)
		if err := writeInterpolatedFile(filepath.Join(dir, source), body.String(), samples); err != nil {
			return "", err
		}
		start, end := J2000ToTime(samples[0].T), J2000ToTime(samples[len(samples)-1].T)
		class := "spacecraft"
		if body.Class() != orrery.Ship {
			class = "body"
		}
		c.Items = append(c.Items, &CgItems{
			Class:           class,
			Name:            fmt.Sprintf("%s-%s", name, body),
			StartTime:       start.Format(time.RFC3339),
			EndTime:         end.Format(time.RFC3339),
			Center:          "SSB",
			TrajectoryFrame: "ICRF",
			Trajectory:      &CgTrajectory{Type: "InterpolatedStates", Source: source},
			Label:           &CgLabel{Color: color, FadeSize: 1000000, ShowText: true},
			TrajectoryPlot: &CgTrajectoryPlot{Color: color, LineWidth: 1, Lead: "0 d", SampleCount: 10,
				Duration: fmt.Sprintf("%d d", int(end.Sub(start).Hours()/24+1))},
		})
		// Shift the color of the next item.
		color = append([]float64(nil), color...)
		for i := range color {
			if color[i] -= 0.2; color[i] < 0 {
				color[i]++
			}
		}
	}
	path := filepath.Join(dir, fmt.Sprintf("catalog-%s.json", name))
	marsh, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, marsh, 0644)
}

// CheckCosmographia reads back the catalog at path and the xyzv files it
// references. It returns the number of states of every item.
func CheckCosmographia(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c CgCatalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	counts := make(map[string]int, len(c.Items))
	for _, item := range c.Items {
		if item.Trajectory == nil {
			return nil, fmt.Errorf("%s: no trajectory", item.Name)
		}
		if err := item.Trajectory.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", item.Name, err)
		}
		f, err := os.Open(filepath.Join(filepath.Dir(path), item.Trajectory.Source))
		if err != nil {
			return nil, err
		}
		states, err := ParseInterpolatedStates(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", item.Trajectory, err)
		}
		counts[item.Name] = len(states)
	}
	return counts, nil
}
