package flightsim

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
	"github.com/spf13/viper"

	"github.com/ChristopherRabotin/flightsim/orrery"
)

// j2000JD is the Julian date of the J2000 epoch.
const j2000JD = 2451545.0

// TimeToJ2000 returns the seconds elapsed between J2000 and t. The
// difference between UTC and TDB (about a minute) is not accounted for.
func TimeToJ2000(t time.Time) float64 {
	return (julian.TimeToJD(t.UTC()) - j2000JD) * 86400
}

// J2000ToJD converts seconds past J2000 to a Julian date.
func J2000ToJD(t float64) float64 {
	return j2000JD + t/86400
}

// J2000ToTime converts seconds past J2000 to a UTC time.
func J2000ToTime(t float64) time.Time {
	return julian.JDToTime(J2000ToJD(t)).UTC()
}

// Scenario is everything needed to run a simulation.
type Scenario struct {
	Name       string
	Start, End float64 // seconds past J2000
	Step       float64 // seconds, zero for the configured default
	Bodies     []orrery.BodyID
	Kernels    []KernelToken
	Ships      []*Ship
}

type rawScenario struct {
	Name   string
	Start  interface{}
	End    interface{}
	Step   interface{}
	Bodies []interface{}
}

type rawKernel struct {
	Bodies []interface{}
	Path   string
}

type rawCommand struct {
	At     interface{}
	For    interface{} `mapstructure:"for"`
	Cmd    string
	Params []interface{}
}

type rawShip struct {
	Name   string
	ID     int
	MaxAcc float64 `mapstructure:"max_acc"`
	Fuel   float64
	Plan   []rawCommand
}

// LoadScenario reads a TOML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScenario, err)
	}
	return scenarioFrom(v)
}

// ParseScenario reads a TOML scenario.
func ParseScenario(r io.Reader) (*Scenario, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScenario, err)
	}
	return scenarioFrom(v)
}

func scenarioFrom(v *viper.Viper) (*Scenario, error) {
	var (
		raw     rawScenario
		kernels []rawKernel
		ships   []rawShip
	)
	for key, dst := range map[string]interface{}{"scenario": &raw, "kernel": &kernels, "ship": &ships} {
		if err := v.UnmarshalKey(key, dst); err != nil {
			return nil, fmt.Errorf("%w: [%s]: %s", ErrScenario, key, err)
		}
	}
	if raw.Start == nil || raw.End == nil {
		return nil, fmt.Errorf("%w: start and end are required", ErrScenario)
	}
	sc := &Scenario{Name: raw.Name}
	var err error
	if sc.Start, err = parseTime(raw.Start, 0); err != nil {
		return nil, fmt.Errorf("%w: start: %s", ErrScenario, err)
	}
	if sc.End, err = parseTime(raw.End, sc.Start); err != nil {
		return nil, fmt.Errorf("%w: end: %s", ErrScenario, err)
	}
	if raw.Step != nil {
		if sc.Step, err = parseDuration(raw.Step); err != nil {
			return nil, fmt.Errorf("%w: step: %s", ErrScenario, err)
		}
	}
	if sc.Bodies, err = parseBodies(raw.Bodies); err != nil {
		return nil, fmt.Errorf("%w: bodies: %s", ErrScenario, err)
	}
	for i, k := range kernels {
		ids, err := parseBodies(k.Bodies)
		if err != nil {
			return nil, fmt.Errorf("%w: kernel %d: %s", ErrScenario, i, err)
		}
		if k.Path == "" {
			return nil, fmt.Errorf("%w: kernel %d has no path", ErrScenario, i)
		}
		sc.Kernels = append(sc.Kernels, KernelToken{Bodies: ids, Path: k.Path})
	}
	for i, rs := range ships {
		if rs.Name == "" {
			rs.Name = fmt.Sprintf("ship%d", i+1)
		}
		tokens := make([]CommandToken, len(rs.Plan))
		for k, rc := range rs.Plan {
			tok, err := commandToken(rc, sc.Start)
			if err != nil {
				return nil, fmt.Errorf("%w: ship %s: plan line %d: %s", ErrScenario, rs.Name, k+1, err)
			}
			tokens[k] = tok
		}
		plan, err := NewPlan(tokens)
		if err != nil {
			return nil, fmt.Errorf("ship %s: %w", rs.Name, err)
		}
		sc.Ships = append(sc.Ships, NewShip(rs.Name, orrery.BodyID(rs.ID), rs.MaxAcc, rs.Fuel, plan))
	}
	return sc, nil
}

func commandToken(rc rawCommand, start float64) (CommandToken, error) {
	tok := CommandToken{At: start, Name: rc.Cmd}
	var err error
	if rc.At != nil {
		if tok.At, err = parseTime(rc.At, start); err != nil {
			return tok, fmt.Errorf("at: %s", err)
		}
	}
	if rc.For != nil {
		if tok.For, err = parseDuration(rc.For); err != nil {
			return tok, fmt.Errorf("for: %s", err)
		}
	}
	for _, p := range rc.Params {
		tok.Params = append(tok.Params, paramString(p))
	}
	// The end of a wait is a time like "at", relative to "at" if an offset.
	switch strings.ToLower(strings.TrimSpace(rc.Cmd)) {
	case "wait", "waittill":
		if len(rc.Params) > 0 {
			till, err := parseTime(rc.Params[0], tok.At)
			if err != nil {
				return tok, fmt.Errorf("%s: %s", rc.Cmd, err)
			}
			tok.Params[0] = strconv.FormatFloat(till, 'g', -1, 64)
		}
	}
	return tok, nil
}

func paramString(p interface{}) string {
	switch x := p.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	}
	return fmt.Sprint(p)
}

func parseBodies(raw []interface{}) ([]orrery.BodyID, error) {
	ids := make([]orrery.BodyID, 0, len(raw))
	for _, r := range raw {
		id, err := orrery.Resolve(paramString(r))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var timeLayouts = []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02"}

// parseTime converts a Julian date, a UTC date, or a "+duration" offset from
// ref to seconds past J2000.
func parseTime(v interface{}, ref float64) (float64, error) {
	switch x := v.(type) {
	case time.Time:
		return TimeToJ2000(x), nil
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "+") {
			d, err := parseDuration(s[1:])
			return ref + d, err
		}
		if jd, err := strconv.ParseFloat(s, 64); err == nil {
			return (jd - j2000JD) * 86400, nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return TimeToJ2000(t), nil
			}
		}
		return 0, fmt.Errorf("unrecognized time %q", s)
	}
	jd, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	return (jd - j2000JD) * 86400, nil
}

// parseDuration converts a number of seconds, a Go duration or a number of
// days suffixed by "d" to seconds.
func parseDuration(v interface{}) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return toFloat(v)
	}
	s = strings.TrimSpace(s)
	if days, found := strings.CutSuffix(s, "d"); found {
		d, err := strconv.ParseFloat(days, 64)
		return d * 86400, err
	}
	d, err := time.ParseDuration(s)
	return d.Seconds(), err
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}
