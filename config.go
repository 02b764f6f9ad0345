package flightsim

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ConfigEnv is the environment variable holding the directory of conf.toml.
const ConfigEnv = "FLIGHTSIM_CONFIG"

// Config is the configuration of the simulator, read once from conf.toml.
type Config struct {
	OutputPath string // trajectory files directory, empty for memory only
	KernelPath string // prefix of relative kernel paths

	LogFormat string // logfmt or json
	Verbose   bool

	Step          time.Duration // default step when the scenario has none
	Integrator    string        // euler or rk4
	Workers       int           // ships processed in parallel when > 1
	VelocityDt    time.Duration // finite difference step of body velocities
	ProgressEvery uint64        // ticks between progress logs, zero to disable

	HistoryRatio  float64
	HistoryLinear float64 // km
	FlushRecords  int

	MetricsAddress string
	FeedAddress    string
	FeedRate       float64 // frames per second per feed client
}

func configDefaults(v *viper.Viper) {
	v.SetDefault("log.format", "logfmt")
	v.SetDefault("log.verbose", false)
	v.SetDefault("sim.step", "60s")
	v.SetDefault("sim.integrator", "euler")
	v.SetDefault("sim.workers", 1)
	v.SetDefault("sim.velocity_dt", "1s")
	v.SetDefault("sim.progress", 10000)
	v.SetDefault("history.ratio", 1.0005)
	v.SetDefault("history.linear", 100.0)
	v.SetDefault("history.flush_records", 4096)
	v.SetDefault("feed.rate", 10.0)
}

// DefaultConfig returns the configuration used without a conf.toml, keeping
// trajectories in memory.
func DefaultConfig() Config {
	v := viper.New()
	configDefaults(v)
	return configFrom(v)
}

// LoadConfig reads conf.toml from dir, or from the directory named by the
// FLIGHTSIM_CONFIG environment variable if dir is empty.
func LoadConfig(dir string) (Config, error) {
	if dir == "" {
		dir = os.Getenv(ConfigEnv)
	}
	if dir == "" {
		return Config{}, fmt.Errorf("environment variable `%s` is missing or empty", ConfigEnv)
	}
	v := viper.New()
	configDefaults(v)
	v.SetConfigName("conf")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("%s/conf.toml: %w", dir, err)
	}
	cfg := configFrom(v)
	if cfg.OutputPath == "" {
		return cfg, fmt.Errorf("%w: general.output_path is required", ErrOutputDir)
	}
	return cfg, cfg.validate()
}

func configFrom(v *viper.Viper) Config {
	return Config{
		OutputPath:     v.GetString("general.output_path"),
		KernelPath:     v.GetString("general.kernel_path"),
		LogFormat:      v.GetString("log.format"),
		Verbose:        v.GetBool("log.verbose"),
		Step:           v.GetDuration("sim.step"),
		Integrator:     v.GetString("sim.integrator"),
		Workers:        v.GetInt("sim.workers"),
		VelocityDt:     v.GetDuration("sim.velocity_dt"),
		ProgressEvery:  v.GetUint64("sim.progress"),
		HistoryRatio:   v.GetFloat64("history.ratio"),
		HistoryLinear:  v.GetFloat64("history.linear"),
		FlushRecords:   v.GetInt("history.flush_records"),
		MetricsAddress: v.GetString("metrics.address"),
		FeedAddress:    v.GetString("feed.address"),
		FeedRate:       v.GetFloat64("feed.rate"),
	}
}

func (c Config) validate() error {
	var errs []error
	if c.Step <= 0 {
		errs = append(errs, fmt.Errorf("sim.step must be positive, got %s", c.Step))
	}
	if c.VelocityDt <= 0 {
		errs = append(errs, fmt.Errorf("sim.velocity_dt must be positive, got %s", c.VelocityDt))
	}
	if c.HistoryRatio < 1 {
		errs = append(errs, fmt.Errorf("history.ratio must be at least 1, got %g", c.HistoryRatio))
	}
	switch c.LogFormat {
	case "logfmt", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be logfmt or json, got %q", c.LogFormat))
	}
	switch c.Integrator {
	case "euler", "rk4":
	default:
		errs = append(errs, fmt.Errorf("sim.integrator must be euler or rk4, got %q", c.Integrator))
	}
	return errors.Join(errs...)
}
