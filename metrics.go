package flightsim

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsim_ticks_total",
			Help: "Total number of simulation ticks.",
		},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flightsim_tick_duration_seconds",
			Help:    "Wall clock duration of a simulation tick.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		},
	)

	simTimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flightsim_sim_time_seconds",
			Help: "Current simulation time in seconds past J2000.",
		},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightsim_events_total",
			Help: "Total number of flight plan events.",
		},
		[]string{"kind"},
	)

	clampedAccel = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightsim_accel_clamped_total",
			Help: "Total number of commanded accelerations clamped to the ship maximum.",
		},
	)

	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightsim_orrery_loads_total",
			Help: "Total number of scenario loads, by whether the orrery was reused.",
		},
		[]string{"orrery"},
	)

	historySamples = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flightsim_history_samples",
			Help: "Trajectory samples since start, by outcome.",
		},
		[]string{"outcome"},
	)
)

// RegisterMetrics registers the simulator metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{ticksTotal, tickDurationSeconds, simTimeSeconds, eventsTotal, clampedAccel, loadsTotal, historySamples} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
