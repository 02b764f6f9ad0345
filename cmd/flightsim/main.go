package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChristopherRabotin/flightsim"
)

// Runs a scenario to its end. SIGINT stops the simulation at the next tick
// boundary, SIGHUP reloads the scenario file and restarts with it.

var (
	confDir  string
	scenario string
)

func init() {
	flag.StringVar(&confDir, "config", "", "directory of conf.toml (defaults to $"+flightsim.ConfigEnv+")")
	flag.StringVar(&scenario, "scenario", "", "scenario TOML file")
}

func main() {
	flag.Parse()
	if scenario == "" {
		fmt.Fprintln(os.Stderr, "no scenario provided")
		flag.Usage()
		os.Exit(2)
	}
	cfg, err := flightsim.LoadConfig(confDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %s\n", err)
		os.Exit(1)
	}
	logger := flightsim.NewLogger(os.Stderr, cfg.LogFormat, cfg.Verbose)
	if err := run(cfg, logger); err != nil {
		logger.Log("level", "critical", "err", err)
		os.Exit(1)
	}
}

func run(cfg flightsim.Config, logger kitlog.Logger) error {
	sc, err := flightsim.LoadScenario(scenario)
	if err != nil {
		return err
	}
	sim, err := flightsim.NewSimulator(cfg, logger)
	if err != nil {
		return err
	}
	defer sim.Close()

	var servers []*http.Server
	if cfg.MetricsAddress != "" {
		if err := flightsim.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, serve(cfg.MetricsAddress, mux, logger))
	}
	if cfg.FeedAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/feed", newFeed(sim.History(), cfg.FeedRate, logger))
		servers = append(servers, serve(cfg.FeedAddress, mux, logger))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			srv.Shutdown(ctx)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			next, err := flightsim.LoadScenario(scenario)
			if err == nil {
				err = sim.Restart(next)
			}
			if err != nil {
				logger.Log("level", "error", "status", "restart refused", "scenario", scenario, "err", err)
				continue
			}
			logger.Log("level", "notice", "status", "restart requested", "scenario", next.Name)
		}
	}()

	if err := sim.Load(sc); err != nil {
		return err
	}
	return sim.Run(ctx)
}

func serve(addr string, h http.Handler, logger kitlog.Logger) *http.Server {
	srv := &http.Server{Addr: addr, Handler: h}
	go func() {
		logger.Log("level", "info", "status", "listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log("level", "error", "addr", addr, "err", err)
		}
	}()
	return srv
}
