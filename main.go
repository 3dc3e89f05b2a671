package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"runtime"
	"time"

	"trafficsim/internal/compute"
	"trafficsim/internal/config"
	"trafficsim/internal/monitor"
	"trafficsim/internal/monitoring"
	"trafficsim/internal/sim"
	"trafficsim/internal/traffic"
)

// runConfig is everything one headless run needs, resolved from the flags and
// the configuration files.
type runConfig struct {
	route    *config.RouteConfig
	cars     *config.CarsConfig
	opts     compute.Options
	duration float64
	dt       float64

	sampleEvery float64
	recordPath  string
	plotDir     string
	cpuProfile  string
	actions     []action
}

// runResult summarises a finished run.
type runResult struct {
	Backend    string
	Final      sim.Snapshot
	Departures map[traffic.Reason]int
	RunID      string
	Plots      int
	Profile    string
}

func main() {
	flag.Parse()
	runtime.GOMAXPROCS(runtime.NumCPU())
	configureLogging(*verboseFlag, *traceFlag)

	cfg, err := configFromFlags()
	if err != nil {
		log.Fatal(err)
	}
	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

// run simulates cfg and logs a summary of the outcome.
func run(cfg runConfig) error {
	res, err := simulate(cfg)
	if err != nil {
		return err
	}
	monitoring.Logf("finished on %s: t=%.1fs, %d spawned, %d active, mean speed %.2f m/s, departures %v",
		res.Backend, res.Final.Time, res.Final.TotalSpawned, res.Final.ActiveCars, res.Final.MeanSpeed, res.Departures)
	if res.RunID != "" {
		monitoring.Logf("recorded run %s to %s", res.RunID, cfg.recordPath)
	}
	if res.Plots > 0 {
		monitoring.Logf("wrote %d plots to %s", res.Plots, cfg.plotDir)
	}
	if res.Profile != "" {
		monitoring.Logf("wrote CPU profile to %s", res.Profile)
	}
	return nil
}

// configureLogging routes the package log streams. Ops messages always reach
// stderr; diag and trace are opt-in.
func configureLogging(verbose, trace bool) {
	var diag, tr io.Writer
	if verbose || trace {
		diag = os.Stderr
	}
	if trace {
		tr = os.Stderr
	}
	traffic.SetLogWriters(os.Stderr, diag, tr)
	compute.SetLogWriters(os.Stderr, diag, tr)
}

func configFromFlags() (runConfig, error) {
	route, err := config.LoadRouteConfig(*routeFlag)
	if err != nil {
		return runConfig{}, fmt.Errorf("loading route %s: %w", *routeFlag, err)
	}
	cars, err := config.LoadCarsConfig(*carsFlag)
	if err != nil {
		return runConfig{}, fmt.Errorf("loading cars %s: %w", *carsFlag, err)
	}
	if *dtFlag <= 0 {
		return runConfig{}, fmt.Errorf("-dt must be positive, got %v", *dtFlag)
	}

	spawns, err := parseActions(*manualFlag, actionSpawn, cars)
	if err != nil {
		return runConfig{}, err
	}
	marks, err := parseActions(*markExitFlag, actionMarkExit, cars)
	if err != nil {
		return runConfig{}, err
	}

	duration := *durationFlag
	if duration <= 0 {
		duration = cars.Simulation.SimulationDuration
	}
	if duration <= 0 {
		duration = defaultDuration
	}

	return runConfig{
		route: route,
		cars:  cars,
		opts: compute.Options{
			Backend:            *backendFlag,
			Device:             *deviceFlag,
			Workers:            *workersFlag,
			Seed:               resolveSeed(*seedFlag, cars.Random.Seed, time.Now),
			FallbackSequential: *fallbackFlag,
		},
		duration:    duration,
		dt:          *dtFlag,
		sampleEvery: *sampleEveryFlag,
		recordPath:  *recordFlag,
		plotDir:     *plotsFlag,
		cpuProfile:  *cpuProfileFlag,
		actions:     schedule(spawns, marks),
	}, nil
}

// resolveSeed prefers the flag, then the configured seed, then the clock.
func resolveSeed(flagSeed int64, configured *uint64, now func() time.Time) uint64 {
	if flagSeed >= 0 {
		return uint64(flagSeed)
	}
	if configured != nil {
		return *configured
	}
	return uint64(now().UnixNano())
}

// simulate runs cfg to completion, sampling into the recorder and plotter
// when they are enabled.
func simulate(cfg runConfig) (runResult, error) {
	backend, err := compute.New(cfg.route, cfg.cars, cfg.opts)
	if err != nil {
		return runResult{}, err
	}
	defer backend.Close()
	monitoring.Logf("simulating %q on %s for %.0fs (dt=%.3f, seed=%d)",
		cfg.route.Name, backend.Name(), cfg.duration, cfg.dt, cfg.opts.Seed)

	res := runResult{Backend: backend.Name(), Departures: make(map[traffic.Reason]int)}

	var rec *monitor.Recorder
	if cfg.recordPath != "" {
		rec, err = monitor.NewRecorder(cfg.recordPath, monitor.RunInfo{
			Route:   cfg.route.Name,
			Backend: backend.Name(),
			Seed:    cfg.opts.Seed,
			DT:      cfg.dt,
		})
		if err != nil {
			return res, fmt.Errorf("opening recorder: %w", err)
		}
		defer rec.Close()
		res.RunID = rec.RunID()
	}
	var plots *monitor.SpeedPlotter
	if cfg.plotDir != "" {
		plots = monitor.NewSpeedPlotter()
	}

	var prof *cpuProfile
	if cfg.cpuProfile != "" {
		path := profilePath(cfg.cpuProfile, cfg.route.Name, backend.Name(), cfg.opts.Seed)
		if prof, err = startCPUProfile(path); err != nil {
			return res, fmt.Errorf("starting CPU profile: %w", err)
		}
		defer prof.Stop()
		res.Profile = path
	}

	s := sim.NewState(cfg.dt)
	ticks := int(math.Round(cfg.duration / cfg.dt))
	sampleTicks := max(1, int(math.Round(cfg.sampleEvery/cfg.dt)))
	progressTicks := max(1, int(math.Round(progressInterval/cfg.dt)))
	pending := cfg.actions

	sample := func() error {
		snap := s.Snapshot()
		if plots != nil {
			plots.Sample(snap)
		}
		if rec != nil {
			return rec.RecordSample(snap)
		}
		return nil
	}

	if err := sample(); err != nil {
		return res, err
	}
	for tick := 1; tick <= ticks; tick++ {
		pending = fire(pending, backend, s)
		if err := backend.Update(s); err != nil {
			return res, fmt.Errorf("tick %d: %w", tick, err)
		}
		departures := backend.TakeDepartures()
		for _, d := range departures {
			res.Departures[d.Reason]++
		}
		if rec != nil {
			if err := rec.RecordDepartures(departures); err != nil {
				return res, err
			}
		}
		if tick%sampleTicks == 0 {
			if err := sample(); err != nil {
				return res, err
			}
		}
		if tick%progressTicks == 0 {
			monitoring.Logf("t=%.0fs active=%d spawned=%d mean=%.1f m/s",
				s.Time, s.ActiveCars, s.TotalSpawned, s.MeanSpeed())
		}
	}

	if prof != nil {
		if err := prof.Stop(); err != nil {
			return res, fmt.Errorf("writing CPU profile: %w", err)
		}
	}

	res.Final = s.Snapshot()
	if rec != nil {
		if err := rec.Finish(res.Final); err != nil {
			return res, fmt.Errorf("finishing run: %w", err)
		}
	}
	if plots != nil {
		n, err := plots.GeneratePlots(cfg.plotDir)
		if err != nil {
			return res, fmt.Errorf("generating plots: %w", err)
		}
		res.Plots = n
	}
	return res, nil
}
