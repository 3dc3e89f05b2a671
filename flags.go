package main

import (
	"flag"

	"trafficsim/internal/compute"
	"trafficsim/internal/config"
)

// Command-line flags for the headless driver.
var (
	routeFlag = flag.String("route", config.DefaultDonutPath, "route configuration file")
	carsFlag  = flag.String("cars", config.DefaultCarsPath, "vehicle and behaviour configuration file")

	// backendFlag selects where the physics kernel runs.
	backendFlag  = flag.String("backend", compute.BackendSequential, "compute backend: sequential or parallel")
	deviceFlag   = flag.String("device", compute.DeviceWorkers, "parallel device: workers or opencl")
	workersFlag  = flag.Int("workers", 0, "goroutines for the workers device (0 = one per CPU)")
	fallbackFlag = flag.Bool("fallback", true, "run sequentially when the parallel device cannot be created")

	// seedFlag overrides random.seed from the cars file. Negative means unset.
	seedFlag = flag.Int64("seed", -1, "PRNG seed (negative uses the cars config seed, then the clock)")

	durationFlag = flag.Float64("duration", 0, "simulated seconds to run (0 uses simulation_duration)")
	dtFlag       = flag.Float64("dt", defaultDT, "simulation time step in seconds")

	recordFlag      = flag.String("record", "", "SQLite database to record the run into")
	sampleEveryFlag = flag.Float64("sample-every", defaultSampleInterval, "simulated seconds between recorded samples")
	plotsFlag       = flag.String("plots", "", "directory to write PNG charts of the run into")

	// manualFlag and markExitFlag script operator actions as profile@seconds lists.
	manualFlag   = flag.String("manual", "", "manual spawns, e.g. aggressive@30,cautious@45")
	markExitFlag = flag.String("mark-exit", "", "exit marks, e.g. aggressive@90")

	cpuProfileFlag = flag.String("cpuprofile", "", "write a CPU profile of the run to this file")
	verboseFlag    = flag.Bool("verbose", false, "enable diagnostic log streams")
	traceFlag      = flag.Bool("trace", false, "enable per-tick trace log streams")
)
