// Package compute runs simulation ticks on interchangeable backends. Every
// backend drives the same host pipeline (behaviour, spawning, despawning on
// one PRNG stream) and differs only in where the physics kernel executes.
package compute

import (
	"fmt"
	"math/rand/v2"
	"runtime"

	"trafficsim/internal/config"
	"trafficsim/internal/physics"
	"trafficsim/internal/road"
	"trafficsim/internal/sim"
	"trafficsim/internal/traffic"
)

const (
	BackendSequential = "sequential"
	BackendParallel   = "parallel"

	DeviceWorkers = "workers"
	DeviceOpenCL  = "opencl"
)

// Backend advances a simulation state one tick at a time.
type Backend interface {
	Update(s *sim.State) error
	Name() string
	SupportsParallel() bool

	SpawnManualCar(profile string, s *sim.State) (sim.CarID, error)
	MarkCarForExit(profile string, s *sim.State) bool
	// TakeDepartures returns the cars removed since the last call.
	TakeDepartures() []traffic.Departure

	Close() error
}

// Device executes the physics kernel for every body. Implementations read
// only from in and write only to out.
type Device interface {
	Name() string
	Run(in, out []road.Body, dt float32) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend string
	Device  string
	// Workers is the goroutine count for the worker device; 0 means one per CPU.
	Workers int
	Seed    uint64
	// FallbackSequential substitutes the sequential backend when the
	// parallel device cannot be created.
	FallbackSequential bool
}

// host is the part of a tick that always runs on the CPU.
type host struct {
	net     road.Network
	traffic *traffic.Manager
	physics *physics.Engine
}

func newHost(route *config.RouteConfig, cars *config.CarsConfig, seed uint64) (*host, error) {
	net, err := road.New(route, cars.CollisionAvoidance)
	if err != nil {
		return nil, fmt.Errorf("building road network: %w", err)
	}
	mgr, err := traffic.NewManager(net, route, cars, rand.New(rand.NewPCG(seed, seed)))
	if err != nil {
		return nil, fmt.Errorf("building traffic manager: %w", err)
	}
	return &host{net: net, traffic: mgr, physics: physics.New(net)}, nil
}

func (h *host) SpawnManualCar(profile string, s *sim.State) (sim.CarID, error) {
	return h.traffic.SpawnManualCar(profile, s)
}

func (h *host) MarkCarForExit(profile string, s *sim.State) bool {
	return h.traffic.MarkCarForExit(profile, s)
}

func (h *host) TakeDepartures() []traffic.Departure {
	return h.traffic.TakeDepartures()
}

// New builds the backend named in opts.
func New(route *config.RouteConfig, cars *config.CarsConfig, opts Options) (Backend, error) {
	h, err := newHost(route, cars, opts.Seed)
	if err != nil {
		return nil, err
	}
	switch opts.Backend {
	case "", BackendSequential:
		return &Sequential{host: h}, nil
	case BackendParallel:
		dev, err := newDevice(h.net, cars, opts)
		if err != nil {
			if !opts.FallbackSequential {
				return nil, fmt.Errorf("creating %s device: %w", opts.Device, err)
			}
			opsf("parallel backend unavailable, falling back to sequential: %v", err)
			return &Sequential{host: h}, nil
		}
		diagf("parallel backend using %s", dev.Name())
		return &Parallel{host: h, device: dev}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Backend)
	}
}

func newDevice(net road.Network, cars *config.CarsConfig, opts Options) (Device, error) {
	switch opts.Device {
	case "", DeviceWorkers:
		n := opts.Workers
		if n < 1 {
			n = runtime.NumCPU()
		}
		return NewWorkerDevice(net, n), nil
	case DeviceOpenCL:
		dev, err := NewOpenCLDevice(net, cars.Simulation.TotalCars)
		if err != nil {
			return nil, err
		}
		return dev, nil
	default:
		return nil, fmt.Errorf("unknown device %q", opts.Device)
	}
}

// Sequential runs the physics kernel in a plain loop on the calling goroutine.
type Sequential struct {
	*host
}

// Name reports "sequential".
func (b *Sequential) Name() string { return BackendSequential }

// SupportsParallel is false: every car is stepped in turn.
func (b *Sequential) SupportsParallel() bool { return false }

// Close is a no-op; the sequential backend holds no device.
func (b *Sequential) Close() error { return nil }

// Update runs the host phase, then one physics tick over every car.
func (b *Sequential) Update(s *sim.State) error {
	b.traffic.Update(s)
	return b.physics.Update(s)
}

// Parallel packs the cars after the host phase and runs one kernel
// invocation per car on a Device.
type Parallel struct {
	*host
	device Device
}

// Name is "parallel/" followed by the device name, e.g. parallel/workers(4).
func (b *Parallel) Name() string { return BackendParallel + "/" + b.device.Name() }

// SupportsParallel is true.
func (b *Parallel) SupportsParallel() bool { return true }

// Close releases the device.
func (b *Parallel) Close() error { return b.device.Close() }

// Update runs the host phase, then dispatches the packed cars to the device.
// An empty road skips the dispatch and only advances the clock.
func (b *Parallel) Update(s *sim.State) error {
	b.traffic.Update(s)
	in := b.physics.Pack(s)
	out := b.physics.Output(len(in))
	// An empty state still ticks so every backend shares one timeline.
	if len(in) > 0 {
		if err := b.device.Run(in, out, float32(s.DT)); err != nil {
			return fmt.Errorf("%s: %w", b.device.Name(), err)
		}
	}
	return b.physics.Apply(s, out)
}
