// Package behavior decides per-car intent each tick: target speed, lane
// changes and whether to take an approaching exit.
package behavior

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"trafficsim/internal/config"
	"trafficsim/internal/road"
	"trafficsim/internal/sim"
)

// ErrUnknownProfile is returned for behaviour names not in the catalog.
var ErrUnknownProfile = errors.New("unknown behavior profile")

const (
	// laneChangeClearance is added to the car length to get the along-lane
	// distance that must be clear in the candidate lane.
	laneChangeClearance = 10.0
	// exitWindowFactor scales an exit's exit_distance into the approach
	// window in which the exit decision is drawn.
	exitWindowFactor = 6.0
)

// Engine owns the behaviour side of the shared PRNG stream. It must be
// driven from a single goroutine.
type Engine struct {
	net   road.Network
	route *config.RouteConfig
	cars  *config.CarsConfig
	rng   *rand.Rand

	names       []string
	totalWeight int
}

// New builds an engine drawing from rng. The caller owns rng and may share
// it with other single-threaded consumers in a fixed order.
func New(net road.Network, route *config.RouteConfig, cars *config.CarsConfig, rng *rand.Rand) *Engine {
	e := &Engine{
		net:   net,
		route: route,
		cars:  cars,
		rng:   rng,
		names: cars.BehaviorNames(),
	}
	for _, name := range e.names {
		e.totalWeight += cars.Behavior[name].Weight
	}
	return e
}

// SelectProfile draws a behaviour name by weight.
func (e *Engine) SelectProfile() string {
	if e.totalWeight <= 0 {
		return e.names[0]
	}
	v := e.rng.IntN(e.totalWeight)
	for _, name := range e.names {
		w := e.cars.Behavior[name].Weight
		if v < w {
			return name
		}
		v -= w
	}
	return e.names[len(e.names)-1]
}

// NewBehaviorState copies the named profile into a fresh per-car state.
// now is the spawn time, which also starts the lane change cooldown.
func (e *Engine) NewBehaviorState(name string, now float64) (sim.BehaviorState, error) {
	p, ok := e.cars.Behavior[name]
	if !ok {
		return sim.BehaviorState{}, fmt.Errorf("%w %q", ErrUnknownProfile, name)
	}
	return sim.BehaviorState{
		FollowingDistanceFactor: p.FollowingDistanceFactor,
		LaneChangeFrequency:     p.LaneChangeFrequency,
		SpeedVariance:           p.SpeedVariance,
		ReactionTime:            p.ReactionTime,
		ExitProbability:         p.ExitProbability,
		LastLaneChangeTime:      now,
	}, nil
}

type decision struct {
	target     float64
	lane       int
	exitWindow string
	exitIntent bool
}

// Update decides for every car against the state as it was at the start of
// the tick, then applies the decisions. A lane change that conflicts with
// one accepted earlier in the same tick is dropped.
func (e *Engine) Update(s *sim.State) {
	cars := s.Cars()
	if len(cars) == 0 {
		return
	}
	bodies := make([]road.Body, len(cars))
	for i, c := range cars {
		bodies[i] = road.Pack(c)
	}

	decisions := make([]decision, len(cars))
	for i, c := range cars {
		decisions[i] = decision{
			target: e.targetSpeed(c),
			lane:   e.laneChange(s, c, bodies, i),
		}
		decisions[i].exitWindow, decisions[i].exitIntent = e.exitDecision(c, bodies[i])
	}

	var accepted []road.Body
	for i, c := range cars {
		d := decisions[i]
		c.Behavior.TargetSpeed = d.target
		c.ExitWindow = d.exitWindow
		c.ExitIntent = d.exitIntent
		if d.lane == 0 {
			continue
		}
		if !clearOf(e.net, bodies[i], int32(d.lane), accepted) {
			continue
		}
		c.TargetLane = d.lane
		c.LaneChangeProgress = 0
		c.Behavior.LastLaneChangeTime = s.Time
		b := bodies[i]
		b.TargetLane = int32(d.lane)
		accepted = append(accepted, b)
	}
}

// targetSpeed is the preferred speed scaled by the profile's variance and a
// normally distributed noise factor, clamped to the route's speed band.
func (e *Engine) targetSpeed(c *sim.Car) float64 {
	variance := c.Behavior.SpeedVariance
	noise := 1.0
	if variance != 1 {
		n := distuv.Normal{Mu: 1, Sigma: math.Abs(variance-1) * 0.1, Src: e.rng}
		noise = n.Rand()
	}
	rules := e.route.TrafficRules
	return math.Min(math.Max(c.PreferredSpeed*variance*noise, rules.MinSpeed), rules.SpeedLimit)
}

// laneChange returns the lane car i should move into, or 0.
func (e *Engine) laneChange(s *sim.State, c *sim.Car, bodies []road.Body, i int) int {
	freq := c.Behavior.LaneChangeFrequency
	if c.Changing() || c.Ramp != 0 || c.ExitIntent || c.MarkedForExit || freq <= 0 {
		return 0
	}
	if s.Time-c.Behavior.LastLaneChangeTime <= 60/freq {
		return 0
	}
	if e.rng.Float64() >= freq/60*s.DT {
		return 0
	}
	lanes := e.net.AdjacentLanes(bodies[i])
	var lane int32
	switch len(lanes) {
	case 0:
		return 0
	case 1:
		lane = lanes[0]
	default:
		lane = lanes[e.rng.IntN(len(lanes))]
	}

	var others []road.Body
	for j, b := range bodies {
		if j != i {
			others = append(others, b)
		}
	}
	if !clearOf(e.net, bodies[i], lane, others) {
		return 0
	}
	return int(lane)
}

// clearOf reports whether no body whose lane or target lane is `lane` lies
// within the car length plus laneChangeClearance of b.
func clearOf(net road.Network, b road.Body, lane int32, others []road.Body) bool {
	need := b.Length + laneChangeClearance
	for _, o := range others {
		if o.Lane != lane && o.TargetLane != lane {
			continue
		}
		if d, ok := net.Separation(b, o); ok && d < need {
			return false
		}
	}
	return true
}

// exitDecision draws the exit intent once per approach window. It returns
// the window the car is in, or "" outside every window.
func (e *Engine) exitDecision(c *sim.Car, b road.Body) (string, bool) {
	for _, x := range e.route.Exits {
		if x.Lane != c.CurrentLane {
			continue
		}
		d, ok := e.net.ExitDistance(b, x)
		if !ok || float64(d) >= exitWindowFactor*x.ExitDistance {
			continue
		}
		intent := c.ExitIntent
		if c.ExitWindow != x.ID && !intent {
			intent = e.rng.Float64() < c.Behavior.ExitProbability
		}
		return x.ID, intent
	}
	return "", c.ExitIntent
}
