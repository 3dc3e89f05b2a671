// Package traffic owns the car lifecycle: it runs the behaviour engine, spawns
// cars at entry points and removes them at exits.
package traffic

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"

	"trafficsim/internal/behavior"
	"trafficsim/internal/config"
	"trafficsim/internal/road"
	"trafficsim/internal/sim"
)

var (
	// ErrNoEntryAvailable is returned by SpawnManualCar when every entry is
	// congested.
	ErrNoEntryAvailable = errors.New("no entry available")
	// ErrCapacityReached is returned by SpawnManualCar at total_cars.
	ErrCapacityReached = errors.New("car capacity reached")
)

// Reason records why a car left the simulation.
type Reason string

const (
	ReasonMarked  Reason = "marked"
	ReasonIntent  Reason = "intent"
	ReasonEvicted Reason = "evicted"
)

// Departure is one removed car.
type Departure struct {
	ID        sim.CarID
	Time      float64
	Behavior  string
	CarType   string
	Exit      string // empty for evictions
	Reason    Reason
	Residency float64
}

type entry struct {
	point   config.EntryPoint
	pose    road.Pose
	timer   float64
	pending bool
}

// Manager drives behaviour, spawning and despawning in that order. It shares
// one PRNG with the behaviour engine and must be driven from a single
// goroutine.
type Manager struct {
	net      road.Network
	route    *config.RouteConfig
	cars     *config.CarsConfig
	policy   *config.SpawnPolicy
	behavior *behavior.Engine
	rng      *rand.Rand

	entries    []entry
	departures []Departure
}

// NewManager resolves every entry pose and draws the initial spawn timers in
// entry order.
func NewManager(net road.Network, route *config.RouteConfig, cars *config.CarsConfig, rng *rand.Rand) (*Manager, error) {
	if err := cars.Spawn.CheckRoute(route.TrafficRules); err != nil {
		return nil, err
	}
	m := &Manager{
		net:      net,
		route:    route,
		cars:     cars,
		policy:   cars.Spawn,
		behavior: behavior.New(net, route, cars, rng),
		rng:      rng,
	}
	for _, e := range route.Entries {
		pose, err := net.EntryPose(e)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		m.entries = append(m.entries, entry{
			point: e,
			pose:  pose,
			timer: m.interval(e.ID),
		})
	}
	return m, nil
}

// Behavior exposes the behaviour engine sharing this manager's PRNG.
func (m *Manager) Behavior() *behavior.Engine { return m.behavior }

// interval draws the time until the next spawn at an entry.
func (m *Manager) interval(entryID string) float64 {
	ei, ok := m.cars.Interval(entryID)
	if !ok {
		return 1 / m.cars.Simulation.SpawnRate
	}
	return ei.MinInterval + m.rng.Float64()*(ei.MaxInterval-ei.MinInterval)
}

// Pending reports whether an entry has an expired timer waiting to spawn.
func (m *Manager) Pending(entryID string) bool {
	for _, e := range m.entries {
		if e.point.ID == entryID {
			return e.pending
		}
	}
	return false
}

// Update is the host side of one tick.
func (m *Manager) Update(s *sim.State) {
	m.behavior.Update(s)
	m.spawn(s)
	m.despawn(s)
}

func (m *Manager) spawn(s *sim.State) {
	limit := m.cars.Simulation.TotalCars
	for i := range m.entries {
		e := &m.entries[i]
		e.timer -= s.DT
		if e.timer <= 0 {
			e.pending = true
			e.timer = m.interval(e.point.ID)
		}
		if !e.pending || s.Len() >= limit {
			continue
		}
		if !m.clear(e, s, m.policy.GetMinClearance()) && !m.forceGap(e, s) {
			tracef("entry %s: spawn deferred at t=%.2f", e.point.ID, s.Time)
			continue
		}
		speed := m.spawnSpeed(e, s)
		if _, err := m.spawnAt(e, s, m.behavior.SelectProfile(), speed); err != nil {
			opsf("entry %s: spawn failed: %v", e.point.ID, err)
			continue
		}
		e.pending = false
	}
}

func (m *Manager) distance(e *entry, c *sim.Car) float64 {
	return r2.Norm(r2.Sub(c.Position, e.pose.Position))
}

// clear reports whether no car is within radius of the entry.
func (m *Manager) clear(e *entry, s *sim.State, radius float64) bool {
	for _, c := range s.Cars() {
		if m.distance(e, c) < radius {
			return false
		}
	}
	return true
}

// forceGap applies the gap forcing policy around a blocked entry. It slows
// approaching cars within the forcing radius and reports whether the spawn
// may go ahead, which it may not while any car is within the floor.
func (m *Manager) forceGap(e *entry, s *sim.State) bool {
	g := m.policy.GetGapForcing()
	if !g.GetEnabled() {
		return false
	}
	radius, floor := g.GetRadius(), g.GetFloor()
	minSpeed := math.Max(g.GetMinSpeed(), m.route.TrafficRules.MinSpeed)
	for _, c := range s.Cars() {
		if m.distance(e, c) < floor {
			return false
		}
	}

	slowed := 0
	for _, c := range s.Cars() {
		d := m.distance(e, c)
		if d >= radius {
			continue
		}
		// Only traffic heading towards the entry is held back.
		if r2.Dot(r2.Sub(e.pose.Position, c.Position), c.Velocity) <= 0 {
			continue
		}
		c.Behavior.TargetSpeed = math.Max(c.Behavior.TargetSpeed*(0.3+0.7*d/radius), minSpeed)
		if d < g.GetBrakeZone()*radius {
			v := c.Speed()
			dv := g.GetBrakeFraction() * c.MaxDeceleration * s.DT
			c.SetSpeed(math.Max(v-dv, math.Min(v, 1)))
		}
		slowed++
	}
	if slowed > 0 {
		diagf("entry %s: forced gap, slowed %d cars", e.point.ID, slowed)
	}
	return true
}

// nearbySpeeds collects the speeds of cars within radius of the entry.
func (m *Manager) nearbySpeeds(e *entry, s *sim.State, radius float64) []float64 {
	var speeds []float64
	for _, c := range s.Cars() {
		if m.distance(e, c) < radius {
			speeds = append(speeds, c.Speed())
		}
	}
	return speeds
}

// spawnSpeed matches the mean speed of nearby traffic.
func (m *Manager) spawnSpeed(e *entry, s *sim.State) float64 {
	p := m.policy
	hi := math.Min(p.GetSpeedMax(), m.route.TrafficRules.SpeedLimit)
	speeds := m.nearbySpeeds(e, s, p.GetSpeedCheckRadius())
	if len(speeds) == 0 {
		return math.Min(p.GetDefaultSpeed(), hi)
	}
	return math.Min(math.Max(stat.Mean(speeds, nil), p.GetSpeedMin()), hi)
}

// manualSpeed uses the slowest nearby car so a manual spawn never enters
// faster than the traffic around it.
func (m *Manager) manualSpeed(e *entry, s *sim.State) float64 {
	p := m.policy
	speeds := m.nearbySpeeds(e, s, p.GetManualCheckRadius())
	if len(speeds) == 0 {
		return math.Min(p.GetDefaultSpeed(), p.GetManualSpeedMax())
	}
	lo := speeds[0]
	for _, v := range speeds[1:] {
		lo = math.Min(lo, v)
	}
	return math.Min(math.Max(lo, p.GetManualSpeedMin()), p.GetManualSpeedMax())
}

// selectCarType draws a car type by weight in catalog order.
func (m *Manager) selectCarType() config.CarType {
	types := m.cars.CarTypes
	total := 0
	for _, ct := range types {
		total += ct.Weight
	}
	if total <= 0 {
		return types[0]
	}
	v := m.rng.IntN(total)
	for _, ct := range types {
		if v < ct.Weight {
			return ct
		}
		v -= ct.Weight
	}
	return types[len(types)-1]
}

func (m *Manager) spawnAt(e *entry, s *sim.State, profile string, speed float64) (sim.CarID, error) {
	ct := m.selectCarType()
	st, err := m.behavior.NewBehaviorState(profile, s.Time)
	if err != nil {
		return 0, err
	}
	st.TargetSpeed = math.Min(ct.PreferredSpeed, m.route.TrafficRules.SpeedLimit)

	c := &sim.Car{
		Position:        e.pose.Position,
		Velocity:        r2.Scale(speed, e.pose.Direction),
		Heading:         e.pose.Heading,
		Length:          ct.Length,
		Width:           ct.Width,
		MaxAcceleration: ct.MaxAcceleration,
		MaxDeceleration: ct.MaxDeceleration,
		PreferredSpeed:  ct.PreferredSpeed,
		CurrentLane:     e.point.Lane,
		Ramp:            e.pose.Ramp,
		RampTravel:      e.pose.RampTravel,
		Behavior:        st,
		BehaviorType:    profile,
		CarType:         ct.ID,
		SpawnTime:       s.Time,
	}
	for i := range c.SpeedHistory {
		c.SpeedHistory[i] = speed
	}
	id := s.AddCar(c)
	diagf("spawned car %d (%s, %s) at %s, %.1f m/s", id, ct.ID, profile, e.point.ID, speed)
	return id, nil
}

// SpawnManualCar adds a car with the given profile at the first entry that
// passes the permissive clearance check.
func (m *Manager) SpawnManualCar(profile string, s *sim.State) (sim.CarID, error) {
	if _, err := m.behavior.NewBehaviorState(profile, s.Time); err != nil {
		return 0, err
	}
	if s.Len() >= m.cars.Simulation.TotalCars {
		opsf("manual %s spawn refused: %d cars active", profile, s.Len())
		return 0, fmt.Errorf("%d cars active: %w", s.Len(), ErrCapacityReached)
	}
	for i := range m.entries {
		e := &m.entries[i]
		if !m.clear(e, s, m.policy.GetPermissiveClearance()) {
			continue
		}
		return m.spawnAt(e, s, profile, m.manualSpeed(e, s))
	}
	opsf("manual %s spawn refused: every entry is congested", profile)
	return 0, ErrNoEntryAvailable
}

// MarkCarForExit flags the first unflagged car with the profile so it leaves
// at the next exit on its lane.
func (m *Manager) MarkCarForExit(profile string, s *sim.State) bool {
	ok := s.MarkCarForExit(profile)
	if ok {
		diagf("marked a %s car for exit at t=%.2f", profile, s.Time)
	}
	return ok
}

// atExit returns the exit the car is within exit_distance of, on its lane.
func (m *Manager) atExit(c *sim.Car) (string, bool) {
	b := road.Pack(c)
	for _, x := range m.route.Exits {
		if x.Lane != c.CurrentLane {
			continue
		}
		if d, ok := m.net.ExitDistance(b, x); ok && float64(d) < x.ExitDistance {
			return x.ID, true
		}
	}
	return "", false
}

func (m *Manager) despawn(s *sim.State) {
	maxResidency := m.policy.GetMaxResidency()
	evict := m.policy.GetEvictionProbability()

	var gone []Departure
	for _, c := range s.Cars() {
		d := Departure{
			ID:        c.ID,
			Time:      s.Time,
			Behavior:  c.BehaviorType,
			CarType:   c.CarType,
			Residency: s.Time - c.SpawnTime,
		}
		if exit, ok := m.atExit(c); ok && (c.MarkedForExit || c.ExitIntent) {
			d.Exit = exit
			d.Reason = ReasonIntent
			if c.MarkedForExit {
				d.Reason = ReasonMarked
			}
		} else if d.Residency > maxResidency && m.rng.Float64() < evict {
			d.Reason = ReasonEvicted
		} else {
			continue
		}
		gone = append(gone, d)
	}

	for _, d := range gone {
		s.RemoveCar(d.ID)
		diagf("car %d left (%s) at %q after %.1fs", d.ID, d.Reason, d.Exit, d.Residency)
	}
	m.departures = append(m.departures, gone...)
}

// TakeDepartures returns the departures since the last call.
func (m *Manager) TakeDepartures() []Departure {
	d := m.departures
	m.departures = nil
	return d
}
