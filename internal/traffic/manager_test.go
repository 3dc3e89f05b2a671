package traffic

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"trafficsim/internal/behavior"
	"trafficsim/internal/config"
	"trafficsim/internal/physics"
	"trafficsim/internal/road"
	"trafficsim/internal/sim"
)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	net   *road.Donut
	route *config.RouteConfig
	cars  *config.CarsConfig
}

// newFixture loads the donut route with both entries effectively idle; tests
// set the intervals they need.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	route := config.MustLoadRoute(config.DefaultDonutPath)
	cars := config.MustLoadCars()
	cars.TrafficFlow.EntryIntervals = []config.EntryInterval{
		{EntryID: "north_entry", MinInterval: 1000, MaxInterval: 1000},
		{EntryID: "south_entry", MinInterval: 1000, MaxInterval: 1000},
	}
	net, err := road.New(route, cars.CollisionAvoidance)
	require.NoError(t, err)
	return &fixture{net: net.(*road.Donut), route: route, cars: cars}
}

func (f *fixture) manager(t *testing.T, seed uint64) *Manager {
	t.Helper()
	m, err := NewManager(f.net, f.route, f.cars, rand.New(rand.NewPCG(seed, seed)))
	require.NoError(t, err)
	return m
}

// car places a car on lane at angle theta (degrees) driving counter-clockwise
// at speed, with no lane changes, exit draws or speed noise.
func (f *fixture) car(lane int, deg, speed float64, profile string) *sim.Car {
	theta := deg * math.Pi / 180
	r := float64(f.net.LaneRadius(int32(lane)))
	tangent := theta + math.Pi/2
	return &sim.Car{
		Position:        r2.Vec{X: r * math.Cos(theta), Y: r * math.Sin(theta)},
		Velocity:        r2.Vec{X: speed * math.Cos(tangent), Y: speed * math.Sin(tangent)},
		Heading:         tangent,
		Length:          4.5,
		Width:           1.8,
		MaxAcceleration: 3,
		MaxDeceleration: 8,
		PreferredSpeed:  27,
		CurrentLane:     lane,
		Behavior: sim.BehaviorState{
			FollowingDistanceFactor: 1,
			SpeedVariance:           1,
			TargetSpeed:             27,
		},
		BehaviorType: profile,
		CarType:      "sedan",
	}
}

// metres converts an along-lane distance on lane into degrees.
func (f *fixture) metres(lane int, m float64) float64 {
	return m / float64(f.net.LaneRadius(int32(lane))) * 180 / math.Pi
}

func TestCapacityAndIDs(t *testing.T) {
	f := newFixture(t)
	f.cars.Simulation.TotalCars = 5
	f.cars.TrafficFlow.EntryIntervals = []config.EntryInterval{
		{EntryID: "north_entry", MinInterval: 0.1, MaxInterval: 0.3},
		{EntryID: "south_entry", MinInterval: 0.1, MaxInterval: 0.3},
	}
	m := f.manager(t, 42)
	e := physics.New(f.net)
	s := sim.NewState(0.1)

	seen := map[sim.CarID]bool{}
	var spawned uint64
	most := 0
	for i := 0; i < 1200; i++ {
		m.Update(s)
		require.NoError(t, e.Update(s))
		require.LessOrEqual(t, s.Len(), 5, "tick %d", i)
		require.Equal(t, s.Len(), s.ActiveCars)
		require.GreaterOrEqual(t, s.TotalSpawned, spawned)
		spawned = s.TotalSpawned
		most = max(most, s.Len())
		for _, c := range s.Cars() {
			seen[c.ID] = true
		}
	}
	assert.Equal(t, 5, most)
	assert.Len(t, seen, int(s.TotalSpawned))
}

// A blocked entry defers its spawn, holds back approaching traffic and
// spawns once the blocking car has moved clear.
func TestBlockedEntryDefersSpawn(t *testing.T) {
	f := newFixture(t)
	f.cars.TrafficFlow.EntryIntervals[0] = config.EntryInterval{EntryID: "north_entry", MinInterval: 0.05, MaxInterval: 0.05}
	m := f.manager(t, 1)
	e := physics.New(f.net)
	s := sim.NewState(0.1)

	// north_entry is at 90 degrees on lane 3; traffic arrives from smaller
	// angles.
	blocker := f.car(3, 90-f.metres(3, 1), 10, "normal")
	follower := f.car(2, 90-f.metres(2, 10), 10, "normal")
	s.AddCar(blocker)
	s.AddCar(follower)

	m.Update(s)
	require.Equal(t, 2, s.Len())
	require.True(t, m.Pending("north_entry"), "blocker is inside the floor")

	spawned := false
	for i := 0; i < 30 && !spawned; i++ {
		require.NoError(t, e.Update(s))
		m.Update(s)
		spawned = s.Len() == 3
	}
	require.True(t, spawned, "deferred spawn was dropped")
	assert.False(t, m.Pending("north_entry"))
	assert.Less(t, follower.Behavior.TargetSpeed, 27.0, "approaching car was held back")
	assert.Equal(t, 27.0, blocker.Behavior.TargetSpeed, "receding car is left alone")

	c := s.Cars()[2]
	assert.Equal(t, 3, c.CurrentLane)
	assert.InDelta(t, 0, c.Position.X, 1e-9)
	assert.InDelta(t, 108.75, c.Position.Y, 1e-6)
	assert.GreaterOrEqual(t, c.Speed(), 10.0)
}

func TestGapForcingDisabled(t *testing.T) {
	f := newFixture(t)
	f.cars.Spawn = &config.SpawnPolicy{GapForcing: &config.GapForcing{Enabled: ptr(false)}}
	f.cars.TrafficFlow.EntryIntervals[0] = config.EntryInterval{EntryID: "north_entry", MinInterval: 0.05, MaxInterval: 0.05}
	m := f.manager(t, 1)
	s := sim.NewState(0.1)
	approaching := f.car(3, 90-f.metres(3, 4), 10, "normal")
	s.AddCar(approaching)

	m.Update(s)
	assert.Equal(t, 1, s.Len())
	assert.True(t, m.Pending("north_entry"))
	assert.Equal(t, 27.0, approaching.Behavior.TargetSpeed)
}

func TestGapForcingBrakes(t *testing.T) {
	f := newFixture(t)
	f.cars.TrafficFlow.EntryIntervals[0] = config.EntryInterval{EntryID: "north_entry", MinInterval: 0.05, MaxInterval: 0.05}
	m := f.manager(t, 1)
	s := sim.NewState(0.1)
	near := f.car(3, 90-f.metres(3, 4), 10, "normal")
	s.AddCar(near)

	m.Update(s)
	require.Equal(t, 2, s.Len(), "a car between floor and clearance does not block")
	d := 4.0 / 15
	assert.InDelta(t, 27*(0.3+0.7*d), near.Behavior.TargetSpeed, 0.05)
	assert.InDelta(t, 10-0.7*8*0.1, near.Speed(), 1e-6)
}

// A slow approaching car is held at the route minimum rather than the
// lower gap forcing default.
func TestGapForcingRespectsRouteMinSpeed(t *testing.T) {
	f := newFixture(t)
	f.cars.TrafficFlow.EntryIntervals[0] = config.EntryInterval{EntryID: "north_entry", MinInterval: 0.05, MaxInterval: 0.05}
	m := f.manager(t, 1)
	s := sim.NewState(0.1)
	near := f.car(3, 90-f.metres(3, 4), 10, "normal")
	near.PreferredSpeed = 6
	s.AddCar(near)

	m.Update(s)
	assert.Equal(t, f.route.TrafficRules.MinSpeed, near.Behavior.TargetSpeed)

	f.cars.Spawn = &config.SpawnPolicy{GapForcing: &config.GapForcing{MinSpeed: ptr(1.0)}}
	_, err := NewManager(f.net, f.route, f.cars, rand.New(rand.NewPCG(1, 1)))
	assert.ErrorContains(t, err, "gap_forcing min_speed")
}

func TestSpawnedCarFields(t *testing.T) {
	f := newFixture(t)
	f.cars.TrafficFlow.EntryIntervals[1] = config.EntryInterval{EntryID: "south_entry", MinInterval: 0.05, MaxInterval: 0.05}
	m := f.manager(t, 3)
	s := sim.NewState(0.1)
	s.Time = 12

	m.Update(s)
	require.Equal(t, 1, s.Len())
	c := s.Cars()[0]
	assert.Equal(t, sim.CarID(0), c.ID)
	assert.Equal(t, 12.0, c.SpawnTime)
	assert.Equal(t, 12.0, c.Behavior.LastLaneChangeTime)
	assert.InDelta(t, 15.6, c.Speed(), 1e-9, "default spawn speed")
	assert.Equal(t, [sim.SpeedHistoryLen]float64{15.6, 15.6, 15.6}, c.SpeedHistory)
	assert.InDelta(t, 0, c.Heading, 1e-9, "south entry heads east")
	assert.Contains(t, []string{"sedan", "sports", "truck"}, c.CarType)
	assert.Contains(t, f.cars.BehaviorNames(), c.BehaviorType)
}

func TestDespawn(t *testing.T) {
	f := newFixture(t)
	f.cars.Spawn = &config.SpawnPolicy{MaxResidency: ptr(10.0), EvictionProbability: ptr(1.0)}
	m := f.manager(t, 1)
	s := sim.NewState(0.1)
	s.Time = 5

	marked := f.car(3, 181, 10, "aggressive")
	marked.MarkedForExit = true
	intent := f.car(3, 1, 10, "normal")
	intent.ExitIntent = true
	passing := f.car(3, 2, 10, "normal")
	wrongLane := f.car(2, 180, 10, "normal")
	wrongLane.MarkedForExit = true
	old := f.car(1, 45, 10, "cautious")
	old.SpawnTime = -20
	for _, c := range []*sim.Car{marked, intent, passing, wrongLane, old} {
		s.AddCar(c)
	}

	m.Update(s)
	deps := m.TakeDepartures()
	require.Len(t, deps, 3)
	assert.Equal(t, Departure{ID: marked.ID, Time: 5, Behavior: "aggressive", CarType: "sedan", Exit: "west_exit", Reason: ReasonMarked, Residency: 5}, deps[0])
	assert.Equal(t, intent.ID, deps[1].ID)
	assert.Equal(t, ReasonIntent, deps[1].Reason)
	assert.Equal(t, "east_exit", deps[1].Exit)
	assert.Equal(t, old.ID, deps[2].ID)
	assert.Equal(t, ReasonEvicted, deps[2].Reason)
	assert.Equal(t, "", deps[2].Exit)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, uint64(5), s.TotalSpawned)
	assert.NotNil(t, s.Car(passing.ID))
	assert.NotNil(t, s.Car(wrongLane.ID))
	assert.Empty(t, m.TakeDepartures())
}

func TestSpawnManualCar(t *testing.T) {
	f := newFixture(t)
	f.cars.Simulation.TotalCars = 3
	m := f.manager(t, 1)
	s := sim.NewState(0.1)

	_, err := m.SpawnManualCar("reckless", s)
	assert.ErrorIs(t, err, behavior.ErrUnknownProfile)

	s.AddCar(f.car(3, 90, 10, "normal"))
	s.AddCar(f.car(3, 270-f.metres(3, 1), 10, "normal"))
	_, err = m.SpawnManualCar("cautious", s)
	assert.ErrorIs(t, err, ErrNoEntryAvailable)

	slow := s.Cars()[1]
	slow.Position = f.car(3, 270-f.metres(3, 10), 0, "").Position
	slow.SetSpeed(8)
	id, err := m.SpawnManualCar("cautious", s)
	require.NoError(t, err)
	c := s.Car(id)
	require.NotNil(t, c)
	assert.Equal(t, "cautious", c.BehaviorType)
	assert.Equal(t, 3, c.CurrentLane)
	assert.InDelta(t, -108.75, c.Position.Y, 1e-6, "north entry is blocked")
	assert.InDelta(t, 8, c.Speed(), 1e-9, "slowest nearby car")

	_, err = m.SpawnManualCar("normal", s)
	assert.ErrorIs(t, err, ErrCapacityReached)
}

func TestMarkCarForExit(t *testing.T) {
	f := newFixture(t)
	m := f.manager(t, 1)
	s := sim.NewState(0.1)
	s.Time = 7.5
	s.AddCar(f.car(1, 10, 10, "normal"))
	agg := f.car(1, 20, 10, "aggressive")
	s.AddCar(agg)

	assert.True(t, m.MarkCarForExit("aggressive", s))
	assert.True(t, agg.MarkedForExit)
	require.NotNil(t, agg.ExitTime)
	assert.Equal(t, 7.5, *agg.ExitTime)
	assert.False(t, m.MarkCarForExit("aggressive", s))
}

func TestDeterministicRuns(t *testing.T) {
	run := func() []Departure {
		f := newFixture(t)
		f.cars.TrafficFlow.EntryIntervals = nil
		f.cars.Simulation.SpawnRate = 2
		m := f.manager(t, 99)
		e := physics.New(f.net)
		s := sim.NewState(0.1)
		var deps []Departure
		for i := 0; i < 1500; i++ {
			m.Update(s)
			require.NoError(t, e.Update(s))
			deps = append(deps, m.TakeDepartures()...)
		}
		return deps
	}
	a, b := run(), run()
	require.NotEmpty(t, a)
	assert.Equal(t, a, b)
}

func TestLogStreams(t *testing.T) {
	var ops, diag bytes.Buffer
	SetLogWriters(&ops, &diag, nil)
	defer SetLogWriters(nil, nil, nil)

	f := newFixture(t)
	f.cars.Simulation.TotalCars = 1
	m := f.manager(t, 1)
	s := sim.NewState(0.1)
	_, err := m.SpawnManualCar("normal", s)
	require.NoError(t, err)
	_, err = m.SpawnManualCar("normal", s)
	require.Error(t, err)

	assert.Contains(t, diag.String(), "[traffic] ")
	assert.Contains(t, diag.String(), "spawned car 0")
	assert.Contains(t, ops.String(), "manual normal spawn refused")
}
