package behavior

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"trafficsim/internal/config"
	"trafficsim/internal/road"
	"trafficsim/internal/sim"
)

type fixture struct {
	net   *road.Donut
	route *config.RouteConfig
	cars  *config.CarsConfig
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	route := config.MustLoadRoute(config.DefaultDonutPath)
	cars := config.MustLoadCars()
	net, err := road.New(route, cars.CollisionAvoidance)
	require.NoError(t, err)
	return fixture{net: net.(*road.Donut), route: route, cars: cars}
}

func (f fixture) engine(seed uint64) *Engine {
	return New(f.net, f.route, f.cars, rand.New(rand.NewPCG(seed, seed)))
}

// car places a quiet car on lane at angle theta: no lane changes, no exits,
// no speed noise.
func (f fixture) car(lane int, theta float64) *sim.Car {
	r := float64(f.net.LaneRadius(int32(lane)))
	return &sim.Car{
		Position:       r2.Vec{X: r * math.Cos(theta), Y: r * math.Sin(theta)},
		Velocity:       r2.Vec{X: -20 * math.Sin(theta), Y: 20 * math.Cos(theta)},
		Length:         4.5,
		PreferredSpeed: 27,
		CurrentLane:    lane,
		Behavior: sim.BehaviorState{
			FollowingDistanceFactor: 1,
			SpeedVariance:           1,
			LastLaneChangeTime:      -100,
		},
		BehaviorType: "normal",
	}
}

func TestSelectProfile(t *testing.T) {
	f := newFixture(t)
	a, b := f.engine(7), f.engine(7)

	counts := map[string]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		name := a.SelectProfile()
		require.Equal(t, name, b.SelectProfile(), "draw %d", i)
		counts[name]++
	}
	for name, p := range f.cars.Behavior {
		assert.InDelta(t, float64(p.Weight)/100, float64(counts[name])/n, 0.02, name)
	}
}

func TestNewBehaviorState(t *testing.T) {
	f := newFixture(t)
	e := f.engine(1)

	_, err := e.NewBehaviorState("reckless", 0)
	assert.ErrorIs(t, err, ErrUnknownProfile)

	st, err := e.NewBehaviorState("aggressive", 12.5)
	require.NoError(t, err)
	p := f.cars.Behavior["aggressive"]
	assert.Equal(t, sim.BehaviorState{
		FollowingDistanceFactor: p.FollowingDistanceFactor,
		LaneChangeFrequency:     p.LaneChangeFrequency,
		SpeedVariance:           p.SpeedVariance,
		ReactionTime:            p.ReactionTime,
		ExitProbability:         p.ExitProbability,
		LastLaneChangeTime:      12.5,
	}, st)
}

func TestTargetSpeed(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewPCG(3, 3))
	ref := rand.New(rand.NewPCG(3, 3))
	e := New(f.net, f.route, f.cars, rng)

	s := sim.NewState(0.1)
	c := f.car(1, 0)
	s.AddCar(c)
	e.Update(s)
	assert.Equal(t, 27.0, c.Behavior.TargetSpeed)
	assert.Equal(t, ref.Uint64(), rng.Uint64(), "variance 1 draws nothing")

	c.PreferredSpeed = 50
	e.Update(s)
	assert.Equal(t, 30.0, c.Behavior.TargetSpeed, "clamped to the speed limit")

	c.PreferredSpeed = 20
	c.Behavior.SpeedVariance = 1.15
	var sum float64
	const n = 2000
	for i := 0; i < n; i++ {
		e.Update(s)
		sum += c.Behavior.TargetSpeed
	}
	assert.InDelta(t, 20*1.15, sum/n, 0.2)
}

func TestLaneChangeSafety(t *testing.T) {
	f := newFixture(t)
	e := f.engine(11)
	s := sim.NewState(0.1)

	mover := f.car(2, 0)
	mover.Behavior.LaneChangeFrequency = 6000
	s.AddCar(mover)
	left := f.car(1, 0.02)
	right := f.car(3, -0.02)
	s.AddCar(left)
	s.AddCar(right)

	for i := 0; i < 20; i++ {
		e.Update(s)
		require.False(t, mover.Changing(), "both neighbours are alongside")
	}

	s.Time = 5
	left.Position = r2.Scale(-1, left.Position)
	right.Position = r2.Scale(-1, right.Position)
	e.Update(s)
	require.True(t, mover.Changing())
	assert.Contains(t, []int{1, 3}, mover.TargetLane)
	assert.Equal(t, 0.0, mover.LaneChangeProgress)
	assert.Equal(t, 5.0, mover.Behavior.LastLaneChangeTime)

	// A pending change is never replaced, and the cooldown holds.
	target := mover.TargetLane
	e.Update(s)
	assert.Equal(t, target, mover.TargetLane)
}

func TestLaneChangeConflictWithinTick(t *testing.T) {
	f := newFixture(t)
	e := f.engine(5)
	s := sim.NewState(0.1)

	first := f.car(1, 0)
	second := f.car(3, 0.01)
	first.Behavior.LaneChangeFrequency = 6000
	second.Behavior.LaneChangeFrequency = 6000
	s.AddCar(first)
	s.AddCar(second)

	e.Update(s)
	assert.Equal(t, 2, first.TargetLane)
	assert.False(t, second.Changing(), "lane 2 was claimed earlier in the tick")
}

func TestNoLaneChangeWhileExiting(t *testing.T) {
	f := newFixture(t)
	e := f.engine(5)
	s := sim.NewState(0.1)

	c := f.car(2, 1)
	c.Behavior.LaneChangeFrequency = 6000
	c.MarkedForExit = true
	s.AddCar(c)
	e.Update(s)
	assert.False(t, c.Changing())

	c.MarkedForExit = false
	c.Behavior.LaneChangeFrequency = 0
	e.Update(s)
	assert.False(t, c.Changing())
}

func TestExitIntent(t *testing.T) {
	f := newFixture(t)
	e := f.engine(9)
	s := sim.NewState(0.1)

	// west_exit sits at 180 degrees on lane 3 with a 60 m window.
	c := f.car(3, 170*math.Pi/180)
	c.Behavior.ExitProbability = 0
	s.AddCar(c)

	e.Update(s)
	assert.Equal(t, "west_exit", c.ExitWindow)
	assert.False(t, c.ExitIntent)

	c.Behavior.ExitProbability = 1
	e.Update(s)
	assert.False(t, c.ExitIntent, "one draw per approach")

	c.Position = r2.Vec{X: 0, Y: 108.75}
	e.Update(s)
	assert.Equal(t, "", c.ExitWindow)

	c.Position = r2.Vec{X: 0, Y: -108.75}
	e.Update(s)
	assert.Equal(t, "", c.ExitWindow, "south is outside both windows")

	c.Position = r2.Vec{X: 108.75 * math.Cos(0.2), Y: 108.75 * math.Sin(0.2)}
	e.Update(s)
	assert.Equal(t, "east_exit", c.ExitWindow)
	assert.True(t, c.ExitIntent)

	other := f.car(1, 0.2)
	other.Behavior.ExitProbability = 1
	s.AddCar(other)
	e.Update(s)
	assert.False(t, other.ExitIntent, "exit lane does not match")
}

func TestDeterministicUpdates(t *testing.T) {
	f := newFixture(t)
	run := func() []sim.BehaviorState {
		e := f.engine(42)
		s := sim.NewState(0.1)
		for i := 0; i < 9; i++ {
			c := f.car(1+i%3, float64(i)*0.7)
			name := e.SelectProfile()
			st, err := e.NewBehaviorState(name, -100)
			require.NoError(t, err)
			c.Behavior = st
			c.BehaviorType = name
			s.AddCar(c)
		}
		for i := 0; i < 300; i++ {
			e.Update(s)
			s.Advance()
		}
		var out []sim.BehaviorState
		for _, c := range s.Cars() {
			out = append(out, c.Behavior)
		}
		return out
	}
	assert.Equal(t, run(), run())
}
